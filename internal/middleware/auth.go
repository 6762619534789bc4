package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/walletgate/server/internal/auth"
)

type contextKey string

const receiptKey contextKey = "receipt"

// ReceiptVerifier validates verification receipts
type ReceiptVerifier interface {
	Verify(token string) (*auth.ReceiptClaims, error)
}

// ReceiptMiddleware requires a valid "Authorization: Bearer <receipt>" header and attaches its claims to the context
func ReceiptMiddleware(verifier ReceiptVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing receipt")
				return
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired receipt")
				return
			}

			ctx := context.WithValue(r.Context(), receiptKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetReceipt returns the receipt claims attached by ReceiptMiddleware
func GetReceipt(ctx context.Context) (*auth.ReceiptClaims, bool) {
	c, ok := ctx.Value(receiptKey).(*auth.ReceiptClaims)
	return c, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
