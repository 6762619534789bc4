package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletgate/server/internal/auth"
	"github.com/walletgate/server/internal/clock"
	"github.com/walletgate/server/internal/model"
)

func TestRateLimiter_window(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(time.Minute, 2, clk)

	assert.True(t, rl.Allow("ip:1"))
	assert.True(t, rl.Allow("ip:1"))
	assert.False(t, rl.Allow("ip:1"))
	assert.True(t, rl.Allow("ip:2"), "keys are independent")

	clk.Advance(61 * time.Second)
	assert.True(t, rl.Allow("ip:1"))
}

func TestRateLimiter_cleanup(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(time.Minute, 2, clk)
	rl.Allow("ip:1")

	clk.Advance(2 * time.Minute)
	rl.Cleanup()
	assert.Empty(t, rl.requests)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1, clock.Real())
	h := RateLimit(rl, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify/initiate", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req.RemoteAddr = "10.0.0.1:6666"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "port does not change the key")
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestReceiptMiddleware(t *testing.T) {
	receipts := auth.NewReceiptService("secret", time.Hour, clock.Real())
	at := time.Now()
	token, err := receipts.Sign(model.Verification{ID: 1, ExternalIdentity: "user123", WalletAddress: "addr", Verified: true, VerifiedAt: &at})
	require.NoError(t, err)

	var got *auth.ReceiptClaims
	h := ReceiptMiddleware(receipts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetReceipt(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer  ", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/verify/receipt", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
	require.NotNil(t, got)
	assert.Equal(t, "user123", got.Subject)
}
