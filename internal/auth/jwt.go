package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/walletgate/server/internal/clock"
	"github.com/walletgate/server/internal/model"
)

const defaultReceiptTTL = 24 * time.Hour

// ErrInvalidReceipt is returned for receipts that fail signature, expiry or shape checks
var ErrInvalidReceipt = errors.New("invalid receipt")

// ReceiptClaims are the claims of a verification receipt.
// The subject is the external identity that completed verification.
type ReceiptClaims struct {
	WalletAddress  string `json:"wallet"`
	VerificationID int64  `json:"vid"`
	jwt.RegisteredClaims
}

// ReceiptService signs and verifies verification receipts (HS256)
type ReceiptService struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewReceiptService creates a receipt service. A zero ttl falls back to 24h.
func NewReceiptService(secret string, ttl time.Duration, clk clock.Clock) *ReceiptService {
	if ttl <= 0 {
		ttl = defaultReceiptTTL
	}
	return &ReceiptService{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
	}
}

// Sign issues a receipt for a verified record
func (s *ReceiptService) Sign(v model.Verification) (string, error) {
	if !v.Verified {
		return "", fmt.Errorf("verification %d is not verified", v.ID)
	}
	now := s.clock.Now()
	claims := &ReceiptClaims{
		WalletAddress:  v.WalletAddress,
		VerificationID: v.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   v.ExternalIdentity,
			ID:        strconv.FormatInt(v.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}

	return tokenString, nil
}

// Verify verifies and parses a receipt
func (s *ReceiptService) Verify(tokenString string) (*ReceiptClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ReceiptClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}

	claims, ok := token.Claims.(*ReceiptClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidReceipt
	}

	return claims, nil
}
