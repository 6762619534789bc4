package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	challengeBytes = 32 // 256 bits, 64 hex chars
	challengeTTL   = 5 * time.Minute
)

// ChallengeIssuer mints random, time-bounded challenge tokens
type ChallengeIssuer struct{}

// NewChallengeIssuer creates a challenge issuer
func NewChallengeIssuer() *ChallengeIssuer {
	return &ChallengeIssuer{}
}

// IssueChallenge returns a hex encoded 32 byte token from crypto/rand and its expiry (now + 5m).
// The caller passes now so the record's creation time and expiry share one instant.
func (i *ChallengeIssuer) IssueChallenge(now time.Time) (token string, expiry time.Time, err error) {
	b := make([]byte, challengeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("read random challenge: %w", err)
	}
	return hex.EncodeToString(b), now.Add(challengeTTL), nil
}

// ChallengeTTL is the fixed validity window of a challenge
func ChallengeTTL() time.Duration { return challengeTTL }
