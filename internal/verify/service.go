// Package verify runs the wallet verification flow: Initiate issues a
// challenge for a chat identity, Complete links the wallet address and
// triggers the role grant.
//
// Completion trusts the wallet address as asserted by the wallet bridge. The
// challenge is issued and stored but never compared; it is not a proof of
// wallet ownership.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/walletgate/server/internal/clock"
	"github.com/walletgate/server/internal/grant"
	"github.com/walletgate/server/internal/model"
	"github.com/walletgate/server/internal/repo"
)

const (
	maxIdentityLength = 128
	maxWalletLength   = 256
)

var (
	ErrValidation    = errors.New("invalid verification request")
	ErrNotFound      = errors.New("no pending verification found")
	ErrExpired       = errors.New("challenge has expired")
	ErrAlreadyLinked = errors.New("verification already completed with another wallet")
	ErrIncomplete    = errors.New("verification not complete")
)

// ChallengeIssuer mints a challenge token and its expiry
type ChallengeIssuer interface {
	IssueChallenge(now time.Time) (token string, expiry time.Time, err error)
}

// Granter assigns the community role to a verified identity
type Granter interface {
	Grant(ctx context.Context, identity string) grant.Result
}

// ReceiptSigner issues a signed proof of a completed verification
type ReceiptSigner interface {
	Sign(v model.Verification) (string, error)
}

// InitiateResult is returned to the caller of Initiate
type InitiateResult struct {
	VerificationID int64
	Challenge      string
	ExpiresAt      time.Time
}

// CompleteResult is returned to the caller of a successful Complete.
// RoleAssigned false is advisory: the wallet is verified either way.
type CompleteResult struct {
	Verification model.Verification
	RoleAssigned bool
	GrantReason  string
	Message      string
	Receipt      string
}

// Service orchestrates the initiate/complete transitions
type Service struct {
	repo     repo.VerificationRepo
	issuer   ChallengeIssuer
	granter  Granter
	receipts ReceiptSigner
	clock    clock.Clock
	logger   *slog.Logger
}

// NewService creates a verification service. receipts may be nil.
func NewService(
	verificationRepo repo.VerificationRepo,
	issuer ChallengeIssuer,
	granter Granter,
	receipts ReceiptSigner,
	clk clock.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     verificationRepo,
		issuer:   issuer,
		granter:  granter,
		receipts: receipts,
		clock:    clk,
		logger:   logger,
	}
}

// Initiate issues a fresh challenge and stores a pending record for identity.
// Earlier records for the same identity are left alone; the new one supersedes them.
func (s *Service) Initiate(ctx context.Context, identity string) (*InitiateResult, error) {
	identity, err := ValidateIdentity(identity)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	challenge, expiry, err := s.issuer.IssueChallenge(now)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}

	rec, err := s.repo.Create(ctx, model.NewVerification{
		ExternalIdentity: identity,
		Challenge:        challenge,
		ChallengeExpiry:  expiry,
		CreatedAt:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store verification: %w", err)
	}

	s.logger.Info("verification initiated", "identity", identity, "verification_id", rec.ID, "expires_at", rec.ChallengeExpiry)

	return &InitiateResult{
		VerificationID: rec.ID,
		Challenge:      rec.Challenge,
		ExpiresAt:      rec.ChallengeExpiry,
	}, nil
}

// Complete links walletAddress to the newest record of identity and grants the role.
// Only validation, not-found and expiry fail the call; the grant outcome is
// reported in the result.
func (s *Service) Complete(ctx context.Context, identity, walletAddress string) (*CompleteResult, error) {
	identity, err := ValidateIdentity(identity)
	if err != nil {
		return nil, err
	}
	walletAddress, err = ValidateWalletAddress(walletAddress)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.GetByExternalIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load verification: %w", err)
	}

	now := s.clock.Now()
	if rec.Expired(now) {
		s.logger.Info("verification expired", "identity", identity, "verification_id", rec.ID)
		return nil, ErrExpired
	}

	switch {
	case rec.Verified && rec.WalletAddress != walletAddress:
		return nil, ErrAlreadyLinked
	case rec.Verified:
		s.logger.Info("verification already completed, retrying grant", "identity", identity, "verification_id", rec.ID)
	default:
		verified := true
		rec, err = s.repo.Update(ctx, rec.ID, model.VerificationPatch{
			WalletAddress: &walletAddress,
			Verified:      &verified,
			VerifiedAt:    &now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update verification: %w", err)
		}
		s.logger.Info("wallet verified", "identity", identity, "verification_id", rec.ID, "wallet", walletAddress)
	}

	if !rec.Verified || rec.VerifiedAt == nil || rec.WalletAddress == "" {
		s.logger.Error("verification not complete after update", "identity", identity, "verification_id", rec.ID)
		return nil, ErrIncomplete
	}

	// the grant is a side effect of a write that already happened; a client
	// disconnect must not cut it short
	outcome := s.granter.Grant(context.WithoutCancel(ctx), identity)
	rec = s.recordGrant(ctx, rec, outcome.Granted)

	res := &CompleteResult{
		Verification: rec,
		RoleAssigned: outcome.Granted,
		GrantReason:  outcome.Reason,
		Message:      "Verification successful and role assigned!",
	}
	if !outcome.Granted {
		res.Message = "Wallet verified, but the role could not be assigned. Please contact an administrator."
	}

	if s.receipts != nil {
		receipt, err := s.receipts.Sign(rec)
		if err != nil {
			s.logger.Warn("failed to sign receipt", "identity", identity, "error", err)
		} else {
			res.Receipt = receipt
		}
	}

	return res, nil
}

// Status returns the newest record for identity
func (s *Service) Status(ctx context.Context, identity string) (model.Verification, error) {
	identity, err := ValidateIdentity(identity)
	if err != nil {
		return model.Verification{}, err
	}
	rec, err := s.repo.GetByExternalIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Verification{}, ErrNotFound
		}
		return model.Verification{}, fmt.Errorf("failed to load verification: %w", err)
	}
	return rec, nil
}

// recordGrant mirrors the grant outcome onto the record. Failures are only logged.
func (s *Service) recordGrant(ctx context.Context, rec model.Verification, granted bool) model.Verification {
	if rec.PrivilegeGranted == granted {
		return rec
	}
	updated, err := s.repo.Update(ctx, rec.ID, model.VerificationPatch{PrivilegeGranted: &granted})
	if err != nil {
		s.logger.Warn("failed to record grant outcome", "verification_id", rec.ID, "error", err)
		rec.PrivilegeGranted = granted
		return rec
	}
	return updated
}

// ValidateIdentity trims identity and checks it is a non-empty token without spaces or control characters.
func ValidateIdentity(identity string) (string, error) {
	return validateField("externalIdentity", identity, maxIdentityLength)
}

// ValidateWalletAddress trims the address and checks its shape loosely; the
// platform side decides whether the address is meaningful.
func ValidateWalletAddress(address string) (string, error) {
	return validateField("walletAddress", address, maxWalletLength)
}

func validateField(name, value string, maxLen int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	if len(value) > maxLen {
		return "", fmt.Errorf("%w: %s is longer than %d bytes", ErrValidation, name, maxLen)
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %s contains whitespace or control characters", ErrValidation, name)
		}
	}
	return value, nil
}
