package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/walletgate/server/internal/model"
)

const verificationColumns = `
	id, external_identity, wallet_address, verified, verified_at,
	challenge, challenge_expiry, privilege_granted, created_at
`

type postgresVerificationRepo struct {
	db *sql.DB
}

// NewPostgresVerificationRepo creates a VerificationRepo backed by the verifications table
func NewPostgresVerificationRepo(db *sql.DB) VerificationRepo {
	return &postgresVerificationRepo{db: db}
}

// Create inserts a new record; the id comes from the BIGSERIAL sequence
func (r *postgresVerificationRepo) Create(ctx context.Context, v model.NewVerification) (model.Verification, error) {
	query := `
		INSERT INTO verifications (external_identity, wallet_address, verified, challenge, challenge_expiry, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + verificationColumns

	rec, err := scanVerification(r.db.QueryRowContext(ctx, query,
		v.ExternalIdentity,
		v.WalletAddress,
		v.Verified,
		v.Challenge,
		v.ChallengeExpiry,
		v.CreatedAt,
	))
	if err != nil {
		return model.Verification{}, fmt.Errorf("failed to create verification: %w", err)
	}
	return rec, nil
}

// GetByID retrieves a record by id
func (r *postgresVerificationRepo) GetByID(ctx context.Context, id int64) (model.Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM verifications WHERE id = $1`

	rec, err := scanVerification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Verification{}, ErrNotFound
		}
		return model.Verification{}, fmt.Errorf("failed to query verification: %w", err)
	}
	return rec, nil
}

// GetByExternalIdentity returns the newest record for identity
func (r *postgresVerificationRepo) GetByExternalIdentity(ctx context.Context, identity string) (model.Verification, error) {
	query := `
		SELECT ` + verificationColumns + `
		FROM verifications
		WHERE external_identity = $1
		ORDER BY id DESC
		LIMIT 1
	`
	rec, err := scanVerification(r.db.QueryRowContext(ctx, query, identity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Verification{}, ErrNotFound
		}
		return model.Verification{}, fmt.Errorf("failed to query verification: %w", err)
	}
	return rec, nil
}

// Update merges the non-nil patch fields in a single statement
func (r *postgresVerificationRepo) Update(ctx context.Context, id int64, patch model.VerificationPatch) (model.Verification, error) {
	query := `
		UPDATE verifications
		SET wallet_address    = COALESCE($2, wallet_address),
		    verified          = COALESCE($3, verified),
		    verified_at       = COALESCE($4, verified_at),
		    privilege_granted = COALESCE($5, privilege_granted)
		WHERE id = $1
		RETURNING ` + verificationColumns

	rec, err := scanVerification(r.db.QueryRowContext(ctx, query,
		id,
		patch.WalletAddress,
		patch.Verified,
		patch.VerifiedAt,
		patch.PrivilegeGranted,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Verification{}, ErrNotFound
		}
		return model.Verification{}, fmt.Errorf("failed to update verification: %w", err)
	}
	return rec, nil
}

func scanVerification(row *sql.Row) (model.Verification, error) {
	var v model.Verification
	var verifiedAt sql.NullTime
	err := row.Scan(
		&v.ID,
		&v.ExternalIdentity,
		&v.WalletAddress,
		&v.Verified,
		&verifiedAt,
		&v.Challenge,
		&v.ChallengeExpiry,
		&v.PrivilegeGranted,
		&v.CreatedAt,
	)
	if err != nil {
		return model.Verification{}, err
	}
	if verifiedAt.Valid {
		at := verifiedAt.Time
		v.VerifiedAt = &at
	}
	return v, nil
}
