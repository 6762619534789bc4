package repo

import (
	"context"
	"errors"

	"github.com/walletgate/server/internal/model"
)

// ErrNotFound is returned when a requested verification does not exist
var ErrNotFound = errors.New("verification not found")

// VerificationRepo defines the interface for verification record storage.
// Implementations must be safe for concurrent use. When several records share
// an external identity, GetByExternalIdentity returns the most recently created one.
type VerificationRepo interface {
	Create(ctx context.Context, v model.NewVerification) (model.Verification, error)
	GetByID(ctx context.Context, id int64) (model.Verification, error)
	GetByExternalIdentity(ctx context.Context, identity string) (model.Verification, error)
	Update(ctx context.Context, id int64, patch model.VerificationPatch) (model.Verification, error)
}
