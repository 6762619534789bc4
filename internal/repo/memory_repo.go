package repo

import (
	"context"
	"sync"

	"github.com/walletgate/server/internal/model"
)

// memoryVerificationRepo keeps records in an arena indexed by id-1,
// with a secondary index from identity to the arena slot of its newest record.
type memoryVerificationRepo struct {
	mu         sync.RWMutex
	records    []model.Verification
	byIdentity map[string]int
}

// NewMemoryVerificationRepo creates an in-memory VerificationRepo that lives as long as the process
func NewMemoryVerificationRepo() VerificationRepo {
	return &memoryVerificationRepo{
		byIdentity: make(map[string]int),
	}
}

// Create appends a record and assigns the next sequential id
func (r *memoryVerificationRepo) Create(ctx context.Context, v model.NewVerification) (model.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := model.Verification{
		ID:               int64(len(r.records) + 1),
		ExternalIdentity: v.ExternalIdentity,
		WalletAddress:    v.WalletAddress,
		Verified:         v.Verified,
		Challenge:        v.Challenge,
		ChallengeExpiry:  v.ChallengeExpiry,
		CreatedAt:        v.CreatedAt,
	}
	r.records = append(r.records, rec)
	r.byIdentity[rec.ExternalIdentity] = len(r.records) - 1

	return copyVerification(rec), nil
}

// GetByID returns the record with the given id
func (r *memoryVerificationRepo) GetByID(ctx context.Context, id int64) (model.Verification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.slot(id)
	if !ok {
		return model.Verification{}, ErrNotFound
	}
	return copyVerification(r.records[idx]), nil
}

// GetByExternalIdentity returns the newest record for identity
func (r *memoryVerificationRepo) GetByExternalIdentity(ctx context.Context, identity string) (model.Verification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byIdentity[identity]
	if !ok {
		return model.Verification{}, ErrNotFound
	}
	return copyVerification(r.records[idx]), nil
}

// Update merges patch into the record with the given id
func (r *memoryVerificationRepo) Update(ctx context.Context, id int64, patch model.VerificationPatch) (model.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.slot(id)
	if !ok {
		return model.Verification{}, ErrNotFound
	}
	rec := r.records[idx]
	patch.Apply(&rec)
	r.records[idx] = rec

	return copyVerification(rec), nil
}

func (r *memoryVerificationRepo) slot(id int64) (int, bool) {
	if id < 1 || id > int64(len(r.records)) {
		return 0, false
	}
	return int(id - 1), true
}

// copyVerification detaches the VerifiedAt pointer from the arena
func copyVerification(v model.Verification) model.Verification {
	if v.VerifiedAt != nil {
		at := *v.VerifiedAt
		v.VerifiedAt = &at
	}
	return v
}
