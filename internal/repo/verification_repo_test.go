package repo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletgate/server/internal/db"
	"github.com/walletgate/server/internal/model"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func pending(identity, challenge string) model.NewVerification {
	return model.NewVerification{
		ExternalIdentity: identity,
		Challenge:        challenge,
		ChallengeExpiry:  base.Add(5 * time.Minute),
		CreatedAt:        base,
	}
}

// runVerificationRepoSuite exercises the VerificationRepo contract against one backend.
func runVerificationRepoSuite(t *testing.T, newRepo func(t *testing.T) VerificationRepo) {
	ctx := context.Background()

	t.Run("CreateAssignsIncreasingIDs", func(t *testing.T) {
		r := newRepo(t)
		a, err := r.Create(ctx, pending("alice", "c1"))
		require.NoError(t, err)
		b, err := r.Create(ctx, pending("bob", "c2"))
		require.NoError(t, err)

		assert.Greater(t, b.ID, a.ID)
		assert.False(t, a.Verified)
		assert.Empty(t, a.WalletAddress)
		assert.Nil(t, a.VerifiedAt)
		assert.True(t, a.ChallengeExpiry.Equal(base.Add(5*time.Minute)))
	})

	t.Run("GetByExternalIdentityReturnsNewest", func(t *testing.T) {
		r := newRepo(t)
		first, err := r.Create(ctx, pending("alice", "c1"))
		require.NoError(t, err)
		_, err = r.Create(ctx, pending("bob", "c2"))
		require.NoError(t, err)
		second, err := r.Create(ctx, pending("alice", "c3"))
		require.NoError(t, err)

		got, err := r.GetByExternalIdentity(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
		assert.Equal(t, "c3", got.Challenge)
		assert.NotEqual(t, first.ID, got.ID)
	})

	t.Run("GetByExternalIdentityNotFound", func(t *testing.T) {
		r := newRepo(t)
		_, err := r.GetByExternalIdentity(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateMergesFields", func(t *testing.T) {
		r := newRepo(t)
		rec, err := r.Create(ctx, pending("alice", "c1"))
		require.NoError(t, err)

		wallet := "addr_abcde"
		verified := true
		at := base.Add(time.Minute)
		updated, err := r.Update(ctx, rec.ID, model.VerificationPatch{
			WalletAddress: &wallet,
			Verified:      &verified,
			VerifiedAt:    &at,
		})
		require.NoError(t, err)
		assert.Equal(t, rec.ID, updated.ID)
		assert.Equal(t, "c1", updated.Challenge)
		assert.Equal(t, wallet, updated.WalletAddress)
		assert.True(t, updated.Verified)
		require.NotNil(t, updated.VerifiedAt)
		assert.True(t, updated.VerifiedAt.Equal(at))
		assert.True(t, updated.ChallengeExpiry.Equal(rec.ChallengeExpiry))

		granted := true
		updated, err = r.Update(ctx, rec.ID, model.VerificationPatch{PrivilegeGranted: &granted})
		require.NoError(t, err)
		assert.True(t, updated.PrivilegeGranted)
		assert.Equal(t, wallet, updated.WalletAddress, "untouched fields survive a second patch")

		got, err := r.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Verified)
		assert.True(t, got.PrivilegeGranted)
	})

	t.Run("UpdateMissingID", func(t *testing.T) {
		r := newRepo(t)
		verified := true
		_, err := r.Update(ctx, 4242, model.VerificationPatch{Verified: &verified})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = r.GetByID(ctx, 4242)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryVerificationRepo(t *testing.T) {
	runVerificationRepoSuite(t, func(t *testing.T) VerificationRepo {
		return NewMemoryVerificationRepo()
	})
}

func TestMemoryVerificationRepo_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryVerificationRepo()
	rec, err := r.Create(ctx, pending("alice", "c1"))
	require.NoError(t, err)

	at := base
	verified := true
	wallet := "addr"
	updated, err := r.Update(ctx, rec.ID, model.VerificationPatch{Verified: &verified, VerifiedAt: &at, WalletAddress: &wallet})
	require.NoError(t, err)

	*updated.VerifiedAt = base.Add(time.Hour)
	got, err := r.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.VerifiedAt.Equal(base))
}

func TestMemoryVerificationRepo_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryVerificationRepo()

	var wg sync.WaitGroup
	ids := make(chan int64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := r.Create(ctx, pending("alice", "c"))
			if err == nil {
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 50)

	newest, err := r.GetByExternalIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), newest.ID)
}

func TestBoltVerificationRepo(t *testing.T) {
	runVerificationRepoSuite(t, func(t *testing.T) VerificationRepo {
		bdb, err := db.OpenBolt(filepath.Join(t.TempDir(), "walletgate.db"))
		require.NoError(t, err)
		t.Cleanup(func() { bdb.Close() })

		r, err := NewBoltVerificationRepo(bdb)
		require.NoError(t, err)
		return r
	})
}

func TestPostgresVerificationRepo(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping postgres repo test")
	}

	database, err := db.Open(context.Background(), databaseURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "database open must succeed; check DATABASE_URL")
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))

	runVerificationRepoSuite(t, func(t *testing.T) VerificationRepo {
		_, err := database.Exec("TRUNCATE TABLE verifications RESTART IDENTITY")
		require.NoError(t, err)
		return NewPostgresVerificationRepo(database)
	})
}
