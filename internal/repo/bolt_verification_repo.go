package repo

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"
	jsoniter "github.com/json-iterator/go"

	"github.com/walletgate/server/internal/model"
)

const (
	bucketVerification         = "verifications"
	bucketVerificationIdentity = "verification_identity"
)

type boltVerificationRepo struct {
	db *bolt.DB
}

// NewBoltVerificationRepo creates a VerificationRepo stored in a bolt file.
// Records live in one bucket keyed by big-endian id; a second bucket maps
// each identity to the id of its newest record.
func NewBoltVerificationRepo(db *bolt.DB) (VerificationRepo, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketVerification, bucketVerificationIdentity} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %v: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &boltVerificationRepo{db: db}, nil
}

func (r *boltVerificationRepo) Create(ctx context.Context, v model.NewVerification) (rec model.Verification, err error) {
	err = r.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketVerification))
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		rec = model.Verification{
			ID:               int64(seq),
			ExternalIdentity: v.ExternalIdentity,
			WalletAddress:    v.WalletAddress,
			Verified:         v.Verified,
			Challenge:        v.Challenge,
			ChallengeExpiry:  v.ChallengeExpiry,
			CreatedAt:        v.CreatedAt,
		}
		if err := putVerification(bkt, rec); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketVerificationIdentity)).Put([]byte(rec.ExternalIdentity), idKey(rec.ID))
	})
	if err != nil {
		return model.Verification{}, fmt.Errorf("failed to create verification: %w", err)
	}
	return rec, nil
}

func (r *boltVerificationRepo) GetByID(ctx context.Context, id int64) (rec model.Verification, err error) {
	err = r.db.View(func(tx *bolt.Tx) error {
		rec, err = getVerification(tx.Bucket([]byte(bucketVerification)), idKey(id))
		return err
	})
	return rec, err
}

func (r *boltVerificationRepo) GetByExternalIdentity(ctx context.Context, identity string) (rec model.Verification, err error) {
	err = r.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(bucketVerificationIdentity)).Get([]byte(identity))
		if key == nil {
			return ErrNotFound
		}
		rec, err = getVerification(tx.Bucket([]byte(bucketVerification)), key)
		return err
	})
	return rec, err
}

func (r *boltVerificationRepo) Update(ctx context.Context, id int64, patch model.VerificationPatch) (rec model.Verification, err error) {
	err = r.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketVerification))
		rec, err = getVerification(bkt, idKey(id))
		if err != nil {
			return err
		}
		patch.Apply(&rec)
		return putVerification(bkt, rec)
	})
	return rec, err
}

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func getVerification(bkt *bolt.Bucket, key []byte) (model.Verification, error) {
	b := bkt.Get(key)
	if b == nil {
		return model.Verification{}, ErrNotFound
	}
	var v model.Verification
	if err := jsoniter.Unmarshal(b, &v); err != nil {
		return model.Verification{}, fmt.Errorf("decode verification: %w", err)
	}
	return v, nil
}

func putVerification(bkt *bolt.Bucket, v model.Verification) error {
	b, err := jsoniter.Marshal(&v)
	if err != nil {
		return fmt.Errorf("encode verification: %w", err)
	}
	return bkt.Put(idKey(v.ID), b)
}
