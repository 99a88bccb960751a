package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketObjects = []byte("objects")

// boltEntry is the envelope persisted per id: the bytes plus the
// touched_at stamp needed for delete_batch's TTL comparison.
type boltEntry struct {
	Bytes     []byte    `json:"bytes"`
	TouchedAt time.Time `json:"touched_at"`
}

// BoltStore is the default single-process Store backend: one bbolt
// bucket, JSON-encoded envelopes, a single writer serialized by
// bbolt's own file lock.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database rooted at
// dataDir/store.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	path := filepath.Join(dataDir, "store.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create objects bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(ctx context.Context, arg PutArg) error {
	return s.PutBatch(ctx, []PutArg{arg})
}

func (s *BoltStore) PutBatch(ctx context.Context, args []PutArg) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		for _, arg := range args {
			existing := b.Get([]byte(arg.ID))
			if existing != nil {
				var prev boltEntry
				if err := json.Unmarshal(existing, &prev); err == nil && prev.TouchedAt.After(arg.TouchedAt) {
					continue
				}
			}
			data, err := json.Marshal(boltEntry{Bytes: arg.Bytes, TouchedAt: arg.TouchedAt})
			if err != nil {
				return fmt.Errorf("marshal entry %s: %w", arg.ID, err)
			}
			if err := b.Put([]byte(arg.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	var found bool
	var bytesOut []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var entry boltEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("unmarshal entry %s: %w", id, err)
		}
		found = true
		bytesOut = entry.Bytes
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return bytesOut, found, nil
}

func (s *BoltStore) GetBatch(ctx context.Context, ids []string) ([][]byte, error) {
	out := make([][]byte, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		for i, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var entry boltEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("unmarshal entry %s: %w", id, err)
			}
			out[i] = entry.Bytes
		}
		return nil
	})
	return out, err
}

// TryGetCacheReference never succeeds for BoltStore: bytes live
// inside the database file, not as standalone files under a cache
// entry directory. Stores backing a checkout-capable deployment
// should pair BoltStore with the checkout engine's own cache-entry
// directory instead of relying on this fast path.
func (s *BoltStore) TryGetCacheReference(ctx context.Context, id string) (CacheReference, bool, error) {
	return CacheReference{}, false, nil
}

func (s *BoltStore) DeleteBatch(ctx context.Context, args []DeleteArg) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		for _, arg := range args {
			data := b.Get([]byte(arg.ID))
			if data == nil {
				continue
			}
			var entry boltEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("unmarshal entry %s: %w", arg.ID, err)
			}
			if arg.Now.Sub(entry.TouchedAt) > arg.TTL {
				if err := b.Delete([]byte(arg.ID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
