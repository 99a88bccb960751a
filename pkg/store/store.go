// Package store implements tangram's byte-level content-addressed
// storage (spec.md §4.2): a small put/get/delete surface that every
// backend (memory, bbolt, S3) satisfies identically, so the indexer,
// cleaner, checkout engine, and import/export pipeline can select a
// backend at startup without touching call sites.
package store

import (
	"context"
	"time"
)

// PutArg is one entry of a put_batch call: the id to write, its
// bytes, and the touched_at timestamp to stamp it with.
type PutArg struct {
	ID        string
	Bytes     []byte
	TouchedAt time.Time
}

// DeleteArg is one entry of a delete_batch call: delete ID only if it
// was last touched strictly more than TTL before Now.
type DeleteArg struct {
	ID  string
	Now time.Time
	TTL time.Duration
}

// CacheReference points at a filesystem location where an id's bytes
// are already materialized under a cache entry, letting a blob reader
// avoid copying bytes out of the store.
type CacheReference struct {
	Artifact string
	Path     string
	Position uint64
	Length   uint64
}

// Store is the capability surface every backend implements. Put is
// idempotent: backends must treat a duplicate put of the same id as a
// success, not an error. Missing entries are not an error for Get;
// callers distinguish "absent" from "error" via the returned bool.
type Store interface {
	Put(ctx context.Context, arg PutArg) error
	PutBatch(ctx context.Context, args []PutArg) error

	// Get returns the bytes stored for id and true, or nil and false
	// if id was never put or has since been evicted.
	Get(ctx context.Context, id string) ([]byte, bool, error)

	// GetBatch returns one entry per input id, preserving order; an
	// absent id's entry is nil.
	GetBatch(ctx context.Context, ids []string) ([][]byte, error)

	// TryGetCacheReference returns a CacheReference for id if its
	// bytes are materialized under a cache entry on disk, or false if
	// no such reference exists (the bytes must still be fetched via
	// Get in that case).
	TryGetCacheReference(ctx context.Context, id string) (CacheReference, bool, error)

	// DeleteBatch deletes entries matching the given args' eviction
	// criteria; each delete is atomic per id.
	DeleteBatch(ctx context.Context, args []DeleteArg) error

	Close() error
}
