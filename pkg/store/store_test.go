package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	bolt, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Put(ctx, PutArg{ID: "lef_abc", Bytes: []byte("hello"), TouchedAt: now})
			assert.NoError(t, err)

			data, ok, err := s.Get(ctx, "lef_abc")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("hello"), data)
		})
	}
}

func TestStoreGetMissingIsNotError(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			data, ok, err := s.Get(ctx, "lef_nonexistent")
			assert.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, data)
		})
	}
}

func TestStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Put(ctx, PutArg{ID: "lef_a", Bytes: []byte("v1"), TouchedAt: now})
			assert.NoError(t, err)
			err = s.Put(ctx, PutArg{ID: "lef_a", Bytes: []byte("v1"), TouchedAt: now})
			assert.NoError(t, err)

			data, ok, err := s.Get(ctx, "lef_a")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("v1"), data)
		})
	}
}

func TestStoreGetBatchPreservesOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutBatch(ctx, []PutArg{
				{ID: "lef_1", Bytes: []byte("one"), TouchedAt: now},
				{ID: "lef_2", Bytes: []byte("two"), TouchedAt: now},
			}))

			results, err := s.GetBatch(ctx, []string{"lef_2", "lef_missing", "lef_1"})
			assert.NoError(t, err)
			require.Len(t, results, 3)
			assert.Equal(t, []byte("two"), results[0])
			assert.Nil(t, results[1])
			assert.Equal(t, []byte("one"), results[2])
		})
	}
}

func TestStoreDeleteBatchRespectsTTL(t *testing.T) {
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	now := time.Now()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, PutArg{ID: "lef_stale", Bytes: []byte("x"), TouchedAt: old}))
			require.NoError(t, s.Put(ctx, PutArg{ID: "lef_fresh", Bytes: []byte("y"), TouchedAt: now}))

			err := s.DeleteBatch(ctx, []DeleteArg{
				{ID: "lef_stale", Now: now, TTL: time.Minute},
				{ID: "lef_fresh", Now: now, TTL: time.Minute},
			})
			assert.NoError(t, err)

			_, ok, err := s.Get(ctx, "lef_stale")
			assert.NoError(t, err)
			assert.False(t, ok, "entry touched longer ago than ttl should be deleted")

			_, ok, err = s.Get(ctx, "lef_fresh")
			assert.NoError(t, err)
			assert.True(t, ok, "entry touched within ttl should survive")
		})
	}
}

func TestStoreTryGetCacheReferenceAbsentByDefault(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.TryGetCacheReference(ctx, "lef_abc")
			assert.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
