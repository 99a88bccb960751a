package clean

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/store"
)

func newTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clean.db")
	db, err := database.OpenSQLite(ctx, path, 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, index.EnsureSchema(ctx, conn))
	return db
}

func putObject(t *testing.T, db *database.SQLiteDatabase, msg index.PutObject) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, index.ApplyBatch(ctx, conn, []index.Message{{PutObject: &msg}}))
}

func TestSweepPartitionDeletesUnreferencedObject(t *testing.T) {
	db := newTestDatabase(t)
	mem := store.NewMemoryStore()
	past := time.Now().Add(-time.Hour)
	putObject(t, db, index.PutObject{ID: "lef_orphan", BytesLen: 1, Complete: true, TouchedAt: past})

	c := New(db, mem)
	result, err := c.SweepPartition(context.Background(), index.PartitionOf("lef_orphan"), time.Now())
	require.NoError(t, err)
	assert.Contains(t, result.Objects, "lef_orphan")
}

func TestSweepPartitionCascadesDeleteToUnreferencedChild(t *testing.T) {
	db := newTestDatabase(t)
	mem := store.NewMemoryStore()
	past := time.Now().Add(-time.Hour)

	putObject(t, db, index.PutObject{ID: "lef_child", BytesLen: 1, Complete: true, TouchedAt: past})
	putObject(t, db, index.PutObject{ID: "bra_parent", Children: []string{"lef_child"}, Complete: true, TouchedAt: past})

	c := New(db, mem)
	ctx := context.Background()

	// First sweep: the parent has no references either, so it is
	// deleted and the child's reference count drops to zero.
	parentResult, err := c.SweepPartition(ctx, index.PartitionOf("bra_parent"), time.Now())
	require.NoError(t, err)
	assert.Contains(t, parentResult.Objects, "bra_parent")

	childResult, err := c.SweepPartition(ctx, index.PartitionOf("lef_child"), time.Now())
	require.NoError(t, err)
	assert.Contains(t, childResult.Objects, "lef_child")
}

func TestSweepPartitionHonorsWatermark(t *testing.T) {
	db := newTestDatabase(t)
	mem := store.NewMemoryStore()
	putObject(t, db, index.PutObject{ID: "lef_recent", BytesLen: 1, Complete: true, TouchedAt: time.Now()})

	c := New(db, mem)
	result, err := c.SweepPartition(context.Background(), index.PartitionOf("lef_recent"), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.NotContains(t, result.Objects, "lef_recent")
}

func TestRefCountCountsTagReferences(t *testing.T) {
	db := newTestDatabase(t)
	past := time.Now().Add(-time.Hour)
	putObject(t, db, index.PutObject{ID: "lef_tagged", BytesLen: 1, Complete: true, TouchedAt: past})

	ctx := context.Background()
	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	put := index.PutTag{Tag: "x/1.0.0", Item: "lef_tagged"}
	require.NoError(t, index.ApplyBatch(ctx, conn, []index.Message{{PutTag: &put}}))

	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	refs, err := refCount(ctx, tx, "object", "lef_tagged")
	require.NoError(t, err)
	assert.Equal(t, int64(1), refs)
	require.NoError(t, tx.Commit())
}
