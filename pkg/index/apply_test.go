package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/database"
)

func newTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := database.OpenSQLite(ctx, path, 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, EnsureSchema(ctx, conn))
	return db
}

func TestDedupeKeepsLargestTouchedAt(t *testing.T) {
	early := PutObject{ID: "lef_1", BytesLen: 10, TouchedAt: time.Unix(1, 0)}
	late := PutObject{ID: "lef_1", BytesLen: 20, TouchedAt: time.Unix(2, 0)}
	out := dedupe([]Message{{PutObject: &early}, {PutObject: &late}})
	require.Len(t, out, 1)
	assert.Equal(t, int64(20), out[0].PutObject.BytesLen)
}

func TestDedupeTagPutIsLastWriteWins(t *testing.T) {
	first := PutTag{Tag: "hello", Item: "lef_1"}
	second := PutTag{Tag: "hello", Item: "lef_2"}
	out := dedupe([]Message{{PutTag: &first}, {PutTag: &second}})
	require.Len(t, out, 1)
	assert.Equal(t, "lef_2", out[0].PutTag.Item)
}

func TestTopologicalSortOrdersChildrenBeforeParents(t *testing.T) {
	child := PutObject{ID: "lef_child", TouchedAt: time.Unix(1, 0)}
	parent := PutObject{ID: "lef_parent", Children: []string{"lef_child"}, TouchedAt: time.Unix(1, 0)}
	ordered := topologicalSort([]Message{{PutObject: &parent}, {PutObject: &child}})
	require.Len(t, ordered, 2)
	assert.Equal(t, "lef_child", ordered[0].PutObject.ID)
	assert.Equal(t, "lef_parent", ordered[1].PutObject.ID)
}

func TestApplyBatchUpsertsObjectAndChildEdges(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	now := time.Now()

	child := PutObject{ID: "lef_1", BytesLen: 4, Complete: true, TouchedAt: now}
	parent := PutObject{ID: "bra_1", BytesLen: 0, Children: []string{"lef_1"}, Complete: true, TouchedAt: now}

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, ApplyBatch(ctx, conn, []Message{{PutObject: &parent}, {PutObject: &child}}))

	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	row, err := tx.QueryOne(ctx, `SELECT subtree_count AS subtree_count FROM objects WHERE id = ?`, "bra_1")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), row["subtree_count"])

	edges, err := tx.QueryAll(ctx, `SELECT child_id AS child_id FROM object_child WHERE object_id = ?`, "bra_1")
	assert.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "lef_1", edges[0]["child_id"])
	require.NoError(t, tx.Commit())
}

func TestApplyBatchEnqueuesEviction(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	now := time.Now()

	obj := PutObject{ID: "lef_evict", BytesLen: 1, Complete: true, TouchedAt: now}
	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, ApplyBatch(ctx, conn, []Message{{PutObject: &obj}}))

	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	row, ok, err := tx.QueryOptional(ctx, `SELECT partition AS partition FROM eviction_queue WHERE entity_id = ?`, "lef_evict")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, row["partition"])
	require.NoError(t, tx.Commit())
}

func TestApplyBatchPutAndDeleteTag(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	put := PutTag{Tag: "x/1.0.0", Item: "lef_1"}
	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, ApplyBatch(ctx, conn, []Message{{PutTag: &put}}))

	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	row, err := tx.QueryOne(ctx, `SELECT item AS item FROM tags WHERE tag = ?`, "x/1.0.0")
	assert.NoError(t, err)
	assert.Equal(t, "lef_1", row["item"])
	require.NoError(t, tx.Commit())

	del := DeleteTag{Tag: "x/1.0.0"}
	require.NoError(t, ApplyBatch(ctx, conn, []Message{{DeleteTag: &del}}))
	tx2, err := conn.Transaction(ctx)
	require.NoError(t, err)
	_, ok, err := tx2.QueryOptional(ctx, `SELECT item AS item FROM tags WHERE tag = ?`, "x/1.0.0")
	assert.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx2.Commit())
}

func TestPartitionOfIsStable(t *testing.T) {
	a := partitionOf("lef_abc")
	b := partitionOf("lef_abc")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, partitionCount)
}
