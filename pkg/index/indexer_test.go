package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/messenger"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	m := Message{PutObject: &PutObject{ID: "lef_1", BytesLen: 4, TouchedAt: time.Unix(100, 0).UTC()}}
	data, err := EncodeMessage(m)
	require.NoError(t, err)
	decoded, err := decodeMessage(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.PutObject)
	assert.Equal(t, "lef_1", decoded.PutObject.ID)
	assert.Equal(t, int64(4), decoded.PutObject.BytesLen)
}

func TestIndexerAppliesPublishedBatch(t *testing.T) {
	ctx := context.Background()
	m := messenger.NewMemoryMessenger()
	t.Cleanup(func() { m.Close() })
	db := newTestDatabase(t)

	ix, err := New(ctx, m, db)
	require.NoError(t, err)
	ix.MaxBatchCount = 1
	ix.MaxBatchDelay = 10 * time.Millisecond
	ix.Start(ctx)
	t.Cleanup(ix.Stop)

	msg := Message{PutObject: &PutObject{ID: "lef_indexed", BytesLen: 2, Complete: true, TouchedAt: time.Now()}}
	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	require.NoError(t, m.Publish(ctx, "index", data))

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := db.Connection(ctx, database.KindRead, database.PriorityHigh)
		require.NoError(t, err)
		tx, err := conn.Transaction(ctx)
		require.NoError(t, err)
		_, ok, err := tx.QueryOptional(ctx, `SELECT id AS id FROM objects WHERE id = ?`, "lef_indexed")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		conn.Close()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("indexer did not apply published batch in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
