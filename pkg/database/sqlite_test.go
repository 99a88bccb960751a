package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteDatabase {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenSQLite(ctx, path, 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connection(ctx, KindWrite, PriorityHigh)
	require.NoError(t, err)
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, `CREATE TABLE objects (id TEXT PRIMARY KEY, touched_at INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return db
}

func TestSQLiteExecuteAndQueryOne(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	conn, err := db.Connection(ctx, KindWrite, PriorityHigh)
	require.NoError(t, err)
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)

	affected, err := tx.Execute(ctx, `INSERT INTO objects (id, touched_at) VALUES (?, ?)`, "lef_1", 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	require.NoError(t, tx.Commit())

	readConn, err := db.Connection(ctx, KindRead, PriorityHigh)
	require.NoError(t, err)
	readTx, err := readConn.Transaction(ctx)
	require.NoError(t, err)
	row, err := readTx.QueryOne(ctx, `SELECT id, touched_at FROM objects WHERE id = ?`, "lef_1")
	assert.NoError(t, err)
	assert.Equal(t, "lef_1", row["id"])
	require.NoError(t, readTx.Commit())
}

func TestSQLiteQueryOptionalMissingRow(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	conn, err := db.Connection(ctx, KindRead, PriorityLow)
	require.NoError(t, err)
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)

	row, ok, err := tx.QueryOptional(ctx, `SELECT id FROM objects WHERE id = ?`, "lef_missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, row)
	require.NoError(t, tx.Commit())
}

func TestSQLiteRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	conn, err := db.Connection(ctx, KindWrite, PriorityHigh)
	require.NoError(t, err)
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, `INSERT INTO objects (id, touched_at) VALUES (?, ?)`, "lef_rolled_back", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	readConn, err := db.Connection(ctx, KindRead, PriorityHigh)
	require.NoError(t, err)
	readTx, err := readConn.Transaction(ctx)
	require.NoError(t, err)
	_, ok, err := readTx.QueryOptional(ctx, `SELECT id FROM objects WHERE id = ?`, "lef_rolled_back")
	assert.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, readTx.Commit())
}

func TestSQLitePreparedStatementReusedAcrossTransactions(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	for i := 0; i < 3; i++ {
		conn, err := db.Connection(ctx, KindWrite, PriorityHigh)
		require.NoError(t, err)
		tx, err := conn.Transaction(ctx)
		require.NoError(t, err)
		_, err = tx.Execute(ctx, `INSERT INTO objects (id, touched_at) VALUES (?, ?)`, i, i)
		assert.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	conn, err := db.Connection(ctx, KindRead, PriorityHigh)
	require.NoError(t, err)
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	rows, err := tx.QueryAll(ctx, `SELECT id FROM objects`)
	assert.NoError(t, err)
	assert.Len(t, rows, 3)
	require.NoError(t, tx.Commit())
}
