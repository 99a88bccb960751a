package process

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/messenger"
	"github.com/tangramdotdev/tangram/pkg/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "process.db")
	db, err := database.OpenSQLite(ctx, dbPath, 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(ctx, conn))
	conn.Close()

	m := messenger.NewMemoryMessenger()

	mgr, err := New(db, store.NewMemoryStore(), m, filepath.Join(t.TempDir(), "logs"), 4)
	require.NoError(t, err)
	return mgr
}

func TestTrySpawnProcessCreatesNewProcess(t *testing.T) {
	mgr := newTestManager(t)
	out, err := mgr.TrySpawnProcess(context.Background(), SpawnArg{Command: "cmd_abc", Retry: false})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.NotEmpty(t, out.Process)
	assert.NotEmpty(t, out.Token)

	p, err := mgr.Get(context.Background(), out.Process)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "cmd_abc", p.Command)
}

func TestTrySpawnProcessExactCacheHit(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_cache"})
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NoError(t, mgr.FinishProcess(ctx, first.Process, FinishArg{Exit: 0}))

	second, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_cache"})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.Process, second.Process)
}

func TestTrySpawnProcessRetrySkipsFailedCacheHit(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_retry"})
	require.NoError(t, err)
	require.NoError(t, mgr.FinishProcess(ctx, first.Process, FinishArg{Exit: 1}))

	second, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_retry", Retry: true})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Process, second.Process)
}

func TestAddProcessChildRejectsCycle(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	parent, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_parent", Network: true})
	require.NoError(t, err)
	child, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_child", Network: true})
	require.NoError(t, err)

	require.NoError(t, mgr.AddProcessChild(ctx, parent.Process, child.Process, ReferentOptions{}, ""))
	err = mgr.AddProcessChild(ctx, child.Process, parent.Process, ReferentOptions{}, "")
	assert.Error(t, err)
}

func TestAddProcessChildUpdatesParentDepth(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	parent, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_p", Network: true})
	require.NoError(t, err)
	child, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_c", Network: true})
	require.NoError(t, err)

	require.NoError(t, mgr.AddProcessChild(ctx, parent.Process, child.Process, ReferentOptions{}, ""))

	conn, err := mgr.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	row, err := tx.QueryOne(ctx, `SELECT depth FROM processes WHERE id = ?`, parent.Process)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row["depth"])
}

func TestCancelProcessCancelsNonFinishedChildren(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	parent, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_cp", Network: true})
	require.NoError(t, err)
	child, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_cc", Network: true})
	require.NoError(t, err)
	require.NoError(t, mgr.AddProcessChild(ctx, parent.Process, child.Process, ReferentOptions{}, ""))

	require.NoError(t, mgr.CancelProcess(ctx, parent.Process, CancelArg{}))

	p, err := mgr.Get(ctx, parent.Process)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, p.Status)

	c, err := mgr.Get(ctx, child.Process)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, c.Status)
}

func TestWaitProcessReturnsAfterFinish(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	out, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_wait", Network: true})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = mgr.WaitProcess(ctx, out.Process)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mgr.FinishProcess(ctx, out.Process, FinishArg{Exit: 0}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after finish")
	}
}

func TestHeartbeatMonitorExpiresStaleProcess(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	out, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_hb", Network: true})
	require.NoError(t, err)
	require.NoError(t, mgr.StartProcess(ctx, out.Process))

	conn, err := mgr.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	stale := time.Now().Add(-time.Hour).UnixNano()
	_, err = tx.Execute(ctx, `UPDATE processes SET heartbeat_at = ? WHERE id = ?`, stale, out.Process)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	conn.Close()

	hm := NewHeartbeatMonitor(mgr)
	hm.Interval = time.Minute
	hm.MissedLimit = 3
	require.NoError(t, hm.sweep(ctx))

	p, err := mgr.Get(ctx, out.Process)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, p.Status)
	assert.Equal(t, "heartbeat_expiration", string(p.ErrorCode))
}

func TestTokensBindAndResolve(t *testing.T) {
	tokens := NewTokens()
	token, err := Create()
	require.NoError(t, err)
	tokens.Bind(token, "pcs_1")
	resolved, ok := tokens.Resolve(token)
	require.True(t, ok)
	assert.Equal(t, "pcs_1", resolved)
	tokens.Forget(token)
	_, ok = tokens.Resolve(token)
	assert.False(t, ok)
}

func TestTrySpawnProcessRecordsCommandObject(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	out, err := mgr.TrySpawnProcess(ctx, SpawnArg{Command: "cmd_obj"})
	require.NoError(t, err)

	objects, err := mgr.Objects(ctx, out.Process)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "cmd_obj", objects[0].ID)
	assert.Equal(t, "command", objects[0].Kind)
}

func TestPermitsPreferParentSlot(t *testing.T) {
	permits := NewPermits(1)
	serverPermit, ok := permits.TryAcquire("")
	require.True(t, ok)

	// The server-wide slot is now held; a child of "parent" should
	// still acquire, because it has its own per-process semaphore.
	childPermit, ok := permits.TryAcquire("parent")
	require.True(t, ok)

	childPermit.Release()
	serverPermit.Release()
}
