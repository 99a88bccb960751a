package checkout

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/store"
)

type testEnv struct {
	engine *Engine
	store  store.Store
	db     database.Database
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "checkout.db")
	db, err := database.OpenSQLite(ctx, dbPath, 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, index.EnsureSchema(ctx, conn))
	conn.Close()

	st := store.NewMemoryStore()
	cachePath := t.TempDir()
	engine := New(db, st, store.NewFDLimit(4), cachePath)
	return &testEnv{engine: engine, store: st, db: db}
}

// put writes obj to the store and marks it complete in the index
// table checkout's completeness gate reads.
func (e *testEnv) put(t *testing.T, obj object.Object) object.ID {
	t.Helper()
	data, err := object.Serialize(obj)
	require.NoError(t, err)
	id := object.NewID(obj.Kind, data)

	ctx := context.Background()
	require.NoError(t, e.store.Put(ctx, store.PutArg{ID: id.String(), Bytes: data, TouchedAt: time.Now()}))

	conn, err := e.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, `INSERT INTO objects (id, bytes_len, complete, touched_at) VALUES (?, ?, 1, ?)`,
		id.String(), len(data), time.Now().Unix())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func (e *testEnv) putFileInCache(t *testing.T, contents []byte) object.ID {
	t.Helper()
	leaf := object.Object{Kind: object.KindLeaf, Leaf: &object.Leaf{Bytes: contents}}
	id := e.put(t, leaf)

	cacheDest := filepath.Join(e.engine.cachePath, id.String())
	require.NoError(t, os.WriteFile(cacheDest, contents, 0o644))
	return id
}

func TestCheckoutMaterializesDirectoryTree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	leafID := env.putFileInCache(t, []byte("hello"))
	fileID := env.put(t, object.Object{Kind: object.KindFile, File: &object.File{Contents: &leafID}})
	dirID := env.put(t, object.Object{Kind: object.KindDirectory, Directory: &object.Directory{
		Entries: []object.DirectoryEntry{{Name: "greeting.txt", Artifact: &fileID}},
	}})

	dest := filepath.Join(t.TempDir(), "out")
	out, progress, err := env.engine.Checkout(ctx, Arg{Artifact: dirID.String(), Path: dest})
	require.NoError(t, err)
	assert.Equal(t, dest, out.Path)
	assert.Greater(t, progress.Objects.Load(), int64(0))

	data, err := os.ReadFile(filepath.Join(dest, "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(filepath.Join(dest, ".tangram", "lock.json"))
	require.NoError(t, err)
}

func TestCheckoutFailsWhenDestinationExistsWithoutForce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	leafID := env.putFileInCache(t, []byte("x"))
	fileID := env.put(t, object.Object{Kind: object.KindFile, File: &object.File{Contents: &leafID}})

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	_, _, err := env.engine.Checkout(ctx, Arg{Artifact: fileID.String(), Path: dest})
	assert.Error(t, err)
}

func TestCheckoutForceOverwritesExistingDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	leafID := env.putFileInCache(t, []byte("new content"))
	fileID := env.put(t, object.Object{Kind: object.KindFile, File: &object.File{Contents: &leafID}})

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stale"), []byte("old"), 0o644))

	out, _, err := env.engine.Checkout(ctx, Arg{Artifact: fileID.String(), Path: dest, Force: true})
	require.NoError(t, err)

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))
}

func TestCheckoutFailsWhenArtifactIsIncompleteAndUnpullable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	leaf := object.Object{Kind: object.KindLeaf, Leaf: &object.Leaf{Bytes: []byte("x")}}
	data, err := object.Serialize(leaf)
	require.NoError(t, err)
	leafID := object.NewID(object.KindLeaf, data)
	require.NoError(t, env.store.Put(ctx, store.PutArg{ID: leafID.String(), Bytes: data, TouchedAt: time.Now()}))
	fileID := env.put(t, object.Object{Kind: object.KindFile, File: &object.File{Contents: &leafID}})

	// Mark the file itself incomplete to exercise the completeness gate.
	conn, err := env.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	tx, err := conn.Transaction(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, `UPDATE objects SET complete = 0 WHERE id = ?`, fileID.String())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	conn.Close()

	dest := filepath.Join(t.TempDir(), "out")
	_, _, err = env.engine.Checkout(ctx, Arg{Artifact: fileID.String(), Path: dest})
	assert.Error(t, err)
}

func TestCheckoutSharesDependencyViaArtifactsDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	depLeaf := env.putFileInCache(t, []byte("shared"))
	depFile := env.put(t, object.Object{Kind: object.KindFile, File: &object.File{Contents: &depLeaf}})

	mainLeaf := env.putFileInCache(t, []byte("main"))
	mainFile := env.put(t, object.Object{Kind: object.KindFile, File: &object.File{
		Contents: &mainLeaf,
		Dependencies: map[string]object.Dependency{
			"dep": {Artifact: &depFile},
		},
	}})
	dir := env.put(t, object.Object{Kind: object.KindDirectory, Directory: &object.Directory{
		Entries: []object.DirectoryEntry{{Name: "main.txt", Artifact: &mainFile}},
	}})

	dest := filepath.Join(t.TempDir(), "out")
	_, _, err := env.engine.Checkout(ctx, Arg{Artifact: dir.String(), Path: dest, Dependencies: true})
	require.NoError(t, err)

	depPath := filepath.Join(dest, ".tangram", "artifacts", depFile.String())
	data, err := os.ReadFile(depPath)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))
}
