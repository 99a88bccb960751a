package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/api"
	"github.com/tangramdotdev/tangram/pkg/checkout"
	"github.com/tangramdotdev/tangram/pkg/clean"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/messenger"
	"github.com/tangramdotdev/tangram/pkg/object"
	"github.com/tangramdotdev/tangram/pkg/process"
	"github.com/tangramdotdev/tangram/pkg/store"
	"github.com/tangramdotdev/tangram/pkg/transfer"
)

// newTestServer wires a real api.Server the same way pkg/server.New
// does, and returns both it and an httptest server exposing it, so
// Client's HTTP calls exercise the actual chi router end to end.
func newTestServer(t *testing.T, apiKey string) (*api.Server, *httptest.Server) {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "client.db")
	db, err := database.OpenSQLite(ctx, dbPath, 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, process.EnsureSchema(ctx, conn))
	require.NoError(t, index.EnsureSchema(ctx, conn))
	conn.Close()

	st := store.NewMemoryStore()
	m := messenger.NewMemoryMessenger()

	ix, err := index.New(ctx, m, db)
	require.NoError(t, err)
	processes, err := process.New(db, st, m, filepath.Join(t.TempDir(), "logs"), 8)
	require.NoError(t, err)

	srv := api.NewServer(api.Config{
		DB:             db,
		Store:          st,
		Messenger:      m,
		Processes:      processes,
		Indexer:        ix,
		Cleaner:        clean.New(db, st),
		Checkout:       checkout.New(db, st, store.NewFDLimit(32), filepath.Join(t.TempDir(), "cache")),
		Exporter:       transfer.NewExporter(st, nil),
		Importer:       transfer.NewImporter(st, m, nil),
		CleanWatermark: time.Hour,
		APIKey:         apiKey,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestClientHealth(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()

	out, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, out.Version)
}

func TestClientObjectPutGetMetadata(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()
	ctx := context.Background()

	data := []byte("client object bytes")
	id := object.NewID(object.KindLeaf, data).String()

	require.NoError(t, c.PutObject(ctx, id, data))

	got, ok, err := c.TryGetObject(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)

	_, ok, err = c.TryGetObjectMetadata(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.TryGetObject(ctx, "lef_doesnotexist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientTagPutGetListDelete(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.PutTag(ctx, "release/1.0", "lef_1"))

	entry, ok, err := c.TryGetTag(ctx, "release/1.0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lef_1", entry.Item)

	list, err := c.ListTags(ctx, "release")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.DeleteTag(ctx, "release/1.0"))
	_, ok, err = c.TryGetTag(ctx, "release/1.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientRemotePutGetDelete(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.PutRemote(ctx, "upstream", "https://peer.example"))
	entry, ok, err := c.TryGetRemote(ctx, "upstream")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://peer.example", entry.URL)

	require.NoError(t, c.DeleteRemote(ctx, "upstream"))
	_, ok, err = c.TryGetRemote(ctx, "upstream")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientProcessSpawnAndGet(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()
	ctx := context.Background()

	events, err := c.TrySpawnProcess(ctx, api.ProcessSpawnArg{Command: "cmd_client_test"})
	require.NoError(t, err)
	ev := <-events
	require.NoError(t, ev.Err)
	out, ok := ev.Output.(process.SpawnOutput)
	require.True(t, ok)
	require.NotEmpty(t, out.Process)

	got, ok, err := c.TryGetProcess(ctx, out.Process)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cmd_client_test", got.Command)
}

func TestClientPipeWriteCloseRead(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()
	ctx := context.Background()

	id, err := c.CreatePipe(ctx)
	require.NoError(t, err)
	require.NoError(t, c.WritePipe(ctx, id, []byte("chunk")))
	require.NoError(t, c.ClosePipe(ctx, id))

	ch, ok, err := c.TryReadPipe(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	var collected []byte
	for chunk := range ch {
		collected = append(collected, chunk...)
	}
	assert.Equal(t, []byte("chunk"), collected)

	require.NoError(t, c.DeletePipe(ctx, id))
}

func TestClientPtyCreateWriteSize(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()
	ctx := context.Background()

	id, err := c.CreatePty(ctx, api.PtySize{Rows: 30, Cols: 100})
	require.NoError(t, err)

	size, ok, err := c.GetPtySize(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(30), size.Rows)

	require.NoError(t, c.WritePty(ctx, id, []byte("k")))
	require.NoError(t, c.ClosePty(ctx, id))
}

func TestClientSendsAPIKeyHeader(t *testing.T) {
	_, ts := newTestServer(t, "secret")
	c := NewClientWithAPIKey(ts.URL, "secret")
	defer c.Close()

	_, err := c.ListTags(context.Background(), "")
	require.NoError(t, err)

	unauth := NewClient(ts.URL)
	defer unauth.Close()
	_, err = unauth.ListTags(context.Background(), "")
	require.Error(t, err)
}

func TestProcessRemoteAdapter(t *testing.T) {
	_, ts := newTestServer(t, "")
	c := NewClient(ts.URL)
	defer c.Close()

	remote := NewProcessRemote(c)
	assert.Equal(t, ts.URL, remote.Name())

	out, err := remote.TrySpawnProcess(process.SpawnArg{Command: "cmd_remote"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Process)

	require.NoError(t, remote.CancelProcess(out.Process, out.Token))
}
