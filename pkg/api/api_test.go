package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// newTestServer wires a Server over a real SQLite database and an
// in-memory store, mirroring pkg/server.New's construction order but
// without the directory layout or remotes a composition root needs.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "api.db")
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

	cleaner := clean.New(db, st)
	checkoutEngine := checkout.New(db, st, store.NewFDLimit(32), filepath.Join(t.TempDir(), "cache"))
	exporter := transfer.NewExporter(st, nil)
	importer := transfer.NewImporter(st, m, nil)

	s := NewServer(Config{
		DB:             db,
		Store:          st,
		Messenger:      m,
		Processes:      processes,
		Indexer:        ix,
		Cleaner:        cleaner,
		Checkout:       checkoutEngine,
		Exporter:       exporter,
		Importer:       importer,
		CleanWatermark: time.Hour,
	})
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

func TestHealthReportsVersion(t *testing.T) {
	s := newTestServer(t)
	out, err := s.Health(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, out.Version)
}

func leafID(t *testing.T, data []byte) string {
	t.Helper()
	return object.NewID(object.KindLeaf, data).String()
}

func TestObjectRoundTripsMetadataAfterIndex(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	data := []byte("leaf bytes")
	id := leafID(t, data)
	require.NoError(t, s.PutObject(ctx, id, data))
	require.NoError(t, s.indexer.DrainOnce(ctx))

	got, ok, err := s.TryGetObject(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)

	md, ok, err := s.TryGetObjectMetadata(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, md.Complete)
}

func TestPutObjectRejectsChecksumMismatch(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	id := leafID(t, []byte("a"))
	err := s.PutObject(ctx, id, []byte("b"))
	require.Error(t, err)
}

func TestTagPutGetList(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.PutTag(ctx, "hello", "lef_1"))
	require.NoError(t, s.indexer.DrainOnce(ctx))

	entry, ok, err := s.TryGetTag(ctx, "hello")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lef_1", entry.Item)

	list, err := s.ListTags(ctx, "hel")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hello", list[0].Tag)
}

func TestTagDeleteRemovesEntry(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.PutTag(ctx, "gone", "lef_1"))
	require.NoError(t, s.indexer.DrainOnce(ctx))
	require.NoError(t, s.DeleteTag(ctx, "gone"))
	require.NoError(t, s.indexer.DrainOnce(ctx))

	_, ok, err := s.TryGetTag(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemotePutGetDelete(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.PutRemote(ctx, "origin", "https://example.test"))
	entry, ok, err := s.TryGetRemote(ctx, "origin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.test", entry.URL)

	list, err := s.ListRemotes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteRemote(ctx, "origin"))
	_, ok, err = s.TryGetRemote(ctx, "origin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessSpawnGetCancel(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	events, err := s.TrySpawnProcess(ctx, ProcessSpawnArg{Command: "cmd_test"})
	require.NoError(t, err)
	ev := <-events
	require.NoError(t, ev.Err)
	out, ok := ev.Output.(process.SpawnOutput)
	require.True(t, ok)
	require.NotEmpty(t, out.Process)

	got, ok, err := s.TryGetProcess(ctx, out.Process)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cmd_test", got.Command)

	require.NoError(t, s.CancelProcess(ctx, out.Process, out.Token))
}

func TestPipeWriteReadClose(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	id, err := s.CreatePipe(ctx)
	require.NoError(t, err)

	require.NoError(t, s.WritePipe(ctx, id, []byte("chunk")))
	ch, ok, err := s.TryReadPipe(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("chunk"), <-ch)

	require.NoError(t, s.ClosePipe(ctx, id))
	_, stillOpen := <-ch
	assert.False(t, stillOpen)

	require.NoError(t, s.DeletePipe(ctx, id))
	_, ok, err = s.TryReadPipe(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWritePipeAfterCloseFails(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	id, err := s.CreatePipe(ctx)
	require.NoError(t, err)
	require.NoError(t, s.ClosePipe(ctx, id))
	err = s.WritePipe(ctx, id, []byte("late"))
	require.Error(t, err)
}

func TestPtyCreateTracksSize(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	id, err := s.CreatePty(ctx, PtySize{Rows: 40, Cols: 120})
	require.NoError(t, err)

	size, ok, err := s.GetPtySize(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(40), size.Rows)
	assert.Equal(t, uint16(120), size.Cols)

	require.NoError(t, s.WritePty(ctx, id, []byte("keys")))
	ch, ok, err := s.TryReadPty(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("keys"), <-ch)
}

func TestHandlerRoundTripsObjectOverHTTP(t *testing.T) {
	s := newTestServer(t)

	body := []byte("http object bytes")
	id := leafID(t, body)

	req := httptest.NewRequest(http.MethodPut, "/objects/"+id, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/objects/"+id, nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.Bytes())

	req = httptest.NewRequest(http.MethodGet, "/objects/"+id+"_missing", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeyAuthAllowsHealthWithoutKey(t *testing.T) {
	s := newTestServer(t)
	s.setupRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/tags", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/tags?api_key=secret", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsRouteIsScrapeableWithoutAPIKey(t *testing.T) {
	s := newTestServer(t)
	s.setupRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}
