package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/pkg/object"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	srv, err := New(ctx, Config{
		DataDir:      t.TempDir(),
		StoreBackend: "memory",
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(ctx) })
	return srv
}

func TestNewRequiresDataDir(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewBuildsDirectoryLayout(t *testing.T) {
	srv := newTestServer(t)
	assert.NotNil(t, srv.Handler())
}

func TestServerServesHealth(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerRoundTripsAnObjectOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	body := []byte("hello")
	id := object.NewID(object.KindLeaf, body).String()
	req := httptest.NewRequest(http.MethodPut, "/objects/"+id, bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/objects/"+id, nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, body, w.Body.Bytes())
}

func TestStartBeginsBackgroundLoopsWithoutError(t *testing.T) {
	srv := newTestServer(t)
	srv.Start(context.Background())
}

func TestCloseIsIdempotentAgainstUnstartedServer(t *testing.T) {
	ctx := context.Background()
	srv, err := New(ctx, Config{DataDir: t.TempDir(), StoreBackend: "memory"})
	require.NoError(t, err)
	require.NoError(t, srv.Close(ctx))
}

func TestAPIKeyGatesRequests(t *testing.T) {
	ctx := context.Background()
	srv, err := New(ctx, Config{
		DataDir:      t.TempDir(),
		StoreBackend: "memory",
		APIKey:       "secret",
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(ctx) })

	req := httptest.NewRequest(http.MethodGet, "/tags", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/tags", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
