package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint/memory"
	"github.com/JakeFAU/icrawler/internal/plugin"
	"github.com/JakeFAU/icrawler/internal/queue"
	queueMemory "github.com/JakeFAU/icrawler/internal/queue/memory"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *queueMemory.PriorityQueue) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "cfg1_msg1", map[string]any{"name": "Acme"}))
	require.NoError(t, store.Write(ctx, "cfg1_msg2", map[string]any{"name": "Globex"}))
	require.NoError(t, store.Write(ctx, "mongodb_gs_companies_cfg1.id", "65f0c0ffee"))

	src := queueMemory.NewPriorityQueue("source")
	src.Push(1, "a")
	src.Push(2, "b")

	registry := plugin.NewRegistry(plugin.Deps{})
	return NewServer(Options{
		Store:    store,
		Queues:   map[string]queue.Queue{"source": src, "sink": queueMemory.NewPriorityQueue("sink")},
		Registry: registry,
		APIKey:   apiKey,
	}, zap.NewNop()), src
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "secret")
	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	unready := NewServer(Options{}, nil)
	rec = serve(unready, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "")
	rec := serve(server, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]int{"source": 2, "sink": 0}, got.Queues)
	assert.Empty(t, got.Processors)
}

func TestServer_ListCheckpoints(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "")
	rec := serve(server, http.MethodGet, "/checkpoints?prefix=cfg1_", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Prefix string   `json:"prefix"`
		Keys   []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cfg1_", got.Prefix)
	assert.Equal(t, []string{"cfg1_msg1", "cfg1_msg2"}, got.Keys)

	rec = serve(server, http.MethodGet, "/checkpoints?prefix=none", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keys":[]`)
}

func TestServer_GetCheckpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "")
	rec := serve(server, http.MethodGet, "/checkpoints/cfg1_msg2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"cfg1_msg2","value":{"name":"Globex"}}`, rec.Body.String())

	rec = serve(server, http.MethodGet, "/checkpoints/mongodb_gs_companies_cfg1.id", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "65f0c0ffee")

	rec = serve(server, http.MethodGet, "/checkpoints/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, http.MethodGet, "/checkpoints/..", nil)
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "secret")
	rec := serve(server, http.MethodGet, "/checkpoints", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(server, http.MethodGet, "/checkpoints", http.Header{"X-Api-Key": {"secret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/status?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "")
	_ = serve(server, http.MethodGet, "/status", nil)
	rec := serve(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "icrawler_queue_depth")
}
