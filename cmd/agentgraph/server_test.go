package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/testutil"
)

const greetDefinition = `{
  "id": "greet",
  "name": "Greet",
  "nodes": [
    {"id": "trigger", "type": "trigger"},
    {"id": "out", "type": "chatOutput"}
  ],
  "edges": [
    {"source": "trigger", "target": "out", "targetHandle": "in-input"}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := testutil.DefinitionDir(t, map[string]string{"greet.json": greetDefinition})

	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	cfg.Engine.DefinitionsDir = dir
	cfg.Engine.WatchInterval = 0
	cfg.History.Backend = "memory"
	return cfg
}

func initServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv := NewServer(cfg, zap.NewNop())
	require.NoError(t, srv.Init(testutil.TestContext(t)))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func call(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, handlers.Response) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var resp handlers.Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func decode(t *testing.T, resp handlers.Response, dst any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func TestServer_RunAndHistory(t *testing.T) {
	srv := initServer(t, testConfig(t))
	h := srv.Handler()

	w, resp := call(t, h, http.MethodPost, "/api/v1/workflows/greet/runs", `{"trigger": "hi there"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	var run api.RunResponse
	decode(t, resp, &run)
	assert.Equal(t, "hi there", run.Output)

	var runs api.RunListResponse
	require.Eventually(t, func() bool {
		_, resp := call(t, h, http.MethodGet, "/api/v1/workflows/greet/runs", "")
		decode(t, resp, &runs)
		return len(runs.Runs) == 1 && runs.Runs[0].Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	w, resp = call(t, h, http.MethodGet, "/api/v1/runs/"+runs.Runs[0].RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestServer_OperationalEndpoints(t *testing.T) {
	srv := initServer(t, testConfig(t))
	h := srv.Handler()

	for _, path := range []string{"/health", "/healthz", "/ready", "/version"} {
		w, _ := call(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	_, resp := call(t, h, http.MethodGet, "/api/v1/workflows", "")
	assert.True(t, resp.Success)

	w, _ := call(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "agentgraph_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServer_TokenCount(t *testing.T) {
	srv := initServer(t, testConfig(t))

	w, resp := call(t, srv.Handler(), http.MethodPost, "/api/v1/tokens/count", `{"text": "abcdefghijklmnop", "model_type": "Llama2"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var count api.TokenCountResponse
	decode(t, resp, &count)
	assert.Equal(t, 4, count.Count)
}

func TestServer_AuthRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.APIKeys = []string{"secret-key"}
	srv := initServer(t, cfg)
	h := srv.Handler()

	w, resp := call(t, h, http.MethodGet, "/api/v1/workflows", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	w, _ = call(t, h, http.MethodGet, "/api/v1/workflows", "", "X-API-Key", "secret-key")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = call(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_FanOutHistory(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.History.Backend = "sql, redis"
	cfg.Database = config.DatabaseConfig{
		Driver:       "sqlite",
		Name:         filepath.Join(t.TempDir(), "history.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		AutoMigrate:  true,
	}
	cfg.Redis.Addr = mr.Addr()
	srv := initServer(t, cfg)
	h := srv.Handler()

	w, _ := call(t, h, http.MethodPost, "/api/v1/workflows/greet/runs", `{"trigger": "fan out"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 读取来自最后一个后端（redis）
	require.Eventually(t, func() bool {
		var runs api.RunListResponse
		_, resp := call(t, h, http.MethodGet, "/api/v1/workflows/greet/runs", "")
		decode(t, resp, &runs)
		return len(runs.Runs) == 1 && runs.Runs[0].Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	// 数据库与 redis 都注册了就绪检查
	w, _ = call(t, h, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Contains(t, status.Checks, "database")
	assert.Contains(t, status.Checks, "redis")
}

func TestServer_MissingDefinitionsDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.DefinitionsDir = filepath.Join(t.TempDir(), "missing")

	srv := NewServer(cfg, zap.NewNop())
	assert.Error(t, srv.Init(context.Background()))
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	srv := NewServer(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))

	resp, err := http.Get("http://" + srv.httpManager.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, srv.httpManager.IsRunning())
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t,
		[]string{"*", "app.example.com", "localhost:3000"},
		originPatterns([]string{"*", "https://app.example.com", "http://localhost:3000"}),
	)
}

func TestIsMemorySQLite(t *testing.T) {
	assert.True(t, isMemorySQLite(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}))
	assert.True(t, isMemorySQLite(config.DatabaseConfig{Driver: "sqlite3", Name: "file:x?mode=memory"}))
	assert.False(t, isMemorySQLite(config.DatabaseConfig{Driver: "sqlite", Name: "/tmp/h.db"}))
	assert.False(t, isMemorySQLite(config.DatabaseConfig{Driver: "postgres", Name: ":memory:"}))
}
