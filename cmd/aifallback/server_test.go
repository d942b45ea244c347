package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/aifallback"
	"github.com/BaSui01/aifallback/config"
	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/fallback"
	"github.com/BaSui01/aifallback/testutil/mocks"
	"github.com/BaSui01/aifallback/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serverEnv struct {
	server  *Server
	primary *mocks.MockProvider
	backup  *mocks.MockProvider
}

func newServerEnv(t *testing.T) serverEnv {
	t.Helper()
	primary := mocks.NewMockProvider("primary")
	backup := mocks.NewMockProvider("backup")
	caps := llm.Capabilities{Text: true, Stream: true, Image: true}
	reg := llm.NewRegistry(zap.NewNop())
	reg.RegisterInstance("primary", caps, primary)
	reg.RegisterInstance("backup", caps, backup)

	cfg := config.DefaultConfig()
	cfg.Credentials.EnvFiles = nil
	cfg.Tracking.Async = false
	cfg.Tracking.Log = false
	cfg.Fallback.Order = []string{"primary", "backup"}
	cfg.Fallback.Retries = 0
	cfg.Fallback.Models = map[string]map[string]string{"text": {"primary": "p-1", "backup": "b-1"}}

	ctx := context.Background()
	client, err := aifallback.New(ctx, cfg, aifallback.WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(ctx) })

	return serverEnv{server: NewServer(client, zap.NewNop()), primary: primary, backup: backup}
}

func TestServer_Routes(t *testing.T) {
	env := newServerEnv(t)
	env.primary.WithError(types.NewError(types.ErrUpstreamTimeout, "slow").WithRetryable(true))
	env.backup.WithText("fallback answer")
	h := env.server.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/v1/text", strings.NewReader(`{"prompt":"hi"}`))
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Backend string `json:"backend"`
			Text    string `json:"text"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "backup", body.Data.Backend)
	assert.Equal(t, "fallback answer", body.Data.Text)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aifallback_backend_attempts_total")
	assert.Contains(t, w.Body.String(), `aifallback_http_requests_total{method="POST",path="/v1/text",status="2xx"} 1`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/text", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRunGenerate_RequiresPrompt(t *testing.T) {
	err := runGenerate(context.Background(), []string{}, &bytes.Buffer{})
	assert.EqualError(t, err, "--prompt is required")
}

func TestPrintStream(t *testing.T) {
	ch := make(chan fallback.StreamChunk, 4)
	ch <- fallback.StreamChunk{Kind: fallback.ChunkText, Text: "he"}
	ch <- fallback.StreamChunk{Kind: fallback.ChunkSegmentFailed, Backend: "a", Err: types.NewError(types.ErrUpstreamError, "cut")}
	ch <- fallback.StreamChunk{Kind: fallback.ChunkText, Text: "hello"}
	ch <- fallback.StreamChunk{Kind: fallback.ChunkDone}
	close(ch)

	var buf bytes.Buffer
	require.NoError(t, printStream(&buf, ch))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "he\n[a failed: "))
	assert.True(t, strings.HasSuffix(out, "hello\n"))

	failed := make(chan fallback.StreamChunk, 1)
	failed <- fallback.StreamChunk{Kind: fallback.ChunkFailed, Err: types.NewAllProvidersFailedError()}
	close(failed)
	assert.Error(t, printStream(&bytes.Buffer{}, failed))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Nil(t, splitList(""))
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "debug", Format: "console"})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger = initLogger(config.LogConfig{Level: "bogus"})
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}
