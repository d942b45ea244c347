package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/aifallback/api"
	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/fallback"
	"github.com/BaSui01/aifallback/llm/tracking"
	"github.com/BaSui01/aifallback/testutil"
	"github.com/BaSui01/aifallback/testutil/mocks"
	"github.com/BaSui01/aifallback/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var allCaps = llm.Capabilities{Text: true, Stream: true, Image: true}

type handlerEnv struct {
	handler  *GenerateHandler
	recorder *tracking.Recorder
	primary  *mocks.MockProvider
	backup   *mocks.MockProvider
}

func newHandlerEnv(t *testing.T) handlerEnv {
	t.Helper()
	primary := mocks.NewMockProvider("primary")
	backup := mocks.NewMockProvider("backup")

	reg := llm.NewRegistry(zap.NewNop())
	reg.RegisterInstance("primary", allCaps, primary)
	reg.RegisterInstance("backup", allCaps, backup)

	defaults := fallback.DefaultDefaults()
	defaults.Order = []string{"primary", "backup"}
	defaults.Retries = 0
	model := map[string]string{"primary": "p-1", "backup": "b-1"}
	defaults.Models = map[llm.Operation]map[string]string{
		llm.OpText:  model,
		llm.OpImage: model,
	}

	recorder := tracking.NewRecorder()
	d := fallback.NewDispatcher(reg,
		fallback.WithDefaults(defaults),
		fallback.WithSleep(testutil.NoSleep),
		fallback.WithEmitter(tracking.NewEmitter(nil, tracking.WithSinks(recorder))),
	)
	return handlerEnv{
		handler:  NewGenerateHandler(d, 1<<20, zap.NewNop()),
		recorder: recorder,
		primary:  primary,
		backup:   backup,
	}
}

func postJSON(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var resp Response
	raw := struct {
		Response
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	resp = raw.Response
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return resp
}

func TestGenerateHandler_HandleText(t *testing.T) {
	env := newHandlerEnv(t)
	env.primary.WithError(types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true))
	env.backup.WithText("hello")

	w := httptest.NewRecorder()
	env.handler.HandleText(w, postJSON("/v1/text", `{"prompt":"hi","caller":"test"}`))

	require.Equal(t, http.StatusOK, w.Code)
	var out api.TextResponse
	resp := decodeData(t, w, &out)
	assert.True(t, resp.Success)
	assert.Equal(t, "backup", out.Backend)
	assert.Equal(t, "b-1", out.Model)
	assert.Equal(t, "hello", out.Text)
	assert.NotEmpty(t, out.TrackID)

	calls := env.backup.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hi", calls[0].Text.Messages[0].Text())
}

func TestGenerateHandler_HandleText_AllFailed(t *testing.T) {
	env := newHandlerEnv(t)
	env.primary.WithError(types.NewError(types.ErrRateLimited, "slow").WithRetryable(true).WithProvider("primary"))
	env.backup.WithError(types.NewError(types.ErrModelOverloaded, "busy").WithRetryable(true).WithProvider("backup"))

	w := httptest.NewRecorder()
	env.handler.HandleText(w, postJSON("/v1/text", `{"prompt":"hi"}`))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeData(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrModelOverloaded), resp.Error.Code)
	assert.Equal(t, "backup", resp.Error.Provider)
}

func TestGenerateHandler_InvalidRequests(t *testing.T) {
	env := newHandlerEnv(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty prompt", `{}`, http.StatusBadRequest},
		{"bad temperature", `{"prompt":"x","temperature":3}`, http.StatusBadRequest},
		{"bad delay", `{"prompt":"x","initial_delay":"soon"}`, http.StatusBadRequest},
		{"bad timeout", `{"prompt":"x","timeout":"later"}`, http.StatusBadRequest},
		{"unknown field", `{"prompt":"x","model":"gpt"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			env.handler.HandleText(w, postJSON("/v1/text", tt.body))
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.Equal(t, 0, env.primary.TotalCalls())
}

func TestGenerateHandler_HandleObject(t *testing.T) {
	env := newHandlerEnv(t)
	env.primary.WithText("```json\n{\"name\":\"ada\"}\n```")

	w := httptest.NewRecorder()
	env.handler.HandleObject(w, postJSON("/v1/object", `{"prompt":"give me json"}`))

	require.Equal(t, http.StatusOK, w.Code)
	var out api.ObjectResponse
	decodeData(t, w, &out)
	assert.JSONEq(t, `{"name":"ada"}`, string(out.Data))
	assert.Equal(t, "primary", out.Backend)
}

func TestGenerateHandler_HandleImage(t *testing.T) {
	env := newHandlerEnv(t)
	env.primary.WithImage("https://cdn.example.com/a.png")

	w := httptest.NewRecorder()
	env.handler.HandleImage(w, postJSON("/v1/image", `{"prompt":"cat","reference_images":["https://x/ref.png"]}`))

	require.Equal(t, http.StatusOK, w.Code)
	var out api.ImageResponse
	decodeData(t, w, &out)
	assert.Equal(t, "https://cdn.example.com/a.png", out.ImageURL)

	calls := env.primary.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"https://x/ref.png"}, calls[0].Image.ReferenceImages)
}

func TestGenerateHandler_CredentialOverrideScopedPerBackend(t *testing.T) {
	env := newHandlerEnv(t)
	env.primary.WithError(types.NewError(types.ErrUpstreamError, "503").WithRetryable(true))
	env.backup.WithText("from backup")

	r := postJSON("/v1/text", `{"prompt":"hi"}`)
	r.Header.Set(CredentialHeaderPrefix+"PRIMARY", "sk-primary")
	w := httptest.NewRecorder()
	env.handler.HandleText(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	primaryCalls := env.primary.Calls()
	require.Len(t, primaryCalls, 1)
	assert.Equal(t, "sk-primary", primaryCalls[0].APIKey)

	// backup 不能拿到 primary 的 key
	backupCalls := env.backup.Calls()
	require.Len(t, backupCalls, 1)
	assert.Empty(t, backupCalls[0].APIKey)
}

func TestGenerateHandler_CredentialOverrideRejectsUnscopedHeader(t *testing.T) {
	cases := map[string]string{
		"X-Upstream-API-Key":         "sk-any",
		CredentialHeaderPrefix + "x": "sk-unknown",
	}
	for header, value := range cases {
		t.Run(header, func(t *testing.T) {
			env := newHandlerEnv(t)
			env.primary.WithText("never")

			r := postJSON("/v1/text", `{"prompt":"hi"}`)
			r.Header.Set(header, value)
			w := httptest.NewRecorder()
			env.handler.HandleText(w, r)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotContains(t, w.Body.String(), value)
			assert.Zero(t, env.primary.TotalCalls())
			assert.Zero(t, env.backup.TotalCalls())
		})
	}
}

func TestGenerateHandler_HandleStream_SSE(t *testing.T) {
	env := newHandlerEnv(t)
	env.primary.WithStream(mocks.StreamScript{
		Chunks:  []string{"par"},
		FailErr: types.NewError(types.ErrUpstreamError, "cut").WithRetryable(true),
	})
	usage := types.ReportedUsage(1, 2, 0)
	env.backup.WithStream(mocks.StreamScript{Chunks: []string{"hel", "lo"}, Usage: &usage})

	srv := httptest.NewServer(http.HandlerFunc(env.handler.HandleStream))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	var chunks []api.StreamChunk
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var c api.StreamChunk
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c))
			chunks = append(chunks, c)
		}
	}

	assert.Equal(t, []string{"text", "segment_failed", "text", "text", "done"}, events)
	require.Len(t, chunks, 5)
	assert.Equal(t, "par", chunks[1].Partial)
	assert.Equal(t, string(types.ErrUpstreamError), chunks[1].ErrorCode)
	assert.Equal(t, "hello", chunks[4].Text)
	require.NotNil(t, chunks[4].Usage)
	assert.True(t, chunks[4].Usage.Reported)
	assert.Nil(t, chunks[0].Usage)
}

func TestGenerateHandler_HandleStreamWS(t *testing.T) {
	env := newHandlerEnv(t)
	env.primary.WithStream(mocks.StreamScript{Chunks: []string{"a", "b"}})

	srv := httptest.NewServer(http.HandlerFunc(env.handler.HandleStreamWS))
	t.Cleanup(srv.Close)

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, api.TextRequest{Prompt: "hi"}))

	var kinds []string
	for {
		var c api.StreamChunk
		if err := wsjson.Read(ctx, conn, &c); err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []string{"text", "text", "done"}, kinds)
}

func TestGenerateHandler_HandleStreamWS_InvalidRequest(t *testing.T) {
	env := newHandlerEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(env.handler.HandleStreamWS))
	t.Cleanup(srv.Close)

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, api.TextRequest{}))

	var c api.StreamChunk
	require.NoError(t, wsjson.Read(ctx, conn, &c))
	assert.Equal(t, string(fallback.ChunkFailed), c.Kind)
	assert.Equal(t, string(types.ErrInvalidRequest), c.ErrorCode)

	err = wsjson.Read(ctx, conn, &c)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
