package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/providers"
	"github.com/BaSui01/aifallback/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:  "sk-ant",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}}, zap.NewNop())
}

func drain(t *testing.T, ch <-chan llm.StreamEvent) []llm.StreamEvent {
	t.Helper()
	var out []llm.StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestGenerate(t *testing.T) {
	var got claudeRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"id":"msg_1","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],
			"usage":{"input_tokens":12,"output_tokens":4}}`)
	})

	resp, err := p.Generate(context.Background(), &llm.TextRequest{
		SystemPrompt: "sys",
		Messages: []types.Message{{Role: types.RoleUser, Content: []types.ContentPart{
			types.TextPart("describe"),
			types.ImagePart("data:image/jpeg;base64,/9j/AA=="),
			types.ImagePart("https://img/2.png"),
		}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Text)
	assert.Equal(t, types.ReportedUsage(12, 4, 0), resp.Usage)

	assert.Equal(t, defaultModel, got.Model)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	content := got.Messages[0].Content
	require.Len(t, content, 3)
	require.NotNil(t, content[1].Source)
	assert.Equal(t, "base64", content[1].Source.Type)
	assert.Equal(t, "image/jpeg", content[1].Source.MediaType)
	assert.Equal(t, "/9j/AA==", content[1].Source.Data)
	assert.Equal(t, "url", content[2].Source.Type)
}

func TestGenerate_JSONModeAddsInstruction(t *testing.T) {
	var got claudeRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"content":[{"type":"text","text":"{}"}]}`)
	})
	resp, err := p.Generate(context.Background(), &llm.TextRequest{Model: "claude-x", JSONMode: true})
	require.NoError(t, err)
	assert.Contains(t, got.System, "JSON")
	assert.False(t, resp.Usage.Reported)
}

func TestGenerate_Overloaded(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(529)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})
	_, err := p.Generate(context.Background(), &llm.TextRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, types.ErrModelOverloaded, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestGenerateStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m1\",\"usage\":{\"input_tokens\":9,\"output_tokens\":1}}}\n\n")
		_, _ = fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		_, _ = fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		_, _ = fmt.Fprint(w, "event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":5}}\n\n")
		_, _ = fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	})

	ch, err := p.GenerateStream(context.Background(), &llm.TextRequest{Model: "m"})
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "lo", events[1].Text)
	require.NotNil(t, events[2].Usage)
	assert.Equal(t, types.ReportedUsage(9, 5, 0), *events[2].Usage)
}

func TestGenerateStream_ErrorEvent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n")
		_, _ = fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})

	ch, err := p.GenerateStream(context.Background(), &llm.TextRequest{Model: "m"})
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, "par", events[0].Text)
	require.Error(t, events[1].Err)
	assert.Equal(t, types.ErrModelOverloaded, types.GetErrorCode(events[1].Err))
}

func TestGenerateStream_MissingMessageStop(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m1\",\"usage\":{\"input_tokens\":9,\"output_tokens\":1}}}\n\n")
		_, _ = fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
	})

	ch, err := p.GenerateStream(context.Background(), &llm.TextRequest{Model: "m"})
	require.NoError(t, err)
	events := drain(t, ch)

	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Text)
	require.NotNil(t, events[1].Usage)
	assert.Equal(t, types.ReportedUsage(9, 1, 0), *events[1].Usage)
	require.Error(t, events[2].Err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(events[2].Err))
	assert.True(t, types.IsRetryable(events[2].Err))
}

func TestGenerateImage_Unsupported(t *testing.T) {
	called := false
	p := newTestProvider(t, func(http.ResponseWriter, *http.Request) { called = true })
	_, err := p.GenerateImage(context.Background(), &llm.ImageRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, types.IsUnsupported(err))
	assert.False(t, called)
	assert.False(t, p.Capabilities().Image)
}
