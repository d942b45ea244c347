package flux

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/providers"
	"github.com/BaSui01/aifallback/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, pollStatuses ...string) (*Provider, *fluxRequest, *atomic.Int32) {
	t.Helper()
	var (
		submitted fluxRequest
		polls     atomic.Int32
		srv       *httptest.Server
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/flux-2-pro", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bfl-key", r.Header.Get("x-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		_, _ = fmt.Fprintf(w, `{"id":"task-1","status":"Pending","polling_url":"%s/poll?id=task-1"}`, srv.URL)
	})
	mux.HandleFunc("GET /poll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bfl-key", r.Header.Get("x-key"))
		n := int(polls.Add(1)) - 1
		status := pollStatuses[len(pollStatuses)-1]
		if n < len(pollStatuses) {
			status = pollStatuses[n]
		}
		if status == "Ready" {
			_, _ = fmt.Fprint(w, `{"id":"task-1","status":"Ready","result":{"sample":"https://delivery/img.jpeg"}}`)
			return
		}
		_, _ = fmt.Fprintf(w, `{"id":"task-1","status":%q}`, status)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := New(Config{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "bfl-key", BaseURL: srv.URL, Timeout: 5 * time.Second},
		PollInterval:       time.Millisecond,
		MaxPolls:           5,
	}, zap.NewNop())
	return p, &submitted, &polls
}

func TestGenerateImage_PollsUntilReady(t *testing.T) {
	p, submitted, polls := newTestServer(t, "Pending", "Processing", "Ready")

	resp, err := p.GenerateImage(context.Background(), &llm.ImageRequest{
		Prompt:          "a lighthouse",
		Size:            "1536x1024",
		ReferenceImages: []string{"https://ref/1.png", "https://ref/2.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://delivery/img.jpeg", resp.ImageURL)
	assert.False(t, resp.Usage.Reported)
	assert.Equal(t, int32(3), polls.Load())

	assert.Equal(t, "16:9", submitted.AspectRatio)
	assert.Equal(t, "https://ref/1.png", submitted.InputImage)
	assert.Equal(t, "https://ref/2.png", submitted.InputImage2)
	assert.Empty(t, submitted.InputImage3)
}

func TestGenerateImage_Failures(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []string
		code      types.ErrorCode
		retryable bool
	}{
		{"task error", []string{"Error"}, types.ErrUpstreamError, true},
		{"moderated", []string{"Content Moderated"}, types.ErrContentFiltered, false},
		{"never ready", []string{"Pending"}, types.ErrUpstreamTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestServer(t, tt.statuses...)
			_, err := p.GenerateImage(context.Background(), &llm.ImageRequest{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestGenerateImage_TooManyReferences(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.GenerateImage(context.Background(), &llm.ImageRequest{
		Prompt:          "x",
		ReferenceImages: []string{"a", "b", "c", "d", "e"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestTextUnsupported(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.Generate(context.Background(), &llm.TextRequest{})
	assert.True(t, types.IsUnsupported(err))
	_, err = p.GenerateStream(context.Background(), &llm.TextRequest{})
	assert.True(t, types.IsUnsupported(err))
	assert.Equal(t, llm.Capabilities{Image: true}, p.Capabilities())
}

func TestAspectRatio(t *testing.T) {
	assert.Equal(t, "1:1", aspectRatio(""))
	assert.Equal(t, "1:1", aspectRatio("1024x1024"))
	assert.Equal(t, "9:16", aspectRatio("768x1024"))
	assert.Equal(t, "16:9", aspectRatio("1024x768"))
	assert.Equal(t, "1:1", aspectRatio("bogus"))
}
