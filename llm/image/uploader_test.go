package image

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/aifallback/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataURL(t *testing.T) {
	t.Parallel()

	url := EncodeDataURL("image/jpeg", []byte{0xff, 0xd8, 0x01})
	assert.True(t, IsDataURL(url))

	mimeType, data, err := ParseDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)
	assert.Equal(t, []byte{0xff, 0xd8, 0x01}, data)

	for _, bad := range []string{"https://x/y.png", "data:image/png;base64", "data:image/png,raw", "data:image/png;base64,@@@"} {
		_, _, err := ParseDataURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestPassthroughUploader(t *testing.T) {
	t.Parallel()

	got, err := PassthroughUploader{}.Upload(context.Background(), "data:image/png;base64,AA==")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AA==", got)
}

func TestHTTPUploader_Upload(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("png-bytes"), body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.com/1.png"}`))
	}))
	defer server.Close()

	u := NewHTTPUploader(server.URL, "tok", time.Second)
	got, err := u.Upload(context.Background(), EncodeDataURL("image/png", []byte("png-bytes")))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/1.png", got)
}

func TestHTTPUploader_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer server.Close()

	u := NewHTTPUploader(server.URL, "", time.Second)
	_, err := u.Upload(context.Background(), EncodeDataURL("image/png", []byte("x")))
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}
