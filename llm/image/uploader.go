package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/aifallback/types"
)

// Uploader 把 data URL 转换成可访问的 URL。
type Uploader interface {
	Upload(ctx context.Context, dataURL string) (string, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, dataURL string) (string, error)

// Upload implements Uploader.
func (f UploaderFunc) Upload(ctx context.Context, dataURL string) (string, error) {
	return f(ctx, dataURL)
}

// PassthroughUploader 原样返回 data URL。
type PassthroughUploader struct{}

// Upload implements Uploader.
func (PassthroughUploader) Upload(_ context.Context, dataURL string) (string, error) {
	return dataURL, nil
}

// HTTPUploader 以图片原始字节 POST 到 Endpoint，响应体形如 {"url": "..."}。
type HTTPUploader struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

// NewHTTPUploader creates an HTTPUploader with a bounded client.
func NewHTTPUploader(endpoint, token string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPUploader{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: timeout},
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, dataURL string) (string, error) {
	mimeType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "invalid image payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, "image upload failed").
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", types.NewError(types.ErrUpstreamError, fmt.Sprintf("image upload failed: status=%d body=%s", resp.StatusCode, body)).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", types.NewError(types.ErrUpstreamError, "image upload returned empty url")
	}
	return out.URL, nil
}
