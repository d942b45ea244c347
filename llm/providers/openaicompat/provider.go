package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/image"
	"github.com/BaSui01/aifallback/llm/providers"
	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible backend.
type Config struct {
	// ProviderName is the backend identifier used in errors and logs.
	ProviderName string

	APIKey  string
	BaseURL string

	// DefaultModel is used when the request carries no model.
	DefaultModel  string
	FallbackModel string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
	// ImagesPath defaults to "/v1/images/generations".
	ImagesPath string

	// EnableImages declares image generation support. Many compatible
	// vendors have no images endpoint, in which case the call is rejected
	// without a request.
	EnableImages bool

	// BuildHeaders overrides the default Bearer header.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Provider 是 OpenAI 兼容后端的实现
type Provider struct {
	Cfg          Config
	Client       *http.Client
	StreamClient *http.Client
	Logger       *zap.Logger
}

// New creates a new OpenAI-compatible backend with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ImagesPath == "" {
		cfg.ImagesPath = "/v1/images/generations"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compatible"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:          cfg,
		Client:       providers.NewHTTPClient(timeout, false),
		StreamClient: providers.NewHTTPClient(timeout, true),
		Logger:       logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// Capabilities 返回该后端的静态能力
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Text: true, Stream: true, Image: p.Cfg.EnableImages}
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// resolveAPIKey returns the API key, checking for context override first.
func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok {
		if strings.TrimSpace(c.APIKey) != "" {
			return strings.TrimSpace(c.APIKey)
		}
	}
	return p.Cfg.APIKey
}

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.Cfg.BaseURL, "/"), path)
}

func (p *Provider) post(ctx context.Context, client *http.Client, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to marshal request").
			WithCause(err).
			WithProvider(p.Name())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid %s endpoint: %v", p.Name(), err))
	}
	p.buildHeaders(httpReq, p.resolveAPIKey(ctx))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		return nil, providers.ResponseError(resp, p.Name())
	}
	return resp, nil
}

func (p *Provider) chatBody(req *llm.TextRequest, stream bool) chatRequest {
	body := chatRequest{
		Model:       providers.ChooseModel(req.Model, p.Cfg.DefaultModel, p.Cfg.FallbackModel),
		Messages:    convertMessages(req.SystemPrompt, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return body
}

// Generate performs a non-streaming chat completion.
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	resp, err := p.post(ctx, p.Client, p.Cfg.EndpointPath, p.chatBody(req, false))
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var oaResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.DecodeError(err, p.Name())
	}
	if len(oaResp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "response contains no choices").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(p.Name())
	}
	return &llm.TextResponse{
		Text:  oaResp.Choices[0].Message.Content,
		Usage: oaResp.Usage.toUsage(),
	}, nil
}

// GenerateStream performs a streaming chat completion via SSE.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.StreamEvent, error) {
	resp, err := p.post(ctx, p.StreamClient, p.Cfg.EndpointPath, p.chatBody(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamEvent, providers.DefaultStreamBuffer)
	go func() {
		defer close(ch)
		defer providers.SafeCloseBody(resp.Body)
		p.readStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

func (p *Provider) readStream(ctx context.Context, body io.Reader, ch chan<- llm.StreamEvent) {
	err := providers.ScanSSE(body, func(_, data string) error {
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return providers.DecodeError(err, p.Name())
		}
		// 流内错误
		if chunk.Error != nil {
			return types.NewError(types.ErrUpstreamError, chunk.Error.Message).
				WithHTTPStatus(http.StatusBadGateway).
				WithRetryable(true).
				WithProvider(p.Name()).
				WithVendorCode(chunk.Error.Type)
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			if !providers.SendEvent(ctx, ch, llm.StreamEvent{Text: c.Delta.Content}) {
				return ctx.Err()
			}
		}
		if chunk.Usage != nil {
			u := chunk.Usage.toUsage()
			if !providers.SendEvent(ctx, ch, llm.StreamEvent{Usage: &u}) {
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			p.Logger.Debug("stream interrupted", zap.Error(err))
		}
		// 没有 [DONE] 说明连接中途断开
		if errors.Is(err, providers.ErrSSETruncated) {
			err = providers.TruncatedStreamError(p.Name())
		}
		if _, ok := types.AsError(err); !ok && ctx.Err() == nil {
			err = providers.TransportError(err, p.Name())
		}
		providers.StreamFailed(ctx, ch, err)
	}
}

// GenerateImage 调用 images/generations 接口，b64_json 结果转换为 data URL
func (p *Provider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	if !p.Cfg.EnableImages {
		return nil, types.NewUnsupportedError(p.Name(), "image generation")
	}
	body := imageRequest{
		Model:  providers.ChooseModel(req.Model, p.Cfg.DefaultModel, p.Cfg.FallbackModel),
		Prompt: req.Prompt,
		N:      1,
		Size:   req.Size,
		Image:  req.ReferenceImages,
	}
	resp, err := p.post(ctx, p.Client, p.Cfg.ImagesPath, body)
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var imgResp imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&imgResp); err != nil {
		return nil, providers.DecodeError(err, p.Name())
	}
	if len(imgResp.Data) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "response contains no image").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(p.Name())
	}

	out := &llm.ImageResponse{ImageURL: imgResp.Data[0].URL}
	if out.ImageURL == "" && imgResp.Data[0].B64JSON != "" {
		out.ImageURL = image.Base64DataURL("image/png", imgResp.Data[0].B64JSON)
	}
	if out.ImageURL == "" {
		return nil, types.NewError(types.ErrUpstreamError, "image result is empty").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(p.Name())
	}
	if imgResp.Usage != nil {
		out.Usage = types.ReportedUsage(imgResp.Usage.InputTokens, imgResp.Usage.OutputTokens, 0)
	}
	return out, nil
}

var _ llm.Provider = (*Provider)(nil)
