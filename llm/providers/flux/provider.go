package flux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/providers"
	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
)

const (
	providerName = "flux"
	// Regional: api.eu.bfl.ai (EU), api.us.bfl.ai (US)
	defaultBaseURL = "https://api.bfl.ai"
	defaultModel   = "flux-2-pro"
	// 最多参考图数量
	maxInputImages = 4
)

// Config Flux 后端配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
	PollInterval                 time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	MaxPolls                     int           `json:"max_polls,omitempty" yaml:"max_polls,omitempty"`
}

// Provider implements image generation using Black Forest Labs Flux.
// API Docs: https://docs.bfl.ai/quick_start/generating_images
type Provider struct {
	llm.Unsupported

	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a new Flux image backend.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 120
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Unsupported: llm.Unsupported{Backend: providerName},
		cfg:         cfg,
		client:      providers.NewHTTPClient(cfg.TimeoutOr(120*time.Second), false),
		logger:      logger.With(zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

// Capabilities 仅图片
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Image: true}
}

type fluxRequest struct {
	Prompt       string `json:"prompt"`
	AspectRatio  string `json:"aspect_ratio,omitempty"` // e.g., "1:1", "16:9", "9:16"
	OutputFormat string `json:"output_format,omitempty"`
	InputImage   string `json:"input_image,omitempty"`
	InputImage2  string `json:"input_image_2,omitempty"`
	InputImage3  string `json:"input_image_3,omitempty"`
	InputImage4  string `json:"input_image_4,omitempty"`
}

type fluxResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PollingURL string `json:"polling_url,omitempty"`
	Result     struct {
		Sample string `json:"sample"` // Signed URL (valid 10 min)
	} `json:"result,omitempty"`
}

// aspectRatio 将 WxH 换算成 Flux 2.x 接受的宽高比
func aspectRatio(size string) string {
	var width, height int
	if _, err := fmt.Sscanf(size, "%dx%d", &width, &height); err != nil || width <= 0 || height <= 0 {
		return "1:1"
	}
	switch {
	case width == height:
		return "1:1"
	case width > height:
		return "16:9"
	default:
		return "9:16"
	}
}

func (p *Provider) apiKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok && strings.TrimSpace(c.APIKey) != "" {
		return strings.TrimSpace(c.APIKey)
	}
	return p.cfg.APIKey
}

// GenerateImage submits a task and polls until it is ready.
// Endpoint: POST /v1/{model}, auth via x-key header.
func (p *Provider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	if len(req.ReferenceImages) > maxInputImages {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("flux accepts at most %d reference images", maxInputImages)).
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(providerName)
	}
	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)

	body := fluxRequest{
		Prompt:       req.Prompt,
		AspectRatio:  aspectRatio(req.Size),
		OutputFormat: "jpeg",
	}
	inputs := []*string{&body.InputImage, &body.InputImage2, &body.InputImage3, &body.InputImage4}
	for i, ref := range req.ReferenceImages {
		*inputs[i] = ref
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to marshal request").WithCause(err).WithProvider(providerName)
	}
	endpoint := fmt.Sprintf("%s/v1/%s", strings.TrimRight(p.cfg.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid flux endpoint: %v", err))
	}
	key := p.apiKey(ctx)
	httpReq.Header.Set("x-key", key)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, providerName)
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, providers.ResponseError(resp, providerName)
	}

	var fResp fluxResponse
	if err := json.NewDecoder(resp.Body).Decode(&fResp); err != nil {
		return nil, providers.DecodeError(err, providerName)
	}

	if fResp.Status != "Ready" {
		pollingURL := fResp.PollingURL
		if pollingURL == "" {
			// Fallback for legacy endpoints
			pollingURL = fmt.Sprintf("%s/v1/get_result?id=%s", strings.TrimRight(p.cfg.BaseURL, "/"), fResp.ID)
		}
		result, err := p.pollResult(ctx, pollingURL, key)
		if err != nil {
			return nil, err
		}
		fResp = *result
	}
	if fResp.Result.Sample == "" {
		return nil, types.NewError(types.ErrUpstreamError, "flux result has no sample").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(providerName)
	}
	// Flux 不返回 token 用量
	return &llm.ImageResponse{ImageURL: fResp.Result.Sample}, nil
}

// pollResult polls the task until Ready.
// 单次轮询的网络错误只记录日志，继续轮询。
func (p *Provider) pollResult(ctx context.Context, pollingURL, key string) (*fluxResponse, error) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for i := 0; i < p.cfg.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		fResp, err := p.poll(ctx, pollingURL, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Debug("poll failed", zap.Int("attempt", i), zap.Error(err))
			continue
		}

		switch fResp.Status {
		case "Ready":
			return fResp, nil
		case "Error", "Failed":
			return nil, types.NewError(types.ErrUpstreamError, "flux generation failed").
				WithHTTPStatus(http.StatusBadGateway).
				WithRetryable(true).
				WithProvider(providerName)
		case "Content Moderated", "Request Moderated":
			return nil, types.NewError(types.ErrContentFiltered, "flux moderated the request").
				WithHTTPStatus(http.StatusBadRequest).
				WithProvider(providerName)
		}
	}

	return nil, types.NewError(types.ErrUpstreamTimeout, "flux generation timeout").
		WithHTTPStatus(http.StatusGatewayTimeout).
		WithRetryable(true).
		WithProvider(providerName)
}

func (p *Provider) poll(ctx context.Context, pollingURL, key string) (*fluxResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollingURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-key", key)
	httpReq.Header.Set("accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, providers.ResponseError(resp, providerName)
	}
	var fResp fluxResponse
	if err := json.NewDecoder(resp.Body).Decode(&fResp); err != nil {
		return nil, err
	}
	return &fResp, nil
}

var _ llm.Provider = (*Provider)(nil)
