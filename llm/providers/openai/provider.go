package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/image"
	"github.com/BaSui01/aifallback/llm/providers"
	"github.com/BaSui01/aifallback/types"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	providerName      = "openai"
	defaultModel      = "gpt-5.2"
	defaultImageModel = "gpt-image-1"
)

// Config OpenAI 后端配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
	Organization                 string `json:"organization,omitempty" yaml:"organization,omitempty"`
	ImageModel                   string `json:"image_model,omitempty" yaml:"image_model,omitempty"`
}

// Provider 实现 OpenAI 官方后端
type Provider struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	clients map[string]*goopenai.Client
}

// New 创建 OpenAI 后端实例.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:        cfg,
		httpClient: providers.NewHTTPClient(cfg.TimeoutOr(60*time.Second), true),
		logger:     logger.With(zap.String("provider", providerName)),
		clients:    make(map[string]*goopenai.Client),
	}
}

func (p *Provider) Name() string { return providerName }

// Capabilities 文本、流式、图片
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Text: true, Stream: true, Image: true}
}

// client 按 API key 复用 go-openai 客户端。
// 整体超时交给 ctx；httpClient 只限制响应头等待。
func (p *Provider) client(ctx context.Context) *goopenai.Client {
	key := p.cfg.APIKey
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok && strings.TrimSpace(c.APIKey) != "" {
		key = strings.TrimSpace(c.APIKey)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c
	}
	cc := goopenai.DefaultConfig(key)
	if p.cfg.BaseURL != "" {
		base := strings.TrimRight(p.cfg.BaseURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		cc.BaseURL = base
	}
	cc.OrgID = p.cfg.Organization
	cc.HTTPClient = p.httpClient
	c := goopenai.NewClientWithConfig(cc)
	p.clients[key] = c
	return c
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.TimeoutOr(60*time.Second))
}

func (p *Provider) chatRequest(req *llm.TextRequest) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		msg := goopenai.ChatCompletionMessage{Role: string(m.Role)}
		if !m.HasImages() {
			msg.Content = m.Text()
		} else {
			for _, part := range m.Content {
				switch part.Type {
				case types.PartImage:
					msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
						Type:     goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{URL: part.ImageURL},
					})
				default:
					msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
						Type: goopenai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		}
		msgs = append(msgs, msg)
	}

	out := goopenai.ChatCompletionRequest{
		Model:               providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.JSONMode {
		out.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

func toUsage(u goopenai.Usage) types.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return types.Usage{}
	}
	reasoning := 0
	if u.CompletionTokensDetails != nil {
		reasoning = u.CompletionTokensDetails.ReasoningTokens
	}
	return types.ReportedUsage(u.PromptTokens, u.CompletionTokens, reasoning)
}

// Generate 完成一次 Chat Completions 调用
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.client(ctx).CreateChatCompletion(ctx, p.chatRequest(req))
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "response contains no choices").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(providerName)
	}
	return &llm.TextResponse{
		Text:  resp.Choices[0].Message.Content,
		Usage: toUsage(resp.Usage),
	}, nil
}

// GenerateStream 流式生成，末尾 chunk 携带用量
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.StreamEvent, error) {
	creq := p.chatRequest(req)
	creq.Stream = true
	creq.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	stream, err := p.client(ctx).CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, mapError(err)
	}

	ch := make(chan llm.StreamEvent, providers.DefaultStreamBuffer)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				p.logger.Debug("stream interrupted", zap.Error(err))
				providers.StreamFailed(ctx, ch, mapError(err))
				return
			}
			for _, choice := range response.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !providers.SendEvent(ctx, ch, llm.StreamEvent{Text: choice.Delta.Content}) {
					return
				}
			}
			if response.Usage != nil {
				u := toUsage(*response.Usage)
				if !providers.SendEvent(ctx, ch, llm.StreamEvent{Usage: &u}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

// GenerateImage 调用 images/generations
func (p *Provider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	if len(req.ReferenceImages) > 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "reference images are not supported by this backend").
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(providerName)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	model := providers.ChooseModel(req.Model, p.cfg.ImageModel, defaultImageModel)
	ireq := goopenai.ImageRequest{
		Prompt: req.Prompt,
		Model:  model,
		N:      1,
		Size:   req.Size,
	}
	// gpt-image-* 只返回 b64_json，不接受 response_format
	if !strings.HasPrefix(model, "gpt-image") {
		ireq.ResponseFormat = goopenai.CreateImageResponseFormatB64JSON
	}

	resp, err := p.client(ctx).CreateImage(ctx, ireq)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Data) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "response contains no image").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(providerName)
	}
	url := resp.Data[0].URL
	if url == "" && resp.Data[0].B64JSON != "" {
		url = image.Base64DataURL("image/png", resp.Data[0].B64JSON)
	}
	if url == "" {
		return nil, types.NewError(types.ErrUpstreamError, "image result is empty").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(providerName)
	}
	return &llm.ImageResponse{ImageURL: url}, nil
}

// mapError 将 go-openai 错误映射为 types.Error
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		e := providers.MapHTTPError(apiErr.HTTPStatusCode, apiErr.Message, providerName).
			WithVendorCode(apiErr.Type).
			WithCause(err)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			e.VendorCode = code
		}
		return e
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return providers.MapHTTPError(reqErr.HTTPStatusCode, reqErr.Error(), providerName).WithCause(err)
	}
	return providers.TransportError(err, providerName)
}

var _ llm.Provider = (*Provider)(nil)
