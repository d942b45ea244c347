package gemini

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/image"
	"github.com/BaSui01/aifallback/llm/providers"
	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	providerName      = "gemini"
	defaultModel      = "gemini-2.5-flash"
	defaultImageModel = "gemini-2.5-flash-image"
)

// Config Gemini 后端配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
	ImageModel                   string `json:"image_model,omitempty" yaml:"image_model,omitempty"`
	// APIVersion 默认 v1beta
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
}

// Provider 实现 Google Gemini 后端
type Provider struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New 创建 Gemini 后端并校验默认凭证能够构造客户端
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v1beta"
	}
	p := &Provider{
		cfg:        cfg,
		httpClient: providers.NewHTTPClient(cfg.TimeoutOr(60*time.Second), true),
		logger:     logger.With(zap.String("provider", providerName)),
		clients:    make(map[string]*genai.Client),
	}
	if _, err := p.clientForKey(ctx, cfg.APIKey); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() string { return providerName }

// Capabilities 文本、流式、图片
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Text: true, Stream: true, Image: true}
}

func (p *Provider) client(ctx context.Context) (*genai.Client, error) {
	key := p.cfg.APIKey
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok && strings.TrimSpace(c.APIKey) != "" {
		key = strings.TrimSpace(c.APIKey)
	}
	return p.clientForKey(ctx, key)
}

func (p *Provider) clientForKey(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    p.cfg.BaseURL,
			APIVersion: p.cfg.APIVersion,
		},
	})
	if err != nil {
		return nil, types.NewConfigurationError("gemini client: " + err.Error())
	}
	p.clients[key] = gc
	return gc, nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.TimeoutOr(60*time.Second))
}

func (p *Provider) contentConfig(req *llm.TextRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// Generate 调用 generateContent
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	gc, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)
	res, err := gc.Models.GenerateContent(ctx, model, contents, p.contentConfig(req))
	if err != nil {
		return nil, mapError(err)
	}
	text, _ := collectParts(res)
	return &llm.TextResponse{Text: text, Usage: toUsage(res.UsageMetadata)}, nil
}

// GenerateStream 调用 streamGenerateContent。
// Gemini 每个分片的 usageMetadata 都是累计值，结束时只发送最后一次。
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.StreamEvent, error) {
	gc, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)
	cfg := p.contentConfig(req)

	ch := make(chan llm.StreamEvent, providers.DefaultStreamBuffer)
	go func() {
		defer close(ch)
		var last *genai.GenerateContentResponseUsageMetadata
		for res, err := range gc.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				p.logger.Debug("stream interrupted", zap.Error(err))
				providers.StreamFailed(ctx, ch, mapError(err))
				return
			}
			if text, _ := collectParts(res); text != "" {
				if !providers.SendEvent(ctx, ch, llm.StreamEvent{Text: text}) {
					return
				}
			}
			if res.UsageMetadata != nil {
				last = res.UsageMetadata
			}
		}
		if last != nil {
			u := toUsage(last)
			providers.SendEvent(ctx, ch, llm.StreamEvent{Usage: &u})
		}
	}()
	return ch, nil
}

// GenerateImage 使用原生图片输出，参考图按顺序放在提示词之前
func (p *Provider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	gc, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	parts := make([]*genai.Part, 0, len(req.ReferenceImages)+1)
	for _, ref := range req.ReferenceImages {
		part, err := imagePart(ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	model := providers.ChooseModel(req.Model, p.cfg.ImageModel, defaultImageModel)
	res, err := gc.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	)
	if err != nil {
		return nil, mapError(err)
	}
	_, blob := collectParts(res)
	if blob == nil {
		return nil, types.NewError(types.ErrUpstreamError, "response contains no image").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(providerName)
	}
	return &llm.ImageResponse{
		ImageURL: image.EncodeDataURL(blob.MIMEType, blob.Data),
		Usage:    toUsage(res.UsageMetadata),
	}, nil
}

func convertMessages(msgs []types.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Content))
		for _, cp := range m.Content {
			switch cp.Type {
			case types.PartImage:
				part, err := imagePart(cp.ImageURL)
				if err != nil {
					return nil, err
				}
				parts = append(parts, part)
			default:
				if cp.Text != "" {
					parts = append(parts, genai.NewPartFromText(cp.Text))
				}
			}
		}
		if len(parts) > 0 {
			out = append(out, genai.NewContentFromParts(parts, role))
		}
	}
	return out, nil
}

func imagePart(ref string) (*genai.Part, error) {
	if image.IsDataURL(ref) {
		mimeType, data, err := image.ParseDataURL(ref)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid image reference").
				WithCause(err).
				WithHTTPStatus(http.StatusBadRequest).
				WithProvider(providerName)
		}
		return genai.NewPartFromBytes(data, mimeType), nil
	}
	mimeType := mime.TypeByExtension(path.Ext(strings.SplitN(ref, "?", 2)[0]))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return genai.NewPartFromURI(ref, mimeType), nil
}

// collectParts 拼接文本分片，并返回第一个内联图片
func collectParts(res *genai.GenerateContentResponse) (string, *genai.Blob) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", nil
	}
	var (
		sb   strings.Builder
		blob *genai.Blob
	)
	for _, part := range res.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
		if blob == nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			blob = part.InlineData
		}
	}
	return sb.String(), blob
}

func toUsage(m *genai.GenerateContentResponseUsageMetadata) types.Usage {
	if m == nil {
		return types.Usage{}
	}
	return types.ReportedUsage(int(m.PromptTokenCount), int(m.CandidatesTokenCount), int(m.ThoughtsTokenCount))
}

// mapError 将 genai 错误映射为 types.Error
func mapError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.Code, apiErr.Message, providerName).WithVendorCode(apiErr.Status)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return providers.MapHTTPError(apiErrPtr.Code, apiErrPtr.Message, providerName).WithVendorCode(apiErrPtr.Status)
	}
	return providers.TransportError(err, providerName)
}

var _ llm.Provider = (*Provider)(nil)
