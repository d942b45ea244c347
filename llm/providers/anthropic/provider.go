package anthropic

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

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-5"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Config Claude 后端配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
	// MaxTokens 是请求未指定时的默认值，Messages API 要求必填
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// Provider 实现 Anthropic Claude 后端。
// Claude API 与 OpenAI 有显著差异：
// 1. 认证使用 x-api-key 请求头而非 Bearer Token
// 2. 请求格式不同（system 消息单独传递）
// 3. 流式响应使用 SSE 格式但结构不同
type Provider struct {
	llm.Unsupported

	cfg          Config
	client       *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// New 创建 Claude 后端。
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.TimeoutOr(60 * time.Second) // Claude 响应可能较慢
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Unsupported:  llm.Unsupported{Backend: "anthropic"},
		cfg:          cfg,
		client:       providers.NewHTTPClient(timeout, false),
		streamClient: providers.NewHTTPClient(timeout, true),
		logger:       logger.With(zap.String("provider", "anthropic")),
	}
}

func (p *Provider) Name() string { return "anthropic" }

// Capabilities 文本与流式
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Text: true, Stream: true}
}

type claudeMessage struct {
	Role    string          `json:"role"` // user 或 assistant
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type   string        `json:"type"` // text, image
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"` // url, base64
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float32        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage,omitempty"`
}

// 流式响应的事件
type claudeStreamEvent struct {
	Type    string          `json:"type"`
	Index   int             `json:"index,omitempty"`
	Delta   *claudeDelta    `json:"delta,omitempty"`
	Message *claudeResponse `json:"message,omitempty"`
	Usage   *claudeUsage    `json:"usage,omitempty"`
	Error   *claudeAPIError `json:"error,omitempty"`
}

type claudeDelta struct {
	Type       string `json:"type"` // text_delta
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type claudeAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok {
		if strings.TrimSpace(c.APIKey) != "" {
			return strings.TrimSpace(c.APIKey)
		}
	}
	return p.cfg.APIKey
}

func (p *Provider) buildRequest(req *llm.TextRequest, stream bool) (claudeRequest, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return claudeRequest{}, err
	}
	system := req.SystemPrompt
	if req.JSONMode {
		// Messages API 没有 JSON 模式开关，用提示词约束
		system = strings.TrimSpace(system + "\n\nRespond with a single valid JSON value and nothing else.")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	return claudeRequest{
		Model:       providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		Messages:    msgs,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}, nil
}

func convertMessages(msgs []types.Message) ([]claudeMessage, error) {
	out := make([]claudeMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == types.RoleSystem {
			// system 角色只能出现在 system 字段，其余按 user 处理
			role = string(types.RoleUser)
		}
		cm := claudeMessage{Role: role}
		for _, part := range m.Content {
			switch part.Type {
			case types.PartImage:
				src, err := imageSource(part.ImageURL)
				if err != nil {
					return nil, err
				}
				cm.Content = append(cm.Content, claudeContent{Type: "image", Source: src})
			default:
				if part.Text != "" {
					cm.Content = append(cm.Content, claudeContent{Type: "text", Text: part.Text})
				}
			}
		}
		if len(cm.Content) > 0 {
			out = append(out, cm)
		}
	}
	return out, nil
}

func imageSource(ref string) (*claudeSource, error) {
	if !image.IsDataURL(ref) {
		return &claudeSource{Type: "url", URL: ref}, nil
	}
	mime, _, err := image.ParseDataURL(ref)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid image reference").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider("anthropic")
	}
	_, encoded, _ := strings.Cut(ref, ",")
	return &claudeSource{Type: "base64", MediaType: mime, Data: encoded}, nil
}

func (p *Provider) post(ctx context.Context, client *http.Client, body claudeRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to marshal request").WithCause(err).WithProvider(p.Name())
	}
	endpoint := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid anthropic endpoint: %v", err))
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

// Generate 调用 /v1/messages 完成一次文本生成
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	body, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, p.client, body)
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, providers.DecodeError(err, p.Name())
	}

	var sb strings.Builder
	for _, c := range cr.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	out := &llm.TextResponse{Text: sb.String()}
	if cr.Usage != nil {
		out.Usage = types.ReportedUsage(cr.Usage.InputTokens, cr.Usage.OutputTokens, 0)
	}
	return out, nil
}

// GenerateStream 流式生成。用量在 message_stop 前合并后发送一次。
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.StreamEvent, error) {
	body, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, p.streamClient, body)
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
	var (
		usage    types.Usage
		reported bool
	)
	flushUsage := func() bool {
		if !reported {
			return true
		}
		reported = false
		u := usage
		return providers.SendEvent(ctx, ch, llm.StreamEvent{Usage: &u})
	}

	err := providers.ScanSSE(body, func(_, data string) error {
		var event claudeStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return providers.DecodeError(err, p.Name())
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
				usage.OutputTokens = event.Message.Usage.OutputTokens
				usage.Reported = true
				reported = true
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if !providers.SendEvent(ctx, ch, llm.StreamEvent{Text: event.Delta.Text}) {
					return ctx.Err()
				}
			}
		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
				usage.Reported = true
				reported = true
			}
		case "message_stop":
			if !flushUsage() {
				return ctx.Err()
			}
			return providers.ErrStopSSE
		case "error":
			msg := "stream error"
			vendor := ""
			if event.Error != nil {
				msg, vendor = event.Error.Message, event.Error.Type
			}
			e := types.NewError(types.ErrUpstreamError, msg).
				WithHTTPStatus(http.StatusBadGateway).
				WithRetryable(true).
				WithProvider(p.Name()).
				WithVendorCode(vendor)
			if vendor == "overloaded_error" {
				e.Code = types.ErrModelOverloaded
			}
			return e
		}
		return nil
	})
	if errors.Is(err, providers.ErrSSETruncated) {
		// 未收到 message_stop：先交付已知用量，再按中途失败处理
		if !flushUsage() {
			return
		}
		err = providers.TruncatedStreamError(p.Name())
	}
	if err != nil {
		if _, ok := types.AsError(err); !ok && ctx.Err() == nil {
			err = providers.TransportError(err, p.Name())
		}
		p.logger.Debug("stream interrupted", zap.Error(err))
		providers.StreamFailed(ctx, ch, err)
	}
}

var _ llm.Provider = (*Provider)(nil)
