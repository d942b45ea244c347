package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/aifallback/llm/fallback"
	"github.com/BaSui01/aifallback/types"
)

// =============================================================================
// 调度参数
// =============================================================================

// Options 请求级调度参数。
// @Description 降级顺序、模型覆盖与重试参数
type Options struct {
	// 后端降级顺序
	Order []string `json:"order,omitempty" example:"openai,anthropic"`
	// 后端到模型的覆盖
	Models map[string]string `json:"models,omitempty"`
	// 每个后端的重试次数
	Retries *int `json:"retries,omitempty" example:"2"`
	// 首次重试前的等待时间
	InitialDelay string `json:"initial_delay,omitempty" example:"500ms"`
	// 调用方业务功能名
	Caller string `json:"caller,omitempty" example:"summarizer"`
	// 日志详细程度 0-2
	Verbosity *int `json:"verbosity,omitempty" example:"1"`
	// 整个请求的超时时长
	Timeout string `json:"timeout,omitempty" example:"60s"`
}

// ToFallback 转换为调度器参数。
func (o Options) ToFallback() (fallback.Options, error) {
	out := fallback.Options{
		Order:     o.Order,
		Models:    o.Models,
		Retries:   o.Retries,
		Caller:    o.Caller,
		Verbosity: o.Verbosity,
	}
	if o.InitialDelay != "" {
		d, err := time.ParseDuration(o.InitialDelay)
		if err != nil {
			return out, fmt.Errorf("invalid initial_delay: %w", err)
		}
		out.InitialDelay = d
	}
	if o.Retries != nil && *o.Retries < 0 {
		return out, fmt.Errorf("retries must be >= 0")
	}
	if o.Verbosity != nil && (*o.Verbosity < 0 || *o.Verbosity > 2) {
		return out, fmt.Errorf("verbosity must be between 0 and 2")
	}
	return out, nil
}

// ParseTimeout 解析请求超时，空值返回 0。
func (o Options) ParseTimeout() (time.Duration, error) {
	if o.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(o.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	}
	return d, nil
}

// =============================================================================
// 文本与结构化对象
// =============================================================================

// TextRequest 文本生成请求。Prompt 非空时作为最后一条 user 消息追加。
// @Description 文本生成请求结构
type TextRequest struct {
	Options
	// 系统提示词
	SystemPrompt string `json:"system_prompt,omitempty"`
	// 对话消息
	Messages []types.Message `json:"messages,omitempty"`
	// 单条用户输入
	Prompt string `json:"prompt,omitempty" example:"Write a haiku"`
	// 生成的最大 token 数
	MaxTokens int `json:"max_tokens,omitempty" example:"1024"`
	// 采样温度（0-2）
	Temperature *float32 `json:"temperature,omitempty" example:"0.7"`
}

// Validate 校验请求
func (r *TextRequest) Validate() error {
	if len(r.Messages) == 0 && r.Prompt == "" {
		return fmt.Errorf("messages or prompt is required")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// ToFallback 转换为调度器请求。
func (r *TextRequest) ToFallback() (fallback.TextRequest, error) {
	opts, err := r.Options.ToFallback()
	if err != nil {
		return fallback.TextRequest{}, err
	}
	msgs := append([]types.Message(nil), r.Messages...)
	if r.Prompt != "" {
		msgs = append(msgs, types.NewUserMessage(r.Prompt))
	}
	return fallback.TextRequest{
		Options:      opts,
		SystemPrompt: r.SystemPrompt,
		Messages:     msgs,
		MaxTokens:    r.MaxTokens,
		Temperature:  r.Temperature,
	}, nil
}

// TextResponse 文本生成响应
// @Description 文本生成响应结构
type TextResponse struct {
	TrackID string      `json:"track_id"`
	Backend string      `json:"backend"`
	Model   string      `json:"model"`
	Text    string      `json:"text"`
	Usage   types.Usage `json:"usage"`
}

// ObjectResponse 结构化对象响应，Data 为解析后的 JSON
// @Description 结构化对象响应结构
type ObjectResponse struct {
	TrackID string          `json:"track_id"`
	Backend string          `json:"backend"`
	Model   string          `json:"model"`
	Data    json.RawMessage `json:"data"`
	Raw     string          `json:"raw"`
	Usage   types.Usage     `json:"usage"`
}

// =============================================================================
// 图片
// =============================================================================

// ImageRequest 图片生成请求
// @Description 图片生成请求结构
type ImageRequest struct {
	Options
	// 图片描述
	Prompt string `json:"prompt" example:"a lighthouse at dusk"`
	// 参考图片，http(s) URL 或 data URL，按顺序传给后端
	ReferenceImages []string `json:"reference_images,omitempty"`
	// 尺寸，例如 1024x1024
	Size string `json:"size,omitempty" example:"1024x1024"`
}

// Validate 校验请求
func (r *ImageRequest) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// ToFallback 转换为调度器请求。
func (r *ImageRequest) ToFallback() (fallback.ImageRequest, error) {
	opts, err := r.Options.ToFallback()
	if err != nil {
		return fallback.ImageRequest{}, err
	}
	return fallback.ImageRequest{
		Options:         opts,
		Prompt:          r.Prompt,
		ReferenceImages: r.ReferenceImages,
		Size:            r.Size,
	}, nil
}

// ImageResponse 图片生成响应
// @Description 图片生成响应结构
type ImageResponse struct {
	TrackID  string      `json:"track_id"`
	Backend  string      `json:"backend"`
	Model    string      `json:"model"`
	ImageURL string      `json:"image_url"`
	Usage    types.Usage `json:"usage"`
}

// =============================================================================
// 流式
// =============================================================================

// StreamChunk 流式分片的线上格式，SSE 与 WebSocket 共用。
// @Description 流式分片结构
type StreamChunk struct {
	Kind      string       `json:"kind"`
	TrackID   string       `json:"track_id"`
	Backend   string       `json:"backend,omitempty"`
	Model     string       `json:"model,omitempty"`
	Text      string       `json:"text,omitempty"`
	Partial   string       `json:"partial,omitempty"`
	Usage     *types.Usage `json:"usage,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorCode string       `json:"error_code,omitempty"`
}

// NewStreamChunk 从调度器分片构造线上格式；文本增量不携带用量。
func NewStreamChunk(c fallback.StreamChunk) StreamChunk {
	out := StreamChunk{
		Kind:    string(c.Kind),
		TrackID: c.TrackID,
		Backend: c.Backend,
		Model:   c.Model,
		Text:    c.Text,
		Partial: c.Partial,
		Error:   c.ErrorMessage(),
	}
	if c.Err != nil {
		out.ErrorCode = string(types.GetErrorCode(c.Err))
	}
	if c.Kind != fallback.ChunkText {
		usage := c.Usage
		out.Usage = &usage
	}
	return out
}
