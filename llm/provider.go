package llm

import (
	"context"

	"github.com/BaSui01/aifallback/types"
)

// Operation 请求的操作类别，用于模型表查找与追踪事件。
type Operation string

const (
	OpText   Operation = "text"
	OpObject Operation = "object"
	OpImage  Operation = "image"
	OpStream Operation = "stream"
)

// Capabilities 后端的静态能力声明。
type Capabilities struct {
	Text   bool `json:"text" yaml:"text"`
	Stream bool `json:"stream" yaml:"stream"`
	Image  bool `json:"image" yaml:"image"`
}

// Supports reports whether a backend with these capabilities can serve op.
func (c Capabilities) Supports(op Operation) bool {
	switch op {
	case OpText, OpObject:
		return c.Text
	case OpStream:
		return c.Stream
	case OpImage:
		return c.Image
	default:
		return false
	}
}

// TextRequest 文本生成请求（已经绑定到某个具体模型）。
type TextRequest struct {
	Model        string          `json:"model"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Messages     []types.Message `json:"messages"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	Temperature  *float32        `json:"temperature,omitempty"`
	// JSONMode 提示后端输出 JSON；不支持的后端忽略即可
	JSONMode bool `json:"json_mode,omitempty"`
}

// TextResponse 文本生成结果。
type TextResponse struct {
	Text  string      `json:"text"`
	Usage types.Usage `json:"usage"`
}

// StreamEvent 是后端流中的一个事件：文本增量、用量报告或错误三者之一。
// Err 非空表示流异常终止，之后通道会被关闭。
type StreamEvent struct {
	Text  string       `json:"text,omitempty"`
	Usage *types.Usage `json:"usage,omitempty"`
	Err   error        `json:"-"`
}

// ImageRequest 图片生成请求。ReferenceImages 为有序的 URL 或 data URL。
type ImageRequest struct {
	Model           string   `json:"model"`
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Size            string   `json:"size,omitempty"`
}

// ImageResponse 图片生成结果，ImageURL 可以是 http(s) URL 或 data URL。
type ImageResponse struct {
	ImageURL string      `json:"image_url"`
	Usage    types.Usage `json:"usage"`
}

// Provider 后端能力接口。
//
// 不支持的操作必须立即返回 types.ErrUnsupportedOperation 错误，
// 不得发起任何网络请求。GenerateStream 返回的通道由实现方关闭。
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *TextRequest) (*TextResponse, error)
	GenerateStream(ctx context.Context, req *TextRequest) (<-chan StreamEvent, error)
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}

// Unsupported 可嵌入适配器，为未实现的操作提供统一的不支持错误。
type Unsupported struct {
	Backend string
}

func (u Unsupported) Generate(context.Context, *TextRequest) (*TextResponse, error) {
	return nil, types.NewUnsupportedError(u.Backend, "text generation")
}

func (u Unsupported) GenerateStream(context.Context, *TextRequest) (<-chan StreamEvent, error) {
	return nil, types.NewUnsupportedError(u.Backend, "streaming")
}

func (u Unsupported) GenerateImage(context.Context, *ImageRequest) (*ImageResponse, error) {
	return nil, types.NewUnsupportedError(u.Backend, "image generation")
}
