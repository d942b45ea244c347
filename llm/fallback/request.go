package fallback

import (
	"time"

	"github.com/BaSui01/aifallback/types"
)

// Options 是所有请求共享的调度参数，零值表示使用 Defaults。
type Options struct {
	// Order 后端降级顺序
	Order []string `json:"order,omitempty"`
	// Models 后端到模型的映射，覆盖同一后端的默认模型
	Models map[string]string `json:"models,omitempty"`
	// Retries 每个后端的重试次数，nil 表示使用默认值
	Retries *int `json:"retries,omitempty"`
	// InitialDelay 首次重试前的等待时间
	InitialDelay time.Duration `json:"initial_delay,omitempty"`
	// Caller 发起调用的业务功能名，写入追踪事件
	Caller string `json:"caller,omitempty"`
	// Verbosity 0 仅错误，1 警告，2 调试
	Verbosity *int `json:"verbosity,omitempty"`
}

// TextRequest 文本及结构化对象请求。
type TextRequest struct {
	Options
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Messages     []types.Message `json:"messages"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	Temperature  *float32        `json:"temperature,omitempty"`
}

// ImageRequest 图片请求。ReferenceImages 按顺序传给后端。
type ImageRequest struct {
	Options
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Size            string   `json:"size,omitempty"`
}

// Result 记录成功结果来自哪个后端。
type Result struct {
	TrackID string      `json:"track_id"`
	Backend string      `json:"backend"`
	Model   string      `json:"model"`
	Usage   types.Usage `json:"usage"`
}

// TextResult 文本生成结果
type TextResult struct {
	Result
	Text string `json:"text"`
}

// ImageResult 图片生成结果
type ImageResult struct {
	Result
	ImageURL string `json:"image_url"`
}

// ObjectResult 结构化对象结果，Raw 为解析前的原始文本
type ObjectResult[T any] struct {
	Result
	Object T      `json:"object"`
	Raw    string `json:"raw"`
}

// Int returns a pointer to v, for Options.Retries and Options.Verbosity.
func Int(v int) *int {
	return &v
}
