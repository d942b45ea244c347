package openaicompat

import "sort"

// Preset 是已知 OpenAI 兼容厂商的默认接入参数
type Preset struct {
	BaseURL       string
	EndpointPath  string
	FallbackModel string
	EnableImages  bool
}

var presets = map[string]Preset{
	"deepseek": {BaseURL: "https://api.deepseek.com", EndpointPath: "/chat/completions", FallbackModel: "deepseek-chat"},
	"doubao": {
		BaseURL: "https://ark.cn-beijing.volces.com", EndpointPath: "/api/v3/chat/completions",
		FallbackModel: "Doubao-1.5-pro-32k",
	},
	"glm":     {BaseURL: "https://open.bigmodel.cn", EndpointPath: "/api/paas/v4/chat/completions", FallbackModel: "glm-4-plus"},
	"grok":    {BaseURL: "https://api.x.ai", FallbackModel: "grok-beta", EnableImages: true},
	"hunyuan": {BaseURL: "https://api.hunyuan.cloud.tencent.com/v1", EndpointPath: "/chat/completions", FallbackModel: "hunyuan-pro"},
	"kimi":    {BaseURL: "https://api.moonshot.cn", FallbackModel: "moonshot-v1-8k"},
	"minimax": {BaseURL: "https://api.minimax.io", FallbackModel: "abab6.5s-chat"},
	"mistral": {BaseURL: "https://api.mistral.ai", FallbackModel: "mistral-large-latest"},
	"openrouter": {BaseURL: "https://openrouter.ai/api", FallbackModel: "openrouter/auto"},
	"qwen": {
		BaseURL: "https://dashscope.aliyuncs.com", EndpointPath: "/compatible-mode/v1/chat/completions",
		FallbackModel: "qwen3-235b-a22b",
	},
	"together": {BaseURL: "https://api.together.xyz", FallbackModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo", EnableImages: true},
}

// LookupPreset 返回厂商预设
func LookupPreset(vendor string) (Preset, bool) {
	p, ok := presets[vendor]
	return p, ok
}

// PresetNames 返回全部预设名，已排序
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply 用预设填充 cfg 中未设置的字段
func (p Preset) Apply(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.BaseURL
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = p.EndpointPath
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = p.FallbackModel
	}
	cfg.EnableImages = cfg.EnableImages || p.EnableImages
	return cfg
}
