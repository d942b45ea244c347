package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/aifallback/config"
	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/providers"
	"github.com/BaSui01/aifallback/llm/providers/anthropic"
	"github.com/BaSui01/aifallback/llm/providers/flux"
	"github.com/BaSui01/aifallback/llm/providers/gemini"
	"github.com/BaSui01/aifallback/llm/providers/openai"
	"github.com/BaSui01/aifallback/llm/providers/openaicompat"
	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
)

// Backend types accepted in BackendConfig.Type besides the openaicompat presets.
const (
	TypeOpenAI           = "openai"
	TypeAnthropic        = "anthropic"
	TypeGemini           = "gemini"
	TypeFlux             = "flux"
	TypeOpenAICompatible = "openai-compatible"
)

var aliases = map[string]string{
	"claude":       TypeAnthropic,
	"google":       TypeGemini,
	"openaicompat": TypeOpenAICompatible,
	"bfl":          TypeFlux,
}

// CredentialSource resolves an API key for a backend.
type CredentialSource interface {
	Resolve(ctx context.Context, backend, envVar string) (string, error)
}

// NormalizeType 处理别名并转为小写
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if a, ok := aliases[t]; ok {
		return a
	}
	return t
}

// KnownType reports whether t (after alias normalisation) can be built.
func KnownType(t string) bool {
	switch NormalizeType(t) {
	case TypeOpenAI, TypeAnthropic, TypeGemini, TypeFlux, TypeOpenAICompatible:
		return true
	}
	_, ok := openaicompat.LookupPreset(NormalizeType(t))
	return ok
}

// DefaultCapabilities 返回类型默认能力
func DefaultCapabilities(cfg config.BackendConfig) llm.Capabilities {
	var caps llm.Capabilities
	switch t := NormalizeType(cfg.Type); t {
	case TypeOpenAI, TypeGemini:
		caps = llm.Capabilities{Text: true, Stream: true, Image: true}
	case TypeAnthropic:
		caps = llm.Capabilities{Text: true, Stream: true}
	case TypeFlux:
		caps = llm.Capabilities{Image: true}
	case TypeOpenAICompatible:
		caps = llm.Capabilities{Text: true, Stream: true, Image: cfg.EnableImages}
	default:
		preset, _ := openaicompat.LookupPreset(t)
		caps = llm.Capabilities{Text: true, Stream: true, Image: cfg.EnableImages || preset.EnableImages}
	}
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}
	return caps
}

// defaultKeyEnv 未配置 api_key_env 时的约定变量名；openai-compatible 允许无 key
func defaultKeyEnv(t string) string {
	switch t {
	case TypeOpenAI:
		return "OPENAI_API_KEY"
	case TypeAnthropic:
		return "ANTHROPIC_API_KEY"
	case TypeGemini:
		return "GEMINI_API_KEY"
	case TypeFlux:
		return "BFL_API_KEY"
	case TypeOpenAICompatible:
		return ""
	default:
		return strings.ToUpper(strings.ReplaceAll(t, "-", "_")) + "_API_KEY"
	}
}

// NewProvider 构造单个后端实例
func NewProvider(ctx context.Context, id string, cfg config.BackendConfig, apiKey string, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := providers.BaseProviderConfig{
		APIKey:  apiKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.DefaultModel,
		Timeout: cfg.Timeout,
	}

	switch t := NormalizeType(cfg.Type); t {
	case TypeOpenAI:
		return openai.New(openai.Config{
			BaseProviderConfig: base,
			Organization:       cfg.Organization,
			ImageModel:         cfg.ImageModel,
		}, logger), nil

	case TypeAnthropic:
		return anthropic.New(anthropic.Config{BaseProviderConfig: base}, logger), nil

	case TypeGemini:
		return gemini.New(ctx, gemini.Config{BaseProviderConfig: base, ImageModel: cfg.ImageModel}, logger)

	case TypeFlux:
		return flux.New(flux.Config{BaseProviderConfig: base, PollInterval: cfg.PollInterval}, logger), nil

	default:
		oc := openaicompat.Config{
			ProviderName: id,
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			Timeout:      cfg.Timeout,
			EndpointPath: cfg.EndpointPath,
			EnableImages: cfg.EnableImages,
		}
		if t != TypeOpenAICompatible {
			preset, ok := openaicompat.LookupPreset(t)
			if !ok {
				return nil, types.NewConfigurationError(fmt.Sprintf("backend %q: unknown type %q", id, cfg.Type))
			}
			oc = preset.Apply(oc)
		}
		if oc.BaseURL == "" {
			return nil, types.NewConfigurationError(fmt.Sprintf("backend %q: base_url is required", id))
		}
		return openaicompat.New(oc, logger), nil
	}
}

// NewRegistry 按配置注册全部后端。未知类型立即返回 CONFIGURATION 错误。
func NewRegistry(backends map[string]config.BackendConfig, creds CredentialSource, logger *zap.Logger) (*llm.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := llm.NewRegistry(logger)
	if err := Register(reg, backends, creds, logger); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register 将 backends 注册到已有 registry
func Register(reg *llm.Registry, backends map[string]config.BackendConfig, creds CredentialSource, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := make([]string, 0, len(backends))
	for id := range backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := backends[id]
		if !KnownType(cfg.Type) {
			return types.NewConfigurationError(fmt.Sprintf("backend %q: unknown type %q", id, cfg.Type))
		}
		envVar := cfg.APIKeyEnv
		if envVar == "" {
			envVar = defaultKeyEnv(NormalizeType(cfg.Type))
		}
		id, cfg := id, cfg
		blog := logger.With(zap.String("backend", id))
		build := func(ctx context.Context) (llm.Provider, error) {
			key := ""
			if envVar != "" {
				if creds == nil {
					return nil, types.NewMissingCredentialError(id, envVar)
				}
				var err error
				if key, err = creds.Resolve(ctx, id, envVar); err != nil {
					return nil, err
				}
			}
			return NewProvider(ctx, id, cfg, key, blog)
		}
		// 请求级凭据只构造临时实例，不进入注册表缓存
		keyed := func(ctx context.Context, apiKey string) (llm.Provider, error) {
			return NewProvider(ctx, id, cfg, apiKey, blog)
		}
		reg.RegisterWithOverride(id, DefaultCapabilities(cfg), build, keyed)
		logger.Debug("后端已注册", zap.String("backend", id), zap.String("type", NormalizeType(cfg.Type)))
	}
	return nil
}
