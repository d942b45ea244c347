package llm

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/BaSui01/aifallback/types"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type (
	credentialOverrideKey  struct{}
	credentialOverridesKey struct{}
)

// CredentialOverride 用于在单次请求内覆盖某一个后端的凭据。
// 只通过 context 传递，不从 API JSON 反序列化。
type CredentialOverride struct {
	APIKey string
}

func (c CredentialOverride) String() string {
	if c.APIKey == "" {
		return "CredentialOverride{}"
	}
	return "CredentialOverride{APIKey:***}"
}

func (c CredentialOverride) MarshalJSON() ([]byte, error) {
	out := struct {
		APIKey string `json:"api_key,omitempty"`
	}{}
	if c.APIKey != "" {
		out.APIKey = "***"
	}
	return json.Marshal(out)
}

// WithCredentialOverrides 在 ctx 中写入按后端 id 区分的凭据覆盖，
// 空 key 的条目被忽略。已有条目会被合并，不修改传入的 map。
func WithCredentialOverrides(ctx context.Context, overrides map[string]CredentialOverride) context.Context {
	merged := make(map[string]CredentialOverride)
	if prev, ok := ctx.Value(credentialOverridesKey{}).(map[string]CredentialOverride); ok {
		for id, c := range prev {
			merged[id] = c
		}
	}
	for id, c := range overrides {
		if id == "" || c.APIKey == "" {
			continue
		}
		merged[id] = c
	}
	if len(merged) == 0 {
		return ctx
	}
	return context.WithValue(ctx, credentialOverridesKey{}, merged)
}

// CredentialOverrideFor 返回 backend 自己的覆盖凭据。
func CredentialOverrideFor(ctx context.Context, backend string) (CredentialOverride, bool) {
	m, _ := ctx.Value(credentialOverridesKey{}).(map[string]CredentialOverride)
	c, ok := m[backend]
	return c, ok && c.APIKey != ""
}

// ScopeCredentialOverride 返回只对 backend 生效的 ctx：适配器通过
// CredentialOverrideFromContext 只能读到 backend 自己的覆盖，
// 其他后端的覆盖以及调用方直接写入的覆盖都被屏蔽。
func ScopeCredentialOverride(ctx context.Context, backend string) context.Context {
	c, _ := CredentialOverrideFor(ctx, backend)
	return context.WithValue(ctx, credentialOverrideKey{}, c)
}

// WithCredentialOverride 写入当前调用的后端凭据覆盖，空值不改变 ctx。
// 多后端请求应使用 WithCredentialOverrides，由调度层按后端收窄。
func WithCredentialOverride(ctx context.Context, c CredentialOverride) context.Context {
	if c.APIKey == "" {
		return ctx
	}
	return context.WithValue(ctx, credentialOverrideKey{}, c)
}

// CredentialOverrideFromContext 读取当前调用的后端凭据覆盖。
func CredentialOverrideFromContext(ctx context.Context) (CredentialOverride, bool) {
	c, ok := ctx.Value(credentialOverrideKey{}).(CredentialOverride)
	return c, ok && c.APIKey != ""
}

// EnvCredentials 从环境变量解析后端凭据。
//
// 首次查询时加载一次 .env 文件（已存在的环境变量不会被覆盖）；
// 找到的值按变量名缓存，找不到时返回 MISSING_CREDENTIAL 且不缓存。
type EnvCredentials struct {
	files    []string
	loadOnce sync.Once
	mu       sync.RWMutex
	cache    map[string]string
	lookup   func(string) (string, bool)
	logger   *zap.Logger
}

// NewEnvCredentials creates a resolver. files are optional .env paths;
// when empty godotenv falls back to ./.env.
func NewEnvCredentials(logger *zap.Logger, files ...string) *EnvCredentials {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnvCredentials{
		files:  files,
		cache:  make(map[string]string),
		lookup: os.LookupEnv,
		logger: logger.With(zap.String("component", "credentials")),
	}
}

// Resolve 返回 backend 在环境变量 envVar 中的凭据。
// 请求级覆盖不参与解析：这里的结果会随注册表实例缓存到进程级别。
func (c *EnvCredentials) Resolve(_ context.Context, backend, envVar string) (string, error) {
	c.loadOnce.Do(func() {
		// .env 缺失是正常情况
		if err := godotenv.Load(c.files...); err != nil {
			c.logger.Debug("未加载 .env 文件", zap.Error(err))
		}
	})

	c.mu.RLock()
	v, ok := c.cache[envVar]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, ok = c.lookup(envVar)
	if !ok || v == "" {
		return "", types.NewMissingCredentialError(backend, envVar)
	}

	c.mu.Lock()
	c.cache[envVar] = v
	c.mu.Unlock()
	return v, nil
}
