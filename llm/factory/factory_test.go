package factory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/aifallback/config"
	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticCreds 按环境变量名返回固定值
type staticCreds struct {
	keys  map[string]string
	calls atomic.Int32
}

func (s *staticCreds) Resolve(_ context.Context, backend, envVar string) (string, error) {
	s.calls.Add(1)
	if v, ok := s.keys[envVar]; ok {
		return v, nil
	}
	return "", types.NewMissingCredentialError(backend, envVar)
}

func TestNormalizeAndKnownType(t *testing.T) {
	assert.Equal(t, TypeAnthropic, NormalizeType(" Claude "))
	assert.Equal(t, TypeOpenAICompatible, NormalizeType("openaicompat"))
	assert.True(t, KnownType("openai"))
	assert.True(t, KnownType("deepseek"))
	assert.False(t, KnownType("skynet"))
}

func TestDefaultCapabilities(t *testing.T) {
	tests := []struct {
		cfg  config.BackendConfig
		want llm.Capabilities
	}{
		{config.BackendConfig{Type: "openai"}, llm.Capabilities{Text: true, Stream: true, Image: true}},
		{config.BackendConfig{Type: "anthropic"}, llm.Capabilities{Text: true, Stream: true}},
		{config.BackendConfig{Type: "gemini"}, llm.Capabilities{Text: true, Stream: true, Image: true}},
		{config.BackendConfig{Type: "flux"}, llm.Capabilities{Image: true}},
		{config.BackendConfig{Type: "openai-compatible"}, llm.Capabilities{Text: true, Stream: true}},
		{config.BackendConfig{Type: "openai-compatible", EnableImages: true}, llm.Capabilities{Text: true, Stream: true, Image: true}},
		{config.BackendConfig{Type: "grok"}, llm.Capabilities{Text: true, Stream: true, Image: true}},
		{
			config.BackendConfig{Type: "openai", Capabilities: &llm.Capabilities{Text: true}},
			llm.Capabilities{Text: true},
		},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.cfg.Type, tt.cfg.Capabilities != nil), func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultCapabilities(tt.cfg))
		})
	}
}

func TestNewRegistry_UnknownType(t *testing.T) {
	_, err := NewRegistry(map[string]config.BackendConfig{"x": {Type: "skynet"}}, nil, zap.NewNop())
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}

func TestNewRegistry_LazyCredentials(t *testing.T) {
	creds := &staticCreds{keys: map[string]string{"OPENAI_API_KEY": "sk"}}
	reg, err := NewRegistry(map[string]config.BackendConfig{
		"openai":    {Type: "openai"},
		"anthropic": {Type: "claude", APIKeyEnv: "MY_CLAUDE_KEY"},
	}, creds, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "openai"}, reg.IDs())
	assert.Zero(t, creds.calls.Load(), "credentials must not be read at registration")

	p, err := reg.Resolve(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = reg.Resolve(context.Background(), "anthropic")
	require.Error(t, err)
	assert.True(t, types.IsMissingCredential(err))
	assert.Contains(t, err.Error(), "MY_CLAUDE_KEY")

	caps, ok := reg.Capabilities("anthropic")
	require.True(t, ok)
	assert.False(t, caps.Image)
}

func TestNewProvider_PresetAndCompat(t *testing.T) {
	p, err := NewProvider(context.Background(), "ds", config.BackendConfig{Type: "deepseek"}, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "ds", p.Name())

	_, err = NewProvider(context.Background(), "local", config.BackendConfig{Type: "openai-compatible"}, "", nil)
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))

	p, err = NewProvider(context.Background(), "g", config.BackendConfig{Type: "gemini"}, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	p, err = NewProvider(context.Background(), "f", config.BackendConfig{Type: "bfl"}, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "flux", p.Name())
}

func TestRegistry_CompatibleBackendEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization")[len("Bearer "):])
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"content":"local ok"}}]}`)
	}))
	defer srv.Close()

	reg, err := NewRegistry(map[string]config.BackendConfig{
		"local": {Type: "openai-compatible", BaseURL: srv.URL, DefaultModel: "llama"},
	}, nil, zap.NewNop())
	require.NoError(t, err)

	p, err := reg.Resolve(context.Background(), "local")
	require.NoError(t, err)
	resp, err := p.Generate(context.Background(), &llm.TextRequest{Messages: []types.Message{types.NewUserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "local ok", resp.Text)
}

func TestRegistry_RequestCredentialNotCached(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	creds := llm.NewEnvCredentials(nil, filepath.Join(t.TempDir(), "absent.env"))
	reg, err := NewRegistry(map[string]config.BackendConfig{
		"tenant": {Type: "openai-compatible", BaseURL: srv.URL, APIKeyEnv: "AIFALLBACK_TEST_TENANT_ONLY_KEY"},
	}, creds, zap.NewNop())
	require.NoError(t, err)

	req := &llm.TextRequest{Messages: []types.Message{types.NewUserMessage("hi")}}

	// 第一个请求携带自己的 key
	ctx := llm.WithCredentialOverrides(context.Background(), map[string]llm.CredentialOverride{
		"tenant": {APIKey: "tenant-a-key"},
	})
	p, err := reg.Resolve(ctx, "tenant")
	require.NoError(t, err)
	_, err = p.Generate(llm.ScopeCredentialOverride(ctx, "tenant"), req)
	require.NoError(t, err)

	// 第二个请求没有 key，不能复用第一个请求的实例
	_, err = reg.Resolve(context.Background(), "tenant")
	require.Error(t, err)
	assert.True(t, types.IsMissingCredential(err))

	t.Setenv("AIFALLBACK_TEST_TENANT_ONLY_KEY", "env-key")
	p, err = reg.Resolve(context.Background(), "tenant")
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer tenant-a-key", "Bearer env-key"}, auth)
}
