// =============================================================================
// 📦 aifallback 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AIFALLBACK").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 aifallback 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Fallback 默认回退顺序、重试参数与模型表
	Fallback FallbackConfig `yaml:"fallback" env:"FALLBACK"`

	// Backends 后端定义，key 为后端 id
	Backends map[string]BackendConfig `yaml:"backends"`

	// Credentials 凭证加载
	Credentials CredentialsConfig `yaml:"credentials" env:"CREDENTIALS"`

	// Image 图片后处理
	Image ImageConfig `yaml:"image" env:"IMAGE"`

	// Tracking 追踪事件输出
	Tracking TrackingConfig `yaml:"tracking" env:"TRACKING"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，0 表示不限制（SSE 流需要）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 请求体上限
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// FallbackConfig 请求级默认值
type FallbackConfig struct {
	// 默认回退顺序
	Order []string `yaml:"order" env:"ORDER"`
	// 每个后端的重试次数（总尝试 = Retries+1）
	Retries int `yaml:"retries" env:"RETRIES"`
	// 首次重试等待
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 等待上限，0 表示不封顶
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 退避倍数
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 是否加抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
	// 默认日志详细度 0/1/2
	Verbosity int `yaml:"verbosity" env:"VERBOSITY"`
	// 操作 → 后端 → 模型
	Models map[string]map[string]string `yaml:"models"`
}

// BackendConfig 单个后端定义
type BackendConfig struct {
	// 类型: openai, anthropic, gemini, flux, openai-compatible 或厂商预设名
	Type string `yaml:"type"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url"`
	// API Key 所在的环境变量名
	APIKeyEnv string `yaml:"api_key_env"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout"`
	// 默认模型
	DefaultModel string `yaml:"default_model"`
	// 默认图片模型
	ImageModel string `yaml:"image_model"`
	// OpenAI Organization
	Organization string `yaml:"organization"`
	// openai-compatible 的接口路径
	EndpointPath string `yaml:"endpoint_path"`
	// openai-compatible 是否启用图片接口
	EnableImages bool `yaml:"enable_images"`
	// Flux 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval"`
	// 覆盖类型默认能力
	Capabilities *llm.Capabilities `yaml:"capabilities"`
}

// CredentialsConfig 凭证加载配置
type CredentialsConfig struct {
	// 额外加载的 .env 文件，已存在的环境变量不会被覆盖
	EnvFiles []string `yaml:"env_files" env:"ENV_FILES"`
}

// ImageConfig 图片后处理配置
type ImageConfig struct {
	// 上传端点，为空时 data URL 原样返回
	UploadEndpoint string `yaml:"upload_endpoint" env:"UPLOAD_ENDPOINT"`
	// 上传 token 所在的环境变量名
	UploadTokenEnv string `yaml:"upload_token_env" env:"UPLOAD_TOKEN_ENV"`
	// 上传超时
	UploadTimeout time.Duration `yaml:"upload_timeout" env:"UPLOAD_TIMEOUT"`
}

// TrackingConfig 追踪配置
type TrackingConfig struct {
	// 异步发送，Emit 不阻塞调用方
	Async bool `yaml:"async" env:"ASYNC"`
	// 异步队列长度
	Buffer int `yaml:"buffer" env:"BUFFER"`
	// 写入 zap 日志
	Log bool `yaml:"log" env:"LOG"`
	// Prometheus 指标
	Prometheus bool `yaml:"prometheus" env:"PROMETHEUS"`
	// OpenTelemetry 指标与 span
	OTel bool `yaml:"otel" env:"OTEL"`
	// Redis 发布
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 发布频道
	Channel string `yaml:"channel" env:"CHANNEL"`
	// 单次发布超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AIFALLBACK",
		lookupEnv:  os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup 替换环境变量查找函数（测试用）
func (l *Loader) WithEnvLookup(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，最后执行 Validate 与自定义验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件必须存在
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// Load 按默认前缀加载 path；path 为空时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Fallback.Retries < 0 {
		errs = append(errs, "fallback.retries must not be negative")
	}
	if c.Fallback.Multiplier < 1 {
		errs = append(errs, "fallback.multiplier must be >= 1")
	}
	if c.Fallback.Verbosity < 0 || c.Fallback.Verbosity > 2 {
		errs = append(errs, "fallback.verbosity must be 0, 1 or 2")
	}

	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if c.Backends[id].Type == "" {
			errs = append(errs, fmt.Sprintf("backend %q has no type", id))
		}
	}

	for op := range c.Fallback.Models {
		switch llm.Operation(op) {
		case llm.OpText, llm.OpObject, llm.OpImage, llm.OpStream:
		default:
			errs = append(errs, fmt.Sprintf("unknown operation %q in fallback.models", op))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BackendIDs 返回按字母序排列的后端 id
func (c *Config) BackendIDs() []string {
	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
