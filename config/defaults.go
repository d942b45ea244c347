// =============================================================================
// 📦 aifallback 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
		Fallback:    DefaultFallbackConfig(),
		Backends:    map[string]BackendConfig{},
		Credentials: CredentialsConfig{EnvFiles: []string{".env"}},
		Image:       ImageConfig{UploadTimeout: 30 * time.Second},
		Tracking:    DefaultTrackingConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    10 << 20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultFallbackConfig 返回默认回退配置
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Retries:      2,
		InitialDelay: time.Second,
		MaxDelay:     0,
		Multiplier:   2,
		Verbosity:    1,
		Models:       map[string]map[string]string{},
	}
}

// DefaultTrackingConfig 返回默认追踪配置
func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		Async:      true,
		Buffer:     1024,
		Log:        true,
		Prometheus: true,
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "aifallback:tracking",
			Timeout: 2 * time.Second,
		},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "aifallback",
		SampleRate:   0.1,
		Insecure:     true,
	}
}
