// Package aifallback 组装一个可直接使用的多后端回退客户端。
//
// 用法：
//
//	cfg, _ := config.Load("config.yaml")
//	c, err := aifallback.New(ctx, cfg, aifallback.WithLogger(logger))
//	defer c.Close(ctx)
//	res, err := c.Dispatcher().GenerateText(ctx, fallback.TextRequest{...})
//
// New 按配置依次构建凭据、后端注册表、追踪 sink（zap、Prometheus、
// OpenTelemetry、Redis）、事件发射器与图片上传器。
package aifallback

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BaSui01/aifallback/config"
	"github.com/BaSui01/aifallback/internal/metrics"
	"github.com/BaSui01/aifallback/internal/telemetry"
	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/factory"
	"github.com/BaSui01/aifallback/llm/fallback"
	"github.com/BaSui01/aifallback/llm/image"
	"github.com/BaSui01/aifallback/llm/observability"
	"github.com/BaSui01/aifallback/llm/tracking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MetricsNamespace Prometheus 指标前缀
const MetricsNamespace = "aifallback"

// Option 配置 New
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registry   *llm.Registry
	registerer prometheus.Registerer
	redis      redis.UniversalClient
	sinks      []tracking.Sink
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry 使用已构建的后端注册表，跳过按配置创建后端
func WithRegistry(reg *llm.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithPrometheusRegisterer 指定指标注册器，默认使用新的独立 registry
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRedisClient 使用外部 Redis 客户端发布追踪事件，Close 不会关闭它
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithSinks 追加额外的追踪 sink
func WithSinks(sinks ...tracking.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// Client 持有回退调度器及其依赖
type Client struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *llm.Registry
	dispatcher *fallback.Dispatcher
	emitter    *tracking.Emitter
	collector  *metrics.Collector
	gatherer   prometheus.Gatherer
	telemetry  *telemetry.Providers
	redis      redis.UniversalClient
	ownsRedis  bool
}

// New 按配置构建 Client。cfg 为 nil 时使用默认配置。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Client{cfg: cfg, logger: o.logger}

	if o.registry != nil {
		c.registry = o.registry
	} else {
		creds := llm.NewEnvCredentials(o.logger, cfg.Credentials.EnvFiles...)
		reg, err := factory.NewRegistry(cfg.Backends, creds, o.logger)
		if err != nil {
			return nil, fmt.Errorf("build backend registry: %w", err)
		}
		c.registry = reg
	}

	sinks, err := c.buildSinks(ctx, o)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	emitterOpts := []tracking.Option{tracking.WithSinks(sinks...)}
	if cfg.Tracking.Async {
		emitterOpts = append(emitterOpts, tracking.WithAsync(cfg.Tracking.Buffer))
	}
	c.emitter = tracking.NewEmitter(o.logger, emitterOpts...)

	dispatcherOpts := []fallback.Option{
		fallback.WithEmitter(c.emitter),
		fallback.WithDefaults(DefaultsFromConfig(cfg.Fallback)),
		fallback.WithLogger(o.logger),
	}
	if up := uploaderFromConfig(cfg.Image); up != nil {
		dispatcherOpts = append(dispatcherOpts, fallback.WithUploader(up))
	}
	c.dispatcher = fallback.NewDispatcher(c.registry, dispatcherOpts...)

	o.logger.Info("aifallback client ready",
		zap.Strings("backends", c.registry.IDs()),
		zap.Strings("order", cfg.Fallback.Order),
		zap.Int("sinks", len(sinks)),
	)
	return c, nil
}

func (c *Client) buildSinks(ctx context.Context, o *options) ([]tracking.Sink, error) {
	tc := c.cfg.Tracking
	var sinks []tracking.Sink

	if tc.Log {
		sinks = append(sinks, tracking.NewZapSink(o.logger))
	}

	if tc.Prometheus {
		registerer := o.registerer
		if registerer == nil {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			registerer = reg
		}
		if g, ok := registerer.(prometheus.Gatherer); ok {
			c.gatherer = g
		}
		c.collector = metrics.NewCollector(MetricsNamespace, registerer, o.logger)
		sinks = append(sinks, c.collector)
	}

	if c.cfg.Telemetry.Enabled || tc.OTel {
		providers, err := telemetry.Init(ctx, c.cfg.Telemetry, o.logger)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		c.telemetry = providers
	}
	if tc.OTel {
		sink, err := observability.NewSink(
			observability.WithTracerProvider(c.telemetry.TracerProvider()),
			observability.WithMeterProvider(c.telemetry.MeterProvider()),
		)
		if err != nil {
			return nil, fmt.Errorf("init otel sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if o.redis != nil {
		c.redis = o.redis
	} else if tc.Redis.Enabled {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     tc.Redis.Addr,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
		})
		c.ownsRedis = true
	}
	if c.redis != nil {
		sinks = append(sinks, tracking.NewRedisSink(c.redis, tc.Redis.Channel, tc.Redis.Timeout, o.logger))
	}

	return append(sinks, o.sinks...), nil
}

// DefaultsFromConfig 将配置中的回退默认值转换为调度器参数
func DefaultsFromConfig(fc config.FallbackConfig) fallback.Defaults {
	d := fallback.DefaultDefaults()
	d.Order = fc.Order
	d.Retries = fc.Retries
	if fc.InitialDelay > 0 {
		d.InitialDelay = fc.InitialDelay
	}
	d.MaxDelay = fc.MaxDelay
	if fc.Multiplier >= 1 {
		d.Multiplier = fc.Multiplier
	}
	d.Jitter = fc.Jitter
	d.Verbosity = fc.Verbosity
	for op, table := range fc.Models {
		m := make(map[string]string, len(table))
		for id, model := range table {
			m[id] = model
		}
		d.Models[llm.Operation(op)] = m
	}
	return d
}

// uploaderFromConfig 未配置上传端点时返回 nil，调度器保留 data URL
func uploaderFromConfig(ic config.ImageConfig) image.Uploader {
	if ic.UploadEndpoint == "" {
		return nil
	}
	var token string
	if ic.UploadTokenEnv != "" {
		token = os.Getenv(ic.UploadTokenEnv)
	}
	return image.NewHTTPUploader(ic.UploadEndpoint, token, ic.UploadTimeout)
}

// Dispatcher 返回回退调度器
func (c *Client) Dispatcher() *fallback.Dispatcher { return c.dispatcher }

// Registry 返回后端注册表
func (c *Client) Registry() *llm.Registry { return c.registry }

// Metrics 返回 Prometheus 采集器，未启用时为 nil
func (c *Client) Metrics() *metrics.Collector { return c.collector }

// Gatherer 返回指标 registry，未启用或注册器不可采集时为 nil
func (c *Client) Gatherer() prometheus.Gatherer { return c.gatherer }

// Redis 返回追踪使用的 Redis 客户端，未启用时为 nil
func (c *Client) Redis() redis.UniversalClient { return c.redis }

// Config 返回构建时使用的配置
func (c *Client) Config() *config.Config { return c.cfg }

// Close 刷新追踪队列并释放 Redis 与遥测资源
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if c.emitter != nil {
		if err := c.emitter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close emitter: %w", err))
		}
	}
	if c.redis != nil && c.ownsRedis {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.telemetry != nil {
		if err := c.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
