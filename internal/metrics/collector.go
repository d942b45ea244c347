// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/BaSui01/aifallback/llm/tracking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// StatusOK 成功尝试的 status 标签值
const StatusOK = "ok"

// Collector 指标收集器，同时实现 tracking.Sink。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 后端尝试指标
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	exhaustedTotal  *prometheus.CounterVec

	logger *zap.Logger
}

var _ tracking.Sink = (*Collector)(nil)

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 后端尝试指标
	c.attemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Total number of backend attempts",
		},
		[]string{"backend", "operation", "status"},
	)

	c.attemptDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_attempt_duration_seconds",
			Help:      "Backend attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend", "operation"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Total number of retried attempts",
		},
		[]string{"backend", "operation"},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_tokens_used_total",
			Help:      "Total number of tokens reported by backends",
		},
		[]string{"backend", "model", "type"},
	)

	c.exhaustedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_exhausted_total",
			Help:      "Total number of calls where every backend failed",
		},
		[]string{"operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Track implements tracking.Sink.
func (c *Collector) Track(_ context.Context, ev tracking.Event) {
	op := string(ev.Operation)

	if ev.Terminal {
		c.exhaustedTotal.WithLabelValues(op).Inc()
		return
	}

	status := StatusOK
	if ev.Failed() {
		status = string(ev.ErrorCode)
		if status == "" {
			status = "error"
		}
	}
	c.attemptsTotal.WithLabelValues(ev.Backend, op, status).Inc()
	c.attemptDuration.WithLabelValues(ev.Backend, op).Observe(float64(ev.ElapsedMs) / 1000)
	if ev.RetryCount > 0 {
		c.retriesTotal.WithLabelValues(ev.Backend, op).Inc()
	}

	// 未上报的用量不计入，避免把 0 当成真实数据
	if !ev.Usage.Reported {
		return
	}
	c.tokensUsed.WithLabelValues(ev.Backend, ev.Model, "input").Add(float64(ev.Usage.InputTokens))
	c.tokensUsed.WithLabelValues(ev.Backend, ev.Model, "output").Add(float64(ev.Usage.OutputTokens))
	if ev.Usage.ReasoningTokens > 0 {
		c.tokensUsed.WithLabelValues(ev.Backend, ev.Model, "reasoning").Add(float64(ev.Usage.ReasoningTokens))
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
