package observability

import (
	"context"
	"time"

	"github.com/BaSui01/aifallback/llm/tracking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/aifallback/llm"

// Sink 把追踪事件转换为 OpenTelemetry 指标与 span。
type Sink struct {
	tracer trace.Tracer
	meter  metric.Meter
	// 计数器
	attemptTotal   metric.Int64Counter
	errorTotal     metric.Int64Counter
	tokenTotal     metric.Int64Counter
	exhaustedTotal metric.Int64Counter
	// 直方图
	attemptDuration metric.Float64Histogram
}

var _ tracking.Sink = (*Sink)(nil)

// Option 配置 Sink。
type Option func(*options)

type options struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider 指定 TracerProvider，默认使用全局实例。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider 指定 MeterProvider，默认使用全局实例。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// NewSink 创建 OpenTelemetry 追踪 sink
func NewSink(opts ...Option) (*Sink, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	if o.mp == nil {
		o.mp = otel.GetMeterProvider()
	}

	s := &Sink{
		tracer: o.tp.Tracer(instrumentationName),
		meter:  o.mp.Meter(instrumentationName),
	}

	var err error

	// 尝试计数
	s.attemptTotal, err = s.meter.Int64Counter("llm.attempt.total",
		metric.WithDescription("Total number of backend attempts"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}

	// 错误计数
	s.errorTotal, err = s.meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of failed backend attempts"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	// Token 计数
	s.tokenTotal, err = s.meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens reported by backends"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	// 全部后端失败
	s.exhaustedTotal, err = s.meter.Int64Counter("llm.fallback.exhausted",
		metric.WithDescription("Total number of calls where every backend failed"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	// 尝试延迟
	s.attemptDuration, err = s.meter.Float64Histogram("llm.attempt.duration",
		metric.WithDescription("Backend attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Track implements tracking.Sink.
func (s *Sink) Track(ctx context.Context, ev tracking.Event) {
	op := attribute.String("llm.operation", string(ev.Operation))

	if ev.Terminal {
		s.exhaustedTotal.Add(ctx, 1, metric.WithAttributes(op))
		s.recordSpan(ctx, ev)
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("llm.backend", ev.Backend),
		attribute.String("llm.model", ev.Model),
		op,
	}
	status := "ok"
	if ev.Failed() {
		status = "error"
		s.errorTotal.Add(ctx, 1, metric.WithAttributes(append(attrs,
			attribute.String("error.code", string(ev.ErrorCode)))...))
	}

	s.attemptTotal.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
	s.attemptDuration.Record(ctx, float64(ev.ElapsedMs)/1000, metric.WithAttributes(attrs...))

	if ev.Usage.Reported {
		s.tokenTotal.Add(ctx, int64(ev.Usage.InputTokens),
			metric.WithAttributes(append(attrs, attribute.String("token.type", "input"))...))
		s.tokenTotal.Add(ctx, int64(ev.Usage.OutputTokens),
			metric.WithAttributes(append(attrs, attribute.String("token.type", "output"))...))
		if ev.Usage.ReasoningTokens > 0 {
			s.tokenTotal.Add(ctx, int64(ev.Usage.ReasoningTokens),
				metric.WithAttributes(append(attrs, attribute.String("token.type", "reasoning"))...))
		}
	}

	s.recordSpan(ctx, ev)
}

// recordSpan 事件到达时尝试已经结束，span 用事件里的起止时间回填。
func (s *Sink) recordSpan(ctx context.Context, ev tracking.Event) {
	start := ev.StartedAt
	if start.IsZero() {
		start = time.Now().Add(-time.Duration(ev.ElapsedMs) * time.Millisecond)
	}

	name := "llm." + string(ev.Operation)
	if ev.Terminal {
		name += ".exhausted"
	}
	_, span := s.tracer.Start(ctx, name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.track_id", ev.TrackID),
			attribute.String("llm.backend", ev.Backend),
			attribute.String("llm.model", ev.Model),
			attribute.String("llm.caller", ev.Caller),
			attribute.Int("llm.retry_count", ev.RetryCount),
			attribute.Bool("llm.usage_reported", ev.Usage.Reported),
			attribute.Int("llm.tokens.input", ev.Usage.InputTokens),
			attribute.Int("llm.tokens.output", ev.Usage.OutputTokens),
		))

	if ev.Failed() {
		span.SetAttributes(attribute.String("error.code", string(ev.ErrorCode)))
		span.SetStatus(codes.Error, ev.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(start.Add(time.Duration(ev.ElapsedMs) * time.Millisecond)))
}
