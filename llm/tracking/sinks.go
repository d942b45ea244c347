package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ZapSink 把事件写成结构化日志。
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a ZapSink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.With(zap.String("component", "tracking"))}
}

// Track implements Sink.
func (s *ZapSink) Track(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("track_id", ev.TrackID),
		zap.String("backend", ev.Backend),
		zap.String("model", ev.Model),
		zap.String("operation", string(ev.Operation)),
		zap.String("caller", ev.Caller),
		zap.Int("input_tokens", ev.Usage.InputTokens),
		zap.Int("output_tokens", ev.Usage.OutputTokens),
		zap.Int("reasoning_tokens", ev.Usage.ReasoningTokens),
		zap.Bool("usage_reported", ev.Usage.Reported),
		zap.Time("started_at", ev.StartedAt),
		zap.Int64("elapsed_ms", ev.ElapsedMs),
		zap.Int("retry_count", ev.RetryCount),
	}
	if ev.Failed() {
		fields = append(fields, zap.String("error", ev.Error), zap.String("error_code", string(ev.ErrorCode)))
		if ev.Terminal {
			s.logger.Error("全部后端失败", fields...)
			return
		}
		s.logger.Info("后端尝试失败", fields...)
		return
	}
	s.logger.Info("后端尝试成功", fields...)
}

// RedisSink 通过 PUBLISH 把事件以 JSON 推送到频道，不做任何存储。
type RedisSink struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// DefaultRedisChannel 默认频道名
const DefaultRedisChannel = "aifallback:tracking"

// NewRedisSink creates a RedisSink.
func NewRedisSink(client redis.UniversalClient, channel string, timeout time.Duration, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "tracking_redis")),
	}
}

// Track implements Sink. Publish errors are logged and swallowed.
func (s *RedisSink) Track(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("事件序列化失败", zap.String("track_id", ev.TrackID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Warn("事件发布失败",
			zap.String("track_id", ev.TrackID),
			zap.String("channel", s.channel),
			zap.Error(err),
		)
	}
}

// Recorder 在内存中记录事件。
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Track implements Sink.
func (r *Recorder) Track(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns how many events were recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
