package tracking

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Sink 接收追踪事件。实现方不应假设调用在请求 goroutine 上发生。
type Sink interface {
	Track(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Track implements Sink.
func (f SinkFunc) Track(ctx context.Context, ev Event) { f(ctx, ev) }

// Option 配置 Emitter
type Option func(*Emitter)

// WithAsync 使用容量为 buffer 的队列异步投递，队列满时丢弃事件。
func WithAsync(buffer int) Option {
	return func(e *Emitter) {
		if buffer <= 0 {
			buffer = 1
		}
		e.queue = make(chan queued, buffer)
	}
}

// WithSinks appends sinks.
func WithSinks(sinks ...Sink) Option {
	return func(e *Emitter) {
		e.sinks = append(e.sinks, sinks...)
	}
}

type queued struct {
	ctx context.Context
	ev  Event
}

// Emitter 把事件分发到所有 Sink。
//
// Emit 永远不会返回错误，也不会因为 Sink 变慢而阻塞（异步模式下）；
// Sink 中的 panic 会被恢复并记录日志。
type Emitter struct {
	sinks   []Sink
	queue   chan queued
	logger  *zap.Logger
	dropped atomic.Int64

	// mu 保护 queue 的关闭，Emit 持读锁发送
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewEmitter creates an Emitter. Without WithAsync events are delivered
// inline on the caller goroutine.
func NewEmitter(logger *zap.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		logger: logger.With(zap.String("component", "tracking")),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.queue != nil {
		go e.run()
	} else {
		close(e.done)
	}
	return e
}

// Emit 投递一个事件。nil Emitter 是合法的空操作。
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || len(e.sinks) == 0 {
		return
	}
	if e.queue == nil {
		e.deliver(ctx, ev)
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}

	select {
	case e.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		n := e.dropped.Add(1)
		e.logger.Warn("追踪队列已满，丢弃事件",
			zap.String("track_id", ev.TrackID),
			zap.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were discarded.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close 停止接收事件并等待队列中的事件投递完毕或 ctx 结束。
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		if e.queue != nil {
			close(e.queue)
		}
	}
	e.mu.Unlock()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for q := range e.queue {
		e.deliver(q.ctx, q.ev)
	}
}

func (e *Emitter) deliver(ctx context.Context, ev Event) {
	for _, s := range e.sinks {
		e.safeTrack(ctx, s, ev)
	}
}

func (e *Emitter) safeTrack(ctx context.Context, s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("追踪 Sink panic",
				zap.String("track_id", ev.TrackID),
				zap.Any("panic", r),
			)
		}
	}()
	s.Track(ctx, ev)
}
