package fallback

import (
	"context"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/image"
	"github.com/BaSui01/aifallback/llm/retry"
	"github.com/BaSui01/aifallback/llm/tracking"
	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Dispatcher 按降级顺序调度后端。可被多个 goroutine 并发使用。
type Dispatcher struct {
	registry *llm.Registry
	emitter  *tracking.Emitter
	defaults Defaults
	uploader image.Uploader
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option 配置 Dispatcher
type Option func(*Dispatcher)

// WithEmitter sets the tracking emitter.
func WithEmitter(e *tracking.Emitter) Option {
	return func(d *Dispatcher) { d.emitter = e }
}

// WithDefaults sets process-wide defaults.
func WithDefaults(defaults Defaults) Option {
	return func(d *Dispatcher) { d.defaults = defaults }
}

// WithUploader sets the image post-processor.
func WithUploader(u image.Uploader) Option {
	return func(d *Dispatcher) { d.uploader = u }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep overrides the wait between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// NewDispatcher creates a Dispatcher over registry.
func NewDispatcher(registry *llm.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		defaults: DefaultDefaults(),
		uploader: image.PassthroughUploader{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("component", "fallback"))
	if d.uploader == nil {
		d.uploader = image.PassthroughUploader{}
	}
	return d
}

// Registry returns the backend registry.
func (d *Dispatcher) Registry() *llm.Registry {
	return d.registry
}

type resolution struct {
	provider llm.Provider
	err      error
}

// plan 一次顶层调用的执行计划
type plan struct {
	trackID  string
	op       llm.Operation
	merged   merged
	resolved map[string]resolution
	logger   *zap.Logger
	retryer  *retry.Retryer
}

func (d *Dispatcher) newPlan(ctx context.Context, op llm.Operation, o Options) (context.Context, *plan) {
	m := d.defaults.merge(op, o)
	if m.caller == "" {
		m.caller, _ = types.Caller(ctx)
	}
	p := &plan{
		trackID:  tracking.NewTrackID(),
		op:       op,
		merged:   m,
		resolved: make(map[string]resolution, len(m.order)),
	}
	p.logger = d.callLogger(m.verbosity).With(
		zap.String("track_id", p.trackID),
		zap.String("operation", string(op)),
	)

	policy := m.policy
	if d.sleep != nil {
		policy.Sleep = d.sleep
	}
	p.retryer = retry.NewBackoffRetryer(&policy, p.logger)

	ctx = types.WithTrackID(ctx, p.trackID)
	for _, id := range m.order {
		if _, done := p.resolved[id]; done {
			continue
		}
		prov, err := d.registry.Resolve(ctx, id)
		p.resolved[id] = resolution{provider: prov, err: err}
	}
	return ctx, p
}

// callLogger 根据请求的 verbosity 收紧日志级别
func (d *Dispatcher) callLogger(verbosity int) *zap.Logger {
	level := zapcore.ErrorLevel
	switch {
	case verbosity >= 2:
		level = zapcore.DebugLevel
	case verbosity == 1:
		level = zapcore.WarnLevel
	}
	// IncreaseLevel 只能收紧；基础 logger 已更严格时保持不变
	if !d.logger.Core().Enabled(level) {
		return d.logger
	}
	return d.logger.WithOptions(zap.IncreaseLevel(level))
}

func (d *Dispatcher) event(p *plan, backend, model string, started time.Time) tracking.Event {
	return tracking.Event{
		TrackID:   p.trackID,
		Backend:   backend,
		Model:     model,
		Operation: p.op,
		Caller:    p.merged.caller,
		StartedAt: started,
		ElapsedMs: d.now().Sub(started).Milliseconds(),
	}
}

// attemptFunc 执行一次尝试。失败时返回的用量也会被追踪。
type attemptFunc[T any] func(ctx context.Context, prov llm.Provider, model string) (T, types.Usage, error)

// runOneShot 是一次性操作共享的降级循环。
func runOneShot[T any](ctx context.Context, d *Dispatcher, p *plan, call attemptFunc[T]) (T, Result, error) {
	var zero T
	var lastErr error
	attempted := false

	for _, id := range p.merged.order {
		model, ok := p.merged.models[id]
		if !ok || model == "" {
			p.logger.Debug("后端没有配置模型，跳过", zap.String("backend", id))
			continue
		}
		attempted = true
		log := p.logger.With(zap.String("backend", id), zap.String("model", model))

		res := p.resolved[id]
		if res.err != nil {
			lastErr = res.err
			ev := d.event(p, id, model, d.now())
			ev.SetError(res.err)
			d.emitter.Emit(ctx, ev)
			log.Warn("后端初始化失败，切换下一个", zap.Error(res.err))
			continue
		}

		var usage types.Usage
		value, err := retry.DoWithResult(ctx, p.retryer, func(ctx context.Context, attempt int) (T, error) {
			started := d.now()
			// 只把该后端自己的请求级凭据交给适配器
			v, u, err := call(llm.ScopeCredentialOverride(ctx, id), res.provider, model)
			ev := d.event(p, id, model, started)
			ev.Usage = u
			ev.RetryCount = attempt
			ev.SetError(err)
			d.emitter.Emit(ctx, ev)
			if err != nil {
				log.Debug("尝试失败", zap.Int("retry_count", attempt), zap.Error(err))
				return v, err
			}
			usage = u
			return v, nil
		})
		if err == nil {
			return value, Result{TrackID: p.trackID, Backend: id, Model: model, Usage: usage}, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Warn("后端重试耗尽，切换下一个", zap.Error(err))
	}

	if !attempted {
		lastErr = types.NewAllProvidersFailedError()
	}
	d.emitTerminal(ctx, p, lastErr)
	p.logger.Error("全部后端失败", zap.Error(lastErr))
	return zero, Result{TrackID: p.trackID}, lastErr
}

// emitTerminal 全部失败时的终止事件：用量为零，模型为 unknown
func (d *Dispatcher) emitTerminal(ctx context.Context, p *plan, err error) {
	backend := ""
	if len(p.merged.order) > 0 {
		backend = p.merged.order[0]
	}
	ev := d.event(p, backend, tracking.UnknownModel, d.now())
	ev.Terminal = true
	ev.SetError(err)
	d.emitter.Emit(ctx, ev)
}
