package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
//
// 第 i 次（从 0 开始）尝试失败后的等待时间为 InitialDelay * Multiplier^i。
// MaxDelay 为 0 表示不封顶；Jitter 默认关闭。
type RetryPolicy struct {
	MaxRetries   int           // 最大重试次数（0 表示只尝试一次）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间，0 表示不限制
	Multiplier   float64       // 延迟倍增因子
	Jitter       bool          // 是否添加 ±25% 随机抖动

	// ShouldRetry 判断错误是否值得重试，为空时使用 DefaultShouldRetry
	ShouldRetry func(err error) bool
	// OnRetry 在每次等待之前调用，attempt 为刚刚失败的尝试序号
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep 可替换的等待函数，测试中用于跳过真实等待
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
	}
}

// DefaultShouldRetry 不支持的操作、缺失凭证、配置错误以及 context 取消不重试，
// 其余错误一律重试。
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch types.GetErrorCode(err) {
	case types.ErrUnsupportedOperation, types.ErrMissingCredential, types.ErrConfiguration:
		return false
	}
	return true
}

// Delay 返回第 attempt 次（从 0 开始）失败后的等待时间
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay += (rand.Float64()*2 - 1) * delay * 0.25
	}
	if delay < 0 || math.IsInf(delay, 0) || delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}

// Retryer 基于指数退避的重试器
type Retryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = DefaultShouldRetry
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}

	return &Retryer{policy: p, logger: logger}
}

// Policy returns a copy of the normalized policy.
func (r *Retryer) Policy() RetryPolicy {
	return r.policy
}

// Do 执行 fn，失败时按策略重试。attempt 从 0 开始计数。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	_, err := DoWithResult(ctx, r, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// DoWithResult 是 Retryer 的泛型入口，最多执行 MaxRetries+1 次。
//
// 重试耗尽或遇到不可重试错误时原样返回最后一次的错误，不做包装；
// 等待期间 context 被取消时返回 ctx.Err()。
func DoWithResult[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error
	p := r.policy

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !p.ShouldRetry(err) {
			r.logger.Debug("错误不可重试", zap.Int("attempt", attempt), zap.Error(err))
			return zero, err
		}
		if attempt >= p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		r.logger.Debug("重试中",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	r.logger.Debug("重试次数耗尽",
		zap.Int("attempts", p.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, lastErr
}

// WithRetry 使用默认退避参数执行 fn，最多 maxRetries+1 次。
func WithRetry[T any](ctx context.Context, fn func(ctx context.Context, attempt int) (T, error), maxRetries int, initialDelay time.Duration) (T, error) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: initialDelay,
		Multiplier:   2.0,
	}, nil)
	return DoWithResult(ctx, r, fn)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
