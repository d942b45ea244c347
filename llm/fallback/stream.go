package fallback

import (
	"context"
	"strings"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/retry"
	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
)

// ChunkKind 流式分片类型
type ChunkKind string

const (
	// ChunkText 文本增量
	ChunkText ChunkKind = "text"
	// ChunkSegmentFailed 某个后端中途失败，Partial 为它已输出的文本
	ChunkSegmentFailed ChunkKind = "segment_failed"
	// ChunkDone 某个后端完整结束，流随之结束
	ChunkDone ChunkKind = "done"
	// ChunkFailed 全部后端失败，流随之结束
	ChunkFailed ChunkKind = "failed"
)

// StreamChunk 流式输出的一个分片。
type StreamChunk struct {
	Kind    ChunkKind   `json:"kind"`
	TrackID string      `json:"track_id"`
	Backend string      `json:"backend,omitempty"`
	Model   string      `json:"model,omitempty"`
	Text    string      `json:"text,omitempty"`
	Partial string      `json:"partial,omitempty"`
	Usage   types.Usage `json:"usage"`
	Err     error       `json:"-"`
}

// ErrorMessage returns the chunk error text, or "".
func (c StreamChunk) ErrorMessage() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// StreamText 按降级顺序流式生成文本。
//
// 不具备流式能力的后端被静默过滤。重试只作用于建立流，已经开始输出的后端
// 中途失败时产生一个 ChunkSegmentFailed，然后从头尝试下一个后端。
// 返回的通道总是以 ChunkDone 或 ChunkFailed 结束并关闭；ctx 取消时直接关闭。
// The channel is unbuffered, so callers must drain or cancel ctx; otherwise
// the producing goroutine and the upstream connection stay blocked.
func (d *Dispatcher) StreamText(ctx context.Context, req TextRequest) <-chan StreamChunk {
	out := make(chan StreamChunk)
	ctx, p := d.newPlan(ctx, llm.OpStream, d.streamOptions(req.Options))

	go func() {
		defer close(out)
		d.runStream(ctx, p, req, out)
	}()
	return out
}

// streamOptions 过滤掉已登记但不支持流式的后端
func (d *Dispatcher) streamOptions(o Options) Options {
	order := o.Order
	if len(order) == 0 {
		order = d.defaults.Order
	}
	filtered := make([]string, 0, len(order))
	for _, id := range order {
		if caps, ok := d.registry.Capabilities(id); ok && !caps.Stream {
			continue
		}
		filtered = append(filtered, id)
	}
	o.Order = filtered
	return o
}

func (d *Dispatcher) runStream(ctx context.Context, p *plan, req TextRequest, out chan<- StreamChunk) {
	send := func(c StreamChunk) bool {
		c.TrackID = p.trackID
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

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

		partial, usage, err := d.streamBackend(ctx, p, id, model, req, send)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		lastErr = err
		log.Warn("后端流失败，切换下一个", zap.Error(err), zap.Int("partial_len", len(partial)))
		if !send(StreamChunk{Kind: ChunkSegmentFailed, Backend: id, Model: model, Partial: partial, Usage: usage, Err: err}) {
			return
		}
	}

	if !attempted {
		lastErr = types.NewAllProvidersFailedError()
	}
	p.logger.Error("全部后端流失败", zap.Error(lastErr))
	send(StreamChunk{Kind: ChunkFailed, Err: lastErr})
}

// streamBackend 在一个后端上完成一次流式生成。返回 nil 表示已发送 ChunkDone。
func (d *Dispatcher) streamBackend(
	ctx context.Context,
	p *plan,
	id, model string,
	req TextRequest,
	send func(StreamChunk) bool,
) (string, types.Usage, error) {
	res := p.resolved[id]
	if res.err != nil {
		ev := d.event(p, id, model, d.now())
		ev.SetError(res.err)
		d.emitter.Emit(ctx, ev)
		return "", types.Usage{}, res.err
	}

	var (
		openAttempt int
		started     = d.now()
	)
	events, err := retry.DoWithResult(ctx, p.retryer, func(ctx context.Context, attempt int) (<-chan llm.StreamEvent, error) {
		openAttempt = attempt
		started = d.now()
		ch, err := res.provider.GenerateStream(llm.ScopeCredentialOverride(ctx, id), req.toLLM(model, false))
		if err != nil {
			ev := d.event(p, id, model, started)
			ev.RetryCount = attempt
			ev.SetError(err)
			d.emitter.Emit(ctx, ev)
		}
		return ch, err
	})
	if err != nil {
		return "", types.Usage{}, err
	}

	var (
		text  strings.Builder
		usage types.Usage
	)
	for {
		select {
		case <-ctx.Done():
			return text.String(), usage, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				done := d.event(p, id, model, started)
				done.RetryCount = openAttempt
				done.Usage = usage
				d.emitter.Emit(ctx, done)
				send(StreamChunk{Kind: ChunkDone, Backend: id, Model: model, Text: text.String(), Usage: usage})
				return text.String(), usage, nil
			}
			if ev.Err != nil {
				failed := d.event(p, id, model, started)
				failed.RetryCount = openAttempt
				failed.Usage = usage
				failed.SetError(ev.Err)
				d.emitter.Emit(ctx, failed)
				return text.String(), usage, ev.Err
			}
			if ev.Usage != nil {
				usage = *ev.Usage
			}
			if ev.Text != "" {
				text.WriteString(ev.Text)
				if !send(StreamChunk{Kind: ChunkText, Backend: id, Model: model, Text: ev.Text}) {
					return text.String(), usage, ctx.Err()
				}
			}
		}
	}
}
