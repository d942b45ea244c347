package providers

import (
	"context"

	"github.com/BaSui01/aifallback/llm"
)

// DefaultStreamBuffer 适配器流通道的缓冲大小
const DefaultStreamBuffer = 16

// SendEvent 在 ctx 结束前投递事件，ctx 已结束时返回 false
func SendEvent(ctx context.Context, ch chan<- llm.StreamEvent, ev llm.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// StreamFailed 投递一个错误事件。ctx 已取消时改为投递 ctx 错误（若还能投递）。
func StreamFailed(ctx context.Context, ch chan<- llm.StreamEvent, err error) {
	if ctx.Err() != nil {
		select {
		case ch <- llm.StreamEvent{Err: ctx.Err()}:
		default:
		}
		return
	}
	SendEvent(ctx, ch, llm.StreamEvent{Err: err})
}
