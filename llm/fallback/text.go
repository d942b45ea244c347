package fallback

import (
	"context"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/types"
)

// GenerateText 按降级顺序生成文本。
//
// 全部后端失败时返回最后一个后端的错误（原样）；没有任何后端被尝试时
// 返回 ALL_PROVIDERS_FAILED。
func (d *Dispatcher) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	ctx, p := d.newPlan(ctx, llm.OpText, req.Options)

	text, res, err := runOneShot(ctx, d, p, func(ctx context.Context, prov llm.Provider, model string) (string, types.Usage, error) {
		resp, err := prov.Generate(ctx, req.toLLM(model, false))
		if err != nil {
			return "", types.Usage{}, err
		}
		return resp.Text, resp.Usage, nil
	})
	if err != nil {
		return nil, err
	}
	return &TextResult{Result: res, Text: text}, nil
}

func (r TextRequest) toLLM(model string, jsonMode bool) *llm.TextRequest {
	return &llm.TextRequest{
		Model:        model,
		SystemPrompt: r.SystemPrompt,
		Messages:     r.Messages,
		MaxTokens:    r.MaxTokens,
		Temperature:  r.Temperature,
		JSONMode:     jsonMode,
	}
}
