package fallback

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/types"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// GenerateObject 生成文本并解析为 T。
//
// 解析失败（MALFORMED_OUTPUT）与传输失败一样进入重试与降级，
// 失败那次尝试的用量仍会单独记录。
func GenerateObject[T any](ctx context.Context, d *Dispatcher, req TextRequest) (*ObjectResult[T], error) {
	ctx, p := d.newPlan(ctx, llm.OpObject, req.Options)

	type parsed struct {
		obj T
		raw string
	}
	out, res, err := runOneShot(ctx, d, p, func(ctx context.Context, prov llm.Provider, model string) (parsed, types.Usage, error) {
		resp, err := prov.Generate(ctx, req.toLLM(model, true))
		if err != nil {
			return parsed{}, types.Usage{}, err
		}
		var obj T
		if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &obj); err != nil {
			return parsed{}, resp.Usage, types.NewMalformedOutputError(prov.Name(), err)
		}
		return parsed{obj: obj, raw: resp.Text}, resp.Usage, nil
	})
	if err != nil {
		return nil, err
	}
	return &ObjectResult[T]{Result: res, Object: out.obj, Raw: out.raw}, nil
}

// GenerateJSON 不绑定具体类型，返回校验过的原始 JSON。
func (d *Dispatcher) GenerateJSON(ctx context.Context, req TextRequest) (*ObjectResult[json.RawMessage], error) {
	return GenerateObject[json.RawMessage](ctx, d, req)
}

// extractJSON 去掉 markdown 代码块，或截取最外层的对象/数组边界
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		if m := fencePattern.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}

	// 以先出现的括号类型为准
	open, closing := "{", "}"
	obj, arr := strings.Index(response, "{"), strings.Index(response, "[")
	if arr >= 0 && (obj < 0 || arr < obj) {
		open, closing = "[", "]"
	}
	if start, end := strings.Index(response, open), strings.LastIndex(response, closing); start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}
