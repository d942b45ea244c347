package types

// Usage 单次调用的 Token 用量。
//
// Reported 为 false 表示上游没有返回用量，此时各计数字段均为零，
// 但不代表真实消耗为零。
type Usage struct {
	InputTokens     int  `json:"input_tokens"`
	OutputTokens    int  `json:"output_tokens"`
	ReasoningTokens int  `json:"reasoning_tokens,omitempty"`
	Reported        bool `json:"reported"`
}

// ReportedUsage 构造一个来自上游的用量。
func ReportedUsage(input, output, reasoning int) Usage {
	return Usage{
		InputTokens:     input,
		OutputTokens:    output,
		ReasoningTokens: reasoning,
		Reported:        true,
	}
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add 累加另一份用量；任意一方上报过即视为已上报。
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:     u.InputTokens + other.InputTokens,
		OutputTokens:    u.OutputTokens + other.OutputTokens,
		ReasoningTokens: u.ReasoningTokens + other.ReasoningTokens,
		Reported:        u.Reported || other.Reported,
	}
}
