package fallback

import (
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/retry"
)

// Defaults 进程级默认参数，与每个请求合并。
type Defaults struct {
	Order        []string
	Retries      int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	Verbosity    int
	// Models 每种操作的默认模型表：操作 -> 后端 -> 模型
	Models map[llm.Operation]map[string]string
}

// DefaultDefaults 返回内置的默认参数。
func DefaultDefaults() Defaults {
	return Defaults{
		Retries:      2,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		Verbosity:    1,
		Models:       map[llm.Operation]map[string]string{},
	}
}

// merged 一次调用合并后的参数
type merged struct {
	order     []string
	models    map[string]string
	policy    retry.RetryPolicy
	caller    string
	verbosity int
}

func (d Defaults) merge(op llm.Operation, o Options) merged {
	m := merged{
		order:     d.Order,
		caller:    o.Caller,
		verbosity: d.Verbosity,
		policy: retry.RetryPolicy{
			MaxRetries:   d.Retries,
			InitialDelay: d.InitialDelay,
			MaxDelay:     d.MaxDelay,
			Multiplier:   d.Multiplier,
			Jitter:       d.Jitter,
		},
	}
	if len(o.Order) > 0 {
		m.order = o.Order
	}
	if o.Retries != nil {
		m.policy.MaxRetries = *o.Retries
	}
	if o.InitialDelay > 0 {
		m.policy.InitialDelay = o.InitialDelay
	}
	if o.Verbosity != nil {
		m.verbosity = *o.Verbosity
	}

	// 结构化对象复用文本模型表，流式同理
	table := d.Models[op]
	if len(table) == 0 && (op == llm.OpObject || op == llm.OpStream) {
		table = d.Models[llm.OpText]
	}
	m.models = make(map[string]string, len(table)+len(o.Models))
	for id, model := range table {
		m.models[id] = model
	}
	for id, model := range o.Models {
		m.models[id] = model
	}
	return m
}
