// MockProvider 的后端测试模拟实现。
//
// 按调用顺序返回预设结果，支持文本、流式与图片三种操作及错误注入。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/types"
)

// --- 预设结果 ---

// Outcome 一次文本或图片调用的预设结果
type Outcome struct {
	Text  string
	URL   string
	Usage types.Usage
	Err   error
}

// StreamScript 一次流式调用的预设行为
type StreamScript struct {
	// OpenErr 建立流时直接返回的错误
	OpenErr error
	Chunks  []string
	Usage   *types.Usage
	// FailErr 非空时在输出完 Chunks 后以该错误终止流
	FailErr error
}

// Call 记录单次调用
type Call struct {
	Op    llm.Operation
	Model string
	Text  *llm.TextRequest
	Image *llm.ImageRequest
	// APIKey 调用时 ctx 中对本后端可见的请求级凭据
	APIKey string
}

// DefaultUsage 预设结果默认携带的用量
var DefaultUsage = types.ReportedUsage(10, 20, 0)

// --- MockProvider 结构 ---

// MockProvider 可编排的后端。没有预设结果的操作返回不支持错误。
// 预设结果按顺序消费，用完后重复最后一个。
type MockProvider struct {
	mu sync.Mutex

	name    string
	texts   []Outcome
	streams []StreamScript
	images  []Outcome
	calls   []Call
	counts  map[llm.Operation]int
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:   name,
		counts: make(map[llm.Operation]int),
	}
}

// WithText 追加一个成功的文本结果
func (m *MockProvider) WithText(text string) *MockProvider {
	return m.WithTextOutcomes(Outcome{Text: text, Usage: DefaultUsage})
}

// WithError 追加一个失败的文本结果
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.WithTextOutcomes(Outcome{Err: err})
}

// WithTextOutcomes 追加文本结果
func (m *MockProvider) WithTextOutcomes(outcomes ...Outcome) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, outcomes...)
	return m
}

// WithStream 追加流式脚本
func (m *MockProvider) WithStream(scripts ...StreamScript) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = append(m.streams, scripts...)
	return m
}

// WithImage 追加一个成功的图片结果
func (m *MockProvider) WithImage(url string) *MockProvider {
	return m.WithImageOutcomes(Outcome{URL: url, Usage: DefaultUsage})
}

// WithImageOutcomes 追加图片结果
func (m *MockProvider) WithImageOutcomes(outcomes ...Outcome) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, outcomes...)
	return m
}

// --- llm.Provider 实现 ---

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	m.mu.Lock()
	n := m.record(ctx, Call{Op: llm.OpText, Model: req.Model, Text: req})
	if len(m.texts) == 0 {
		m.mu.Unlock()
		return nil, types.NewUnsupportedError(m.name, "text generation")
	}
	o := m.texts[min(n, len(m.texts)-1)]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Err != nil {
		return &llm.TextResponse{Usage: o.Usage}, o.Err
	}
	return &llm.TextResponse{Text: o.Text, Usage: o.Usage}, nil
}

func (m *MockProvider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.StreamEvent, error) {
	m.mu.Lock()
	n := m.record(ctx, Call{Op: llm.OpStream, Model: req.Model, Text: req})
	if len(m.streams) == 0 {
		m.mu.Unlock()
		return nil, types.NewUnsupportedError(m.name, "streaming")
	}
	s := m.streams[min(n, len(m.streams)-1)]
	m.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		emit := func(ev llm.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, c := range s.Chunks {
			if !emit(llm.StreamEvent{Text: c}) {
				return
			}
		}
		if s.Usage != nil && !emit(llm.StreamEvent{Usage: s.Usage}) {
			return
		}
		if s.FailErr != nil {
			emit(llm.StreamEvent{Err: s.FailErr})
		}
	}()
	return ch, nil
}

func (m *MockProvider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	m.mu.Lock()
	n := m.record(ctx, Call{Op: llm.OpImage, Model: req.Model, Image: req})
	if len(m.images) == 0 {
		m.mu.Unlock()
		return nil, types.NewUnsupportedError(m.name, "image generation")
	}
	o := m.images[min(n, len(m.images)-1)]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Err != nil {
		return nil, o.Err
	}
	return &llm.ImageResponse{ImageURL: o.URL, Usage: o.Usage}, nil
}

// --- 调用记录 ---

// record 记录调用并返回该操作此前的调用次数，调用方需持有锁
func (m *MockProvider) record(ctx context.Context, c Call) int {
	if o, ok := llm.CredentialOverrideFromContext(ctx); ok {
		c.APIKey = o.APIKey
	}
	m.calls = append(m.calls, c)
	n := m.counts[c.Op]
	m.counts[c.Op] = n + 1
	return n
}

// Calls 返回全部调用记录
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount 返回某个操作的调用次数
func (m *MockProvider) CallCount(op llm.Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[op]
}

// TotalCalls 返回所有操作的调用次数
func (m *MockProvider) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ llm.Provider = (*MockProvider)(nil)
