package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/tracking"
	"github.com/BaSui01/aifallback/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	c, reg := newTestCollector(t)

	assert.NotNil(t, c.attemptsTotal)
	assert.NotNil(t, c.tokensUsed)

	// 同一注册表重复注册会 panic
	assert.Panics(t, func() { NewCollector("test", reg, nil) })
}

func TestCollector_TrackSuccess(t *testing.T) {
	c, _ := newTestCollector(t)

	c.Track(context.Background(), tracking.Event{
		Backend:   "openai",
		Model:     "gpt-5.2",
		Operation: llm.OpText,
		Usage:     types.ReportedUsage(10, 20, 5),
		ElapsedMs: 1500,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptsTotal.WithLabelValues("openai", "text", StatusOK)))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.tokensUsed.WithLabelValues("openai", "gpt-5.2", "input")))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.tokensUsed.WithLabelValues("openai", "gpt-5.2", "output")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.tokensUsed.WithLabelValues("openai", "gpt-5.2", "reasoning")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.attemptDuration))
}

func TestCollector_TrackFailureAndRetry(t *testing.T) {
	c, _ := newTestCollector(t)

	ev := tracking.Event{Backend: "anthropic", Model: "claude", Operation: llm.OpStream, RetryCount: 1}
	ev.SetError(types.NewError(types.ErrRateLimited, "slow down"))
	c.Track(context.Background(), ev)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptsTotal.WithLabelValues("anthropic", "stream", "RATE_LIMITED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesTotal.WithLabelValues("anthropic", "stream")))
	// 未上报用量时不产生 token 序列
	assert.Equal(t, 0, testutil.CollectAndCount(c.tokensUsed))
}

func TestCollector_TrackTerminal(t *testing.T) {
	c, _ := newTestCollector(t)

	ev := tracking.Event{Backend: "", Model: tracking.UnknownModel, Operation: llm.OpImage, Terminal: true}
	ev.SetError(types.NewAllProvidersFailedError())
	c.Track(context.Background(), ev)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.exhaustedTotal.WithLabelValues("image")))
	assert.Equal(t, 0, testutil.CollectAndCount(c.attemptsTotal))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/v1/text", 200, 100*time.Millisecond)
	c.RecordHTTPRequest("POST", "/v1/text", 502, 50*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/v1/text", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/v1/text", "5xx")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{100, "100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusCode(tt.code))
	}
}
