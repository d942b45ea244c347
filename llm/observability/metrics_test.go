package observability

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/tracking"
	"github.com/BaSui01/aifallback/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type testEnv struct {
	sink   *Sink
	reader *sdkmetric.ManualReader
	spans  *tracetest.SpanRecorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	sink, err := NewSink(WithMeterProvider(mp), WithTracerProvider(tp))
	require.NoError(t, err)
	return testEnv{sink: sink, reader: reader, spans: spans}
}

// sum 汇总某个计数器的全部数据点
func (e testEnv) sum(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, e.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestSink_TrackSuccess(t *testing.T) {
	env := newTestEnv(t)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	env.sink.Track(context.Background(), tracking.Event{
		TrackID:   "t-1",
		Backend:   "openai",
		Model:     "gpt-5.2",
		Operation: llm.OpText,
		Usage:     types.ReportedUsage(7, 3, 0),
		StartedAt: started,
		ElapsedMs: 250,
	})

	assert.Equal(t, int64(1), env.sum(t, "llm.attempt.total"))
	assert.Equal(t, int64(10), env.sum(t, "llm.token.total"))
	assert.Equal(t, int64(0), env.sum(t, "llm.error.total"))

	ended := env.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "llm.text", ended[0].Name())
	assert.Equal(t, started, ended[0].StartTime())
	assert.Equal(t, started.Add(250*time.Millisecond), ended[0].EndTime())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
}

func TestSink_TrackFailureWithoutUsage(t *testing.T) {
	env := newTestEnv(t)

	ev := tracking.Event{Backend: "anthropic", Model: "claude", Operation: llm.OpStream}
	ev.SetError(types.NewError(types.ErrUpstreamError, "boom"))
	env.sink.Track(context.Background(), ev)

	assert.Equal(t, int64(1), env.sum(t, "llm.error.total"))
	assert.Equal(t, int64(0), env.sum(t, "llm.token.total"))

	ended := env.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
}

func TestSink_TrackTerminal(t *testing.T) {
	env := newTestEnv(t)

	ev := tracking.Event{Model: tracking.UnknownModel, Operation: llm.OpImage, Terminal: true}
	ev.SetError(types.NewAllProvidersFailedError())
	env.sink.Track(context.Background(), ev)

	assert.Equal(t, int64(1), env.sum(t, "llm.fallback.exhausted"))
	assert.Equal(t, int64(0), env.sum(t, "llm.attempt.total"))

	ended := env.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "llm.image.exhausted", ended[0].Name())
}

func TestNewSink_GlobalProviders(t *testing.T) {
	sink, err := NewSink()
	require.NoError(t, err)
	// 全局 noop 实现下不应 panic
	sink.Track(context.Background(), tracking.Event{Backend: "b", Operation: llm.OpText})
}
