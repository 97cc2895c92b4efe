package measure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/banshee-data/vitals.report/internal/testutil"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

func newTracedSession(t *testing.T) (*Session, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s, err := NewSession(nil, Options{
		Clock:  timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Tracer: tp.Tracer(tracerName),
		Logf:   t.Logf,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func TestAnalyze_RecordsSpan(t *testing.T) {
	s, rec := newTracedSession(t)
	appendTrace(s, testutil.PulseTrace(testutil.PulseOptions{Samples: 600}))

	_, err := s.Analyze(context.Background())
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "measure.Analyze", span.Name())
	assert.Equal(t, codes.Unset, span.Status().Code)

	attrs := map[string]bool{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = true
	}
	for _, key := range []string{"separation.method", "trace.samples", "estimate.bpm", "quality.grade"} {
		assert.True(t, attrs[key], "missing attribute %s", key)
	}
}

func TestAnalyze_SpanRecordsError(t *testing.T) {
	s, rec := newTracedSession(t)
	appendTrace(s, testutil.PulseTrace(testutil.PulseOptions{Samples: 10}))

	_, err := s.Analyze(context.Background())
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
