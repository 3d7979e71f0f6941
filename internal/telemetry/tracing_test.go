package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/neogan74/rentguard/internal/config"
)

func TestInitTracing_DisabledStillProducesTraceIDs(t *testing.T) {
	tp, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:       false,
		ServiceName:   "rentguard-test",
		SamplingRatio: 1.0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	assert.False(t, tp.Exporting())

	_, span := tp.Tracer().Start(context.Background(), "probe")
	defer span.End()
	assert.True(t, span.SpanContext().HasTraceID())
}

func TestInstall_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := Install(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), "rentguard-test", false)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := otel.Tracer("x").Start(context.Background(), "findCarById")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "findCarById", ended[0].Name())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, Sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestShutdown_NilSafe(t *testing.T) {
	var tp *TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
	assert.False(t, tp.Exporting())
}
