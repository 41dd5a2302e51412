package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	tel, err := Init(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, tel.tracer)
	assert.NotNil(t, tel.meter)

	cfg := &Config{Enabled: false, ServiceName: "test-service"}
	tel, err = Init(ctx, cfg)
	require.NoError(t, err)
	assert.Same(t, tel, globalTelemetry)
	assert.Nil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
	assert.NoError(t, Shutdown(ctx))
}

func TestInit_EnabledAppliesDefaults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping collector test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := &Config{
		Enabled:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		CollectorAddr:  "localhost:4317",
	}

	tel, err := Init(ctx, cfg)
	require.NoError(t, err)
	assert.NotNil(t, tel.tracerProvider)
	assert.NotNil(t, tel.meterProvider)
	assert.Equal(t, 15*time.Second, cfg.MetricInterval)
	assert.Equal(t, 1.0, cfg.SampleRatio)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	_ = Shutdown(shutdownCtx)
}

func TestShutdown_NilGlobal(t *testing.T) {
	globalTelemetry = nil
	assert.NoError(t, Shutdown(context.Background()))
}

func TestStartSpan_NoGlobal(t *testing.T) {
	globalTelemetry = nil
	ctx := context.Background()

	newCtx, span := StartSpan(ctx, "closeout.summary")
	assert.Equal(t, ctx, newCtx)
	assert.NotNil(t, span)
	assert.False(t, span.SpanContext().HasTraceID())
}

func TestSetSpanError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	globalTelemetry = &Telemetry{tracer: provider.Tracer("test")}
	defer func() { globalTelemetry = nil }()

	ctx, span := StartSpan(context.Background(), "closeout.finalize")
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().HasTraceID())
	SetSpanError(span, nil)
	SetSpanError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "closeout.finalize", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{name: "full", ratio: 1, want: "AlwaysOnSampler"},
		{name: "above one", ratio: 2, want: "AlwaysOnSampler"},
		{name: "zero", ratio: 0, want: "AlwaysOffSampler"},
		{name: "fraction", ratio: 0.25, want: "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, samplerFor(tt.ratio).Description())
		})
	}
}
