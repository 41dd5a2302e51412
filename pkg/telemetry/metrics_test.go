package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTelemetryDisabled(t *testing.T) func() {
	ctx := context.Background()
	_, err := Init(ctx, &Config{Enabled: false, ServiceName: "test-service"})
	require.NoError(t, err)

	return func() {
		_ = Shutdown(ctx)
	}
}

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	return sums
}

func TestCounterAndHistogram_Disabled(t *testing.T) {
	cleanup := setupTelemetryDisabled(t)
	defer cleanup()

	counter, err := NewCounter(MetricOpts{Name: "test_counter", Description: "A test counter", Unit: "1"})
	require.NoError(t, err)
	counter.Add(context.Background(), 5, EventIDAttr("evt-1"))
	counter.Inc(context.Background())

	hist, err := NewHistogramWithBuckets(MetricOpts{Name: "test_hist", Unit: "s"}, []float64{0.1, 1})
	require.NoError(t, err)
	hist.Record(context.Background(), 0.2)

	plain, err := NewHistogram(MetricOpts{Name: "test_hist_plain", Unit: "s"})
	require.NoError(t, err)
	plain.Record(context.Background(), 1.5)
}

func TestNewCloseoutMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewCloseoutMetrics(provider.Meter("closeout-test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.Summaries.Inc(ctx, EventIDAttr("evt-1"))
	m.Summaries.Inc(ctx, EventIDAttr("evt-2"))
	m.Overrides.Inc(ctx, PromoterIDAttr("p-1"))
	m.Finalizations.Inc(ctx)
	m.FinalizeRejected.Add(ctx, 2, ReasonAttr("already_closed"))
	m.SummarizeDuration.Record(ctx, 0.02)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["closeout_summaries_total"])
	assert.Equal(t, int64(1), sums["closeout_checkin_overrides_total"])
	assert.Equal(t, int64(1), sums["closeout_finalized_total"])
	assert.Equal(t, int64(2), sums["closeout_finalize_rejected_total"])
}

func TestNewCloseoutMetrics_GlobalMeter(t *testing.T) {
	cleanup := setupTelemetryDisabled(t)
	defer cleanup()

	m, err := NewCloseoutMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, m.LockContention)
	assert.NotNil(t, m.ConfigurationLines)
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name string
		key  string
		got  string
	}{
		{"method", AttrMethod, string(MethodAttr("GET").Key)},
		{"path", AttrPath, string(PathAttr("/x").Key)},
		{"error type", AttrErrorType, string(ErrorTypeAttr("validation").Key)},
		{"event", AttrEventID, string(EventIDAttr("e").Key)},
		{"promoter", AttrPromoterID, string(PromoterIDAttr("p").Key)},
		{"user", AttrUserID, string(UserIDAttr("u").Key)},
		{"status", AttrCloseStatus, string(CloseoutStatusAttr("OPEN").Key)},
		{"reason", AttrReason, string(ReasonAttr("r").Key)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.got)
		})
	}
	assert.Equal(t, int64(201), StatusCodeAttr(201).Value.AsInt64())
}
