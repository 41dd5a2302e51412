package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts holds options for creating metrics
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Counter wraps an OTel counter
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a counter on the global meter
func NewCounter(opts MetricOpts) (*Counter, error) {
	return newCounter(GetMeter(), opts)
}

func newCounter(meter metric.Meter, opts MetricOpts) (*Counter, error) {
	counter, err := meter.Int64Counter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Counter{counter: counter}, nil
}

// Add increments the counter by the given value
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram wraps an OTel float histogram
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a histogram on the global meter
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	return newHistogram(GetMeter(), opts, nil)
}

// NewHistogramWithBuckets creates a histogram with explicit bucket boundaries
func NewHistogramWithBuckets(opts MetricOpts, boundaries []float64) (*Histogram, error) {
	return newHistogram(GetMeter(), opts, boundaries)
}

func newHistogram(meter metric.Meter, opts MetricOpts, boundaries []float64) (*Histogram, error) {
	options := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(boundaries) > 0 {
		options = append(options, metric.WithExplicitBucketBoundaries(boundaries...))
	}
	histogram, err := meter.Float64Histogram(opts.Name, options...)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: histogram}, nil
}

// Record records a value in the histogram
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// CloseoutMetrics groups the instruments recorded by the closeout service
type CloseoutMetrics struct {
	Summaries          *Counter
	SummarizeDuration  *Histogram
	ConfigurationLines *Counter
	Overrides          *Counter
	Adjustments        *Counter
	Finalizations      *Counter
	FinalizeRejected   *Counter
	LockContention     *Counter
}

// NewCloseoutMetrics registers the closeout instruments on meter.
// A nil meter uses the global one.
func NewCloseoutMetrics(meter metric.Meter) (*CloseoutMetrics, error) {
	if meter == nil {
		meter = GetMeter()
	}

	m := &CloseoutMetrics{}
	counters := []struct {
		dst  **Counter
		opts MetricOpts
	}{
		{&m.Summaries, MetricOpts{Name: "closeout_summaries_total", Description: "Closeout summaries computed", Unit: "1"}},
		{&m.ConfigurationLines, MetricOpts{Name: "closeout_configuration_errors_total", Description: "Promoter lines with an unusable commission model", Unit: "1"}},
		{&m.Overrides, MetricOpts{Name: "closeout_checkin_overrides_total", Description: "Check-in overrides set or cleared", Unit: "1"}},
		{&m.Adjustments, MetricOpts{Name: "closeout_payout_adjustments_total", Description: "Payout adjustments set or cleared", Unit: "1"}},
		{&m.Finalizations, MetricOpts{Name: "closeout_finalized_total", Description: "Events finalized", Unit: "1"}},
		{&m.FinalizeRejected, MetricOpts{Name: "closeout_finalize_rejected_total", Description: "Finalize attempts rejected", Unit: "1"}},
		{&m.LockContention, MetricOpts{Name: "closeout_lock_contention_total", Description: "Mutations rejected because the event lock was held", Unit: "1"}},
	}
	for _, c := range counters {
		counter, err := newCounter(meter, c.opts)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.opts.Name, err)
		}
		*c.dst = counter
	}

	hist, err := newHistogram(meter, MetricOpts{
		Name:        "closeout_summarize_duration_seconds",
		Description: "Time to build a closeout summary",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5})
	if err != nil {
		return nil, fmt.Errorf("create summarize histogram: %w", err)
	}
	m.SummarizeDuration = hist

	return m, nil
}

// Common attribute keys
const (
	AttrMethod      = "http.method"
	AttrPath        = "http.path"
	AttrStatusCode  = "http.status_code"
	AttrErrorType   = "error.type"
	AttrEventID     = "event.id"
	AttrPromoterID  = "promoter.id"
	AttrUserID      = "user.id"
	AttrCloseStatus = "closeout.status"
	AttrReason      = "closeout.reason"
)

func MethodAttr(method string) attribute.KeyValue {
	return attribute.String(AttrMethod, method)
}

func PathAttr(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

func StatusCodeAttr(code int) attribute.KeyValue {
	return attribute.Int(AttrStatusCode, code)
}

func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}

func EventIDAttr(eventID string) attribute.KeyValue {
	return attribute.String(AttrEventID, eventID)
}

func PromoterIDAttr(promoterID string) attribute.KeyValue {
	return attribute.String(AttrPromoterID, promoterID)
}

func UserIDAttr(userID string) attribute.KeyValue {
	return attribute.String(AttrUserID, userID)
}

func CloseoutStatusAttr(status string) attribute.KeyValue {
	return attribute.String(AttrCloseStatus, status)
}

func ReasonAttr(reason string) attribute.KeyValue {
	return attribute.String(AttrReason, reason)
}
