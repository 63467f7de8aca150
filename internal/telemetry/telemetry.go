// Package telemetry owns the OpenTelemetry instruments ledgerline records.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without telemetry in tests.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// InstrumentationName is the meter name used for every instrument.
const InstrumentationName = "github.com/roach88/ledgerline"

// Metrics holds the instruments.
type Metrics struct {
	appends           metric.Int64Counter
	skipped           metric.Int64Counter
	chainRetries      metric.Int64Counter
	appendDuration    metric.Float64Histogram
	integrityFailures metric.Int64Counter
	observations      metric.Int64Counter
	executions        metric.Int64Counter
	modeChanges       metric.Int64Counter
	transitions       metric.Int64Counter
	rejections        metric.Int64Counter
}

// New creates the instruments from mp. A nil mp uses the global provider,
// which is a no-op unless the process installed one.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	m := &Metrics{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.appends, "ledger.appends", "Facts accepted by the ledger"},
		{&m.skipped, "ledger.skipped", "Appends skipped by idempotency key"},
		{&m.chainRetries, "ledger.chain_retries", "Appends retried after losing a chain position"},
		{&m.integrityFailures, "ledger.integrity_failures", "Hash chain verifications that failed"},
		{&m.observations, "policy.observations", "Shadow or candidate predictions recorded"},
		{&m.executions, "policy.executions", "Promoted policy executions"},
		{&m.modeChanges, "policy.mode_changes", "Policy promotions and kills"},
		{&m.transitions, "lifecycle.transitions", "Committed contract state transitions"},
		{&m.rejections, "lifecycle.rejections", "Rejected contract state transitions"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}

	m.appendDuration, err = meter.Float64Histogram("ledger.append.duration",
		metric.WithDescription("Append latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram ledger.append.duration: %w", err)
	}
	return m, nil
}

// NewManualReaderProvider returns an SDK provider whose metrics can be
// collected on demand. Used by tests and the serve command.
func NewManualReaderProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// Sums totals every int64 counter in rm by instrument name.
func Sums(rm metricdata.ResourceMetrics) map[string]int64 {
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			if sum, ok := inst.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[inst.Name] += dp.Value
				}
			}
		}
	}
	return out
}

// Append records an accepted or skipped append.
func (m *Metrics) Append(ctx context.Context, outcomeType string, skipped bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome_type", outcomeType))
	if skipped {
		m.skipped.Add(ctx, 1, attrs)
	} else {
		m.appends.Add(ctx, 1, attrs)
	}
	m.appendDuration.Record(ctx, elapsed.Seconds())
}

// ChainRetry records a lost chain position.
func (m *Metrics) ChainRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.chainRetries.Add(ctx, 1)
}

// IntegrityFailure records a failed verification.
func (m *Metrics) IntegrityFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.integrityFailures.Add(ctx, 1)
}

// Observation records a policy prediction.
func (m *Metrics) Observation(ctx context.Context, policyID string) {
	if m == nil {
		return
	}
	m.observations.Add(ctx, 1, metric.WithAttributes(attribute.String("policy_id", policyID)))
}

// Execution records a promoted policy execution.
func (m *Metrics) Execution(ctx context.Context, policyID string, ok bool) {
	if m == nil {
		return
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy_id", policyID),
		attribute.Bool("ok", ok),
	))
}

// ModeChange records a policy mode transition.
func (m *Metrics) ModeChange(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.modeChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Transition records a committed state transition.
func (m *Metrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Rejection records a rejected state transition.
func (m *Metrics) Rejection(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
