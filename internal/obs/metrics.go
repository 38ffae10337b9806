package obs

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "loom.orchestrator"

// Metrics holds all run-lifecycle metric instruments.
//
// Instrument names and shape are carried over from a sibling agent-platform's
// run metrics, renamed to this domain.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	RunsCanceled  metric.Int64Counter
	Iterations    metric.Int64Counter
	RunDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments against the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.RunsStarted, err = meter.Int64Counter("loom.runs.started",
		metric.WithDescription("Number of runs started")); err != nil {
		return nil, err
	}
	if m.RunsCompleted, err = meter.Int64Counter("loom.runs.completed",
		metric.WithDescription("Number of runs that reached status=completed")); err != nil {
		return nil, err
	}
	if m.RunsFailed, err = meter.Int64Counter("loom.runs.failed",
		metric.WithDescription("Number of runs that reached status=failed")); err != nil {
		return nil, err
	}
	if m.RunsCanceled, err = meter.Int64Counter("loom.runs.canceled",
		metric.WithDescription("Number of runs that reached status=canceled")); err != nil {
		return nil, err
	}
	if m.Iterations, err = meter.Int64Counter("loom.run.iterations",
		metric.WithDescription("Number of agent iterations executed")); err != nil {
		return nil, err
	}
	if m.RunDuration, err = meter.Float64Histogram("loom.run.duration_seconds",
		metric.WithDescription("Run duration in seconds")); err != nil {
		return nil, err
	}

	return m, nil
}

// Noop returns a Metrics whose instruments discard all measurements, for use
// in tests and callers that don't want OTel wired up.
func Noop() *Metrics {
	m, err := NewMetrics()
	if err != nil {
		// otel's default no-op MeterProvider never errors on instrument creation.
		panic(err)
	}
	return m
}
