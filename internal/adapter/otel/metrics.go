package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "planvault"

// Metrics holds the storage-engine metric instruments.
type Metrics struct {
	BatchesExecuted  metric.Int64Counter
	BatchesFailed    metric.Int64Counter
	EntitiesWritten  metric.Int64Counter
	LockWaitSeconds  metric.Float64Histogram
	BatchDurationSec metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.BatchesExecuted, err = meter.Int64Counter("planvault.batches.executed",
		metric.WithDescription("Number of batch executions started"))
	if err != nil {
		return nil, err
	}

	m.BatchesFailed, err = meter.Int64Counter("planvault.batches.failed",
		metric.WithDescription("Number of batch executions that failed"))
	if err != nil {
		return nil, err
	}

	m.EntitiesWritten, err = meter.Int64Counter("planvault.entities.written",
		metric.WithDescription("Number of entity documents written"))
	if err != nil {
		return nil, err
	}

	m.LockWaitSeconds, err = meter.Float64Histogram("planvault.lock.wait_seconds",
		metric.WithDescription("Time spent waiting for resource locks"))
	if err != nil {
		return nil, err
	}

	m.BatchDurationSec, err = meter.Float64Histogram("planvault.batch.duration_seconds",
		metric.WithDescription("Batch execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
