// Package metrics instruments the admission pipeline with OpenTelemetry.
// The global meter provider is used, so all instruments are no-ops unless
// the embedding process installs a real provider.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/skysched/vertiport/internal/metrics"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Pipeline holds the instruments for the admission-control pipeline.
type Pipeline struct {
	ingested   metric.Int64Counter
	approvals  metric.Int64Counter
	broadcasts metric.Int64Counter
	queueDepth metric.Int64ObservableGauge
}

// NewPipeline creates the pipeline instruments. queueDepth is sampled via the
// supplied callback on every metric collection.
func NewPipeline(queueDepth func() int64) (*Pipeline, error) {
	m := meter()
	p := &Pipeline{}

	var err error

	p.ingested, err = m.Int64Counter(
		"admission.telemetry.ingested",
		metric.WithDescription("Total telemetry snapshots ingested"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ingested counter: %w", err)
	}

	p.approvals, err = m.Int64Counter(
		"admission.approvals.processed",
		metric.WithDescription("Total approval commands processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating approvals counter: %w", err)
	}

	p.broadcasts, err = m.Int64Counter(
		"broadcast.snapshots.sent",
		metric.WithDescription("Total observer snapshots published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating broadcasts counter: %w", err)
	}

	p.queueDepth, err = m.Int64ObservableGauge(
		"admission.queue.depth",
		metric.WithDescription("Current number of scored entries in the landing queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue depth gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(p.queueDepth, queueDepth())
			return nil
		},
		p.queueDepth,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue depth callback: %w", err)
	}

	return p, nil
}

// TelemetryIngested records one ingested snapshot for a destination.
func (p *Pipeline) TelemetryIngested(destination string) {
	p.ingested.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("destination", destination)))
}

// ApprovalProcessed records one approval command and its outcome.
func (p *Pipeline) ApprovalProcessed(result string) {
	p.approvals.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", result)))
}

// SnapshotSent records one published observer snapshot for a channel.
func (p *Pipeline) SnapshotSent(channel string) {
	p.broadcasts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("channel", channel)))
}
