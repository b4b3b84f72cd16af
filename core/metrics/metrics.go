// Package metrics defines the instrumentation contracts for the service.
// Implementations live in infra/metrics.
package metrics

import (
	"context"

	"github.com/wodeewa/fleetd/core/model"
)

// Report kinds used as metric labels.
const (
	ReportLocation = "location"
	ReportBattery  = "battery"
	ReportStatus   = "status"
	ReportStartup  = "startup"
)

// Sink records operational counters. Implementations must be safe for
// concurrent use and must never block the caller.
type Sink interface {
	// RecordReport counts an accepted unit report of the given kind.
	RecordReport(kind string)
	// RecordEvent counts an event published on the bus.
	RecordEvent(kind model.EventKind)
	// RecordEventDropped counts an event dropped for a slow subscriber.
	RecordEventDropped()
	// RecordRental counts a take or return attempt and its outcome.
	RecordRental(op string, ok bool)
	// SetSubscribers tracks the number of open stream connections.
	SetSubscribers(n int)
}

// NopSink discards all measurements.
type NopSink struct{}

func (NopSink) RecordReport(string)         {}
func (NopSink) RecordEvent(model.EventKind) {}
func (NopSink) RecordEventDropped()         {}
func (NopSink) RecordRental(string, bool)   {}
func (NopSink) SetSubscribers(int)          {}

// TelemetrySink receives accepted unit telemetry for time-series storage.
// Writes are best-effort: a failed point must not fail the report.
type TelemetrySink interface {
	WriteLocation(ctx context.Context, rec model.UnitLocation) error
	WriteBattery(ctx context.Context, rec model.UnitBattery) error
	WriteStatus(ctx context.Context, rec model.UnitStatusRecord) error
}

// NopTelemetry discards all points.
type NopTelemetry struct{}

func (NopTelemetry) WriteLocation(context.Context, model.UnitLocation) error   { return nil }
func (NopTelemetry) WriteBattery(context.Context, model.UnitBattery) error     { return nil }
func (NopTelemetry) WriteStatus(context.Context, model.UnitStatusRecord) error { return nil }
