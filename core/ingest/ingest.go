// Package ingest normalizes incoming unit reports and routes them into the
// store and the state cache. Transport adapters (HTTP, MQTT) supply the
// authenticated unit identity; the payload never does.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wodeewa/fleetd/core/logger"
	"github.com/wodeewa/fleetd/core/metrics"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/store"
	"github.com/wodeewa/fleetd/core/unitcache"
)

// ErrBadReport marks payload validation failures. Transports map it to a
// 400-class response; such reports never reach the cache.
var ErrBadReport = errors.New("bad report")

// Report is the wire payload of a unit report. Any subset of the fields may
// be present; each present group routes to its own cache sub-record.
type Report struct {
	Time    *int64   `json:"time,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	Heading *float64 `json:"heading,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
	Battery *float64 `json:"battery_level,omitempty"`
	Status  *string  `json:"status,omitempty"`
}

// Handler validates reports, persists them and applies them to the cache.
type Handler struct {
	store store.Store
	cache *unitcache.Cache
	sink  metrics.Sink
	tel   metrics.TelemetrySink
	log   logger.Logger
	now   func() int64
}

// New creates a Handler. sink and tel may be nil.
func New(st store.Store, cache *unitcache.Cache, sink metrics.Sink, tel metrics.TelemetrySink, log logger.Logger) *Handler {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if tel == nil {
		tel = metrics.NopTelemetry{}
	}
	return &Handler{
		store: st,
		cache: cache,
		sink:  sink,
		tel:   tel,
		log:   log,
		now:   func() int64 { return time.Now().Unix() },
	}
}

// Report processes one report from the authenticated unit. Each present
// sub-record is persisted first and applied to the cache after; a failed
// insert aborts before the cache mutation so store and cache never diverge.
func (h *Handler) Report(ctx context.Context, unit string, rep Report) error {
	if unit == "" {
		return fmt.Errorf("%w: missing unit identity", ErrBadReport)
	}
	if (rep.Lat == nil) != (rep.Lon == nil) {
		return fmt.Errorf("%w: lat and lon must be present together", ErrBadReport)
	}
	var status model.UnitStatus
	if rep.Status != nil {
		status = model.UnitStatus(*rep.Status)
		if !status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrBadReport, *rep.Status)
		}
	}
	now := h.now()
	if rep.Time != nil {
		now = *rep.Time
	}
	h.log.Debugw("report", map[string]any{"unit": unit, "time": now})

	if rep.Lat != nil {
		rec := model.UnitLocation{Unit: unit, Time: now, Lat: *rep.Lat, Lon: *rep.Lon}
		if rep.Heading != nil {
			rec.Heading = *rep.Heading
		}
		if rep.Speed != nil {
			rec.Speed = *rep.Speed
		}
		if err := h.store.InsertLocation(ctx, rec); err != nil {
			return fmt.Errorf("persist location: %w", err)
		}
		h.cache.UpsertLocation(rec)
		h.sink.RecordReport(metrics.ReportLocation)
		h.writeTelemetry(ctx, func(ctx context.Context) error { return h.tel.WriteLocation(ctx, rec) })
	}
	if rep.Battery != nil {
		rec := model.UnitBattery{Unit: unit, Time: now, Level: *rep.Battery}
		if err := h.store.InsertBattery(ctx, rec); err != nil {
			return fmt.Errorf("persist battery: %w", err)
		}
		h.cache.UpsertBattery(rec)
		h.sink.RecordReport(metrics.ReportBattery)
		h.writeTelemetry(ctx, func(ctx context.Context) error { return h.tel.WriteBattery(ctx, rec) })
	}
	if rep.Status != nil {
		rec := model.UnitStatusRecord{Unit: unit, Time: now, Status: status}
		if err := h.store.InsertStatus(ctx, rec); err != nil {
			return fmt.Errorf("persist status: %w", err)
		}
		h.cache.UpsertStatus(rec)
		h.sink.RecordReport(metrics.ReportStatus)
		h.writeTelemetry(ctx, func(ctx context.Context) error { return h.tel.WriteStatus(ctx, rec) })
	}
	return nil
}

// Startup registers the unit's boot handshake and its take nonce.
func (h *Handler) Startup(ctx context.Context, unit, nonce string) error {
	if unit == "" {
		return fmt.Errorf("%w: missing unit identity", ErrBadReport)
	}
	if nonce == "" {
		return fmt.Errorf("%w: missing nonce", ErrBadReport)
	}
	rec := model.StartupRecord{Unit: unit, Time: h.now(), Nonce: nonce}
	h.log.Debugw("startup", map[string]any{"unit": unit})
	if err := h.store.InsertStartup(ctx, rec); err != nil {
		return fmt.Errorf("persist startup: %w", err)
	}
	h.sink.RecordReport(metrics.ReportStartup)
	return nil
}

// writeTelemetry is best-effort; a down telemetry sink must not fail the
// report.
func (h *Handler) writeTelemetry(ctx context.Context, write func(context.Context) error) {
	if err := write(ctx); err != nil {
		h.log.Warnf("telemetry write failed: %v", err)
	}
}
