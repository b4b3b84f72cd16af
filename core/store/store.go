package store

import (
	"context"
	"errors"

	"github.com/wodeewa/fleetd/core/model"
)

// Sentinel errors surfaced to the HTTP layer as 4xx conflict responses.
var (
	// ErrNotAvailable means a take targeted a unit that is not currently
	// available.
	ErrNotAvailable = errors.New("unit not available")
	// ErrNotOwner means a return was attempted by a principal that does not
	// hold the unit.
	ErrNotOwner = errors.New("unit not held by principal")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Query narrows history reads. A zero Query selects the last record per
// unit across the whole fleet.
type Query struct {
	// Unit restricts the query to one unit and switches the result to a
	// time-ordered series instead of a per-unit reduction.
	Unit string
	// From and Until bound the record time (unix seconds, exclusive).
	From  int64
	Until int64
	// Statuses filters status records by value. Ignored for location and
	// battery queries.
	Statuses []model.UnitStatus
	// Limit caps the number of returned records. Implementations apply
	// their own ceiling when zero.
	Limit int
}

// Store is the persistent document store behind the cache and the rental
// coordinator. All methods may block on I/O and honor ctx cancellation.
type Store interface {
	// Insert* append a record to the corresponding series.
	InsertLocation(ctx context.Context, rec model.UnitLocation) error
	InsertBattery(ctx context.Context, rec model.UnitBattery) error
	InsertStatus(ctx context.Context, rec model.UnitStatusRecord) error
	InsertStartup(ctx context.Context, rec model.StartupRecord) error

	// Last* return the most recent record per unit, used to seed the cache
	// after a restart.
	LastLocations(ctx context.Context) ([]model.UnitLocation, error)
	LastBatteries(ctx context.Context) ([]model.UnitBattery, error)
	LastStatuses(ctx context.Context) ([]model.UnitStatusRecord, error)

	// LatestStartup returns the unit's most recent startup handshake, or
	// ErrNotFound if the unit has never started up.
	LatestStartup(ctx context.Context, unit string) (model.StartupRecord, error)

	// Take transitions the unit from available to in_use held by user, as a
	// single conditional write. Returns ErrNotAvailable when the unit is in
	// any other state, in which case nothing is modified.
	Take(ctx context.Context, unit, user string, now int64) error
	// Return transitions the unit from in_use back to available, only when
	// user currently holds it. Returns ErrNotOwner otherwise.
	Return(ctx context.Context, unit, user string, now int64) error

	// History reads for the admin API.
	LocationHistory(ctx context.Context, q Query) ([]model.UnitLocation, error)
	BatteryHistory(ctx context.Context, q Query) ([]model.UnitBattery, error)
	StatusHistory(ctx context.Context, q Query) ([]model.UnitStatusRecord, error)

	// Close flushes and releases the underlying session.
	Close(ctx context.Context) error
}
