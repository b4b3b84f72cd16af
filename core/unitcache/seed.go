package unitcache

import (
	"context"
	"fmt"

	"github.com/wodeewa/fleetd/core/model"
)

// SeedSource is the slice of the store the cache needs at startup.
// Satisfied by store.Store.
type SeedSource interface {
	LastLocations(ctx context.Context) ([]model.UnitLocation, error)
	LastBatteries(ctx context.Context) ([]model.UnitBattery, error)
	LastStatuses(ctx context.Context) ([]model.UnitStatusRecord, error)
}

// Seed loads the most recent record of each kind per unit from the store so
// the cache reflects reality across restarts without waiting for the next
// report cycle. Seeding goes through the regular upserts (newer-wins), so
// duplicate or out-of-order seed rows are harmless, but no events are
// emitted. A failed query aborts the seed; whatever was applied before the
// failure stays.
func (c *Cache) Seed(ctx context.Context, src SeedSource) error {
	locs, err := src.LastLocations(ctx)
	if err != nil {
		return fmt.Errorf("seed locations: %w", err)
	}
	for _, rec := range locs {
		c.upsertLocation(rec, false)
	}
	bats, err := src.LastBatteries(ctx)
	if err != nil {
		return fmt.Errorf("seed batteries: %w", err)
	}
	for _, rec := range bats {
		c.upsertBattery(rec, false)
	}
	stats, err := src.LastStatuses(ctx)
	if err != nil {
		return fmt.Errorf("seed statuses: %w", err)
	}
	for _, rec := range stats {
		c.upsertStatus(rec, false)
	}
	return nil
}
