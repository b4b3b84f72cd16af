// Package rental implements the take/return state machine for units.
package rental

import (
	"context"
	"errors"
	"time"

	"github.com/wodeewa/fleetd/core/logger"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/store"
	"github.com/wodeewa/fleetd/core/unitcache"
)

var (
	// ErrNotOnline means the unit has no startup handshake on record, so
	// there is no nonce to validate a take against.
	ErrNotOnline = errors.New("unit is not online")
	// ErrBadNonce means the presented nonce does not match the unit's
	// latest startup handshake. The caller is acting on a stale view.
	ErrBadNonce = errors.New("incorrect or outdated unit nonce")
)

// Coordinator moves units between available and in_use. The persistent store
// performs the precondition check and the transition as one conditional
// write, so two racing takes cannot both succeed; the cache and the event
// stream are updated only after the store write lands.
type Coordinator struct {
	store store.Store
	cache *unitcache.Cache
	log   logger.Logger
	now   func() int64
}

// New creates a Coordinator.
func New(st store.Store, cache *unitcache.Cache, log logger.Logger) *Coordinator {
	return &Coordinator{
		store: st,
		cache: cache,
		log:   log,
		now:   func() int64 { return time.Now().Unix() },
	}
}

// Take assigns the unit to principal. The nonce must match what the unit
// asserted at its last startup: this proves the take addresses the
// currently-running instance, not a stale database row. Fails with
// store.ErrNotAvailable, ErrNotOnline or ErrBadNonce without mutating
// anything or emitting an event.
func (c *Coordinator) Take(ctx context.Context, unit, principal, nonce string) error {
	// Cheap precondition against the cache. The store write below is the
	// authoritative check, so a missing cache entry falls through.
	if state, ok := c.cache.State(unit); ok && state.CurrentStatus() != model.StatusAvailable {
		return store.ErrNotAvailable
	}

	su, err := c.store.LatestStartup(ctx, unit)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotOnline
	}
	if err != nil {
		return err
	}
	if su.Nonce != nonce {
		return ErrBadNonce
	}

	now := c.now()
	if err := c.store.Take(ctx, unit, principal, now); err != nil {
		return err
	}
	c.log.Infof("unit taken; unit='%s', user='%s'", unit, principal)
	c.cache.UpsertStatus(model.UnitStatusRecord{
		Unit:   unit,
		Time:   now,
		Status: model.StatusInUse,
		User:   principal,
	})
	return nil
}

// Return releases the unit. Only the principal currently holding it may
// return it; anyone else gets store.ErrNotOwner and nothing changes.
func (c *Coordinator) Return(ctx context.Context, unit, principal string) error {
	now := c.now()
	if err := c.store.Return(ctx, unit, principal, now); err != nil {
		return err
	}
	c.log.Infof("unit returned; unit='%s', user='%s'", unit, principal)
	// TODO: drop to charging instead of available when the last battery
	// reading is below the charging threshold.
	c.cache.UpsertStatus(model.UnitStatusRecord{
		Unit:   unit,
		Time:   now,
		Status: model.StatusAvailable,
	})
	return nil
}
