package unitcache

import (
	"sort"
	"sync"
	"time"

	"github.com/wodeewa/fleetd/core/model"
)

// Publisher is where the cache hands off coalesced change events. Satisfied
// by *eventbus.Bus.
type Publisher interface {
	Publish(model.Event)
}

// defaultCoalesceDelay is how long the cache waits after a change before
// emitting, so that location, battery and status arriving in the same report
// burst produce a single event.
const defaultCoalesceDelay = 10 * time.Millisecond

// Cache holds the authoritative last-known composite state per unit. It is
// the only writer of that state; everything else observes it through upsert
// return values, snapshots, or events. Entries are created lazily on first
// report and never evicted.
type Cache struct {
	mu    sync.Mutex
	units map[string]*entry

	pub   Publisher
	delay time.Duration
}

// entry serializes mutations for one unit. Reports for different units take
// different entry locks and proceed in parallel.
type entry struct {
	mu      sync.Mutex
	state   model.UnitState
	pending bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithCoalesceDelay overrides the debounce window. Zero still defers the
// emit off the caller's stack.
func WithCoalesceDelay(d time.Duration) Option {
	return func(c *Cache) { c.delay = d }
}

// New creates a Cache publishing change events to pub. A nil pub disables
// event emission.
func New(pub Publisher, opts ...Option) *Cache {
	c := &Cache{
		units: make(map[string]*entry),
		pub:   pub,
		delay: defaultCoalesceDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) entryFor(unit string) *entry {
	c.mu.Lock()
	e, ok := c.units[unit]
	if !ok {
		e = &entry{state: model.UnitState{Unit: unit}}
		c.units[unit] = e
	}
	c.mu.Unlock()
	return e
}

// UpsertLocation records a GPS fix. Returns true when the fix was applied:
// strictly newer than the stored one, or same-second but different. Identical
// repeats and stale fixes are absorbed silently; units report on a fixed
// interval whether or not anything moved.
func (c *Cache) UpsertLocation(rec model.UnitLocation) bool {
	return c.upsertLocation(rec, true)
}

func (c *Cache) upsertLocation(rec model.UnitLocation, emit bool) bool {
	e := c.entryFor(rec.Unit)
	e.mu.Lock()
	cur := e.state.Location
	if cur != nil && (rec.Time < cur.Time || rec == *cur) {
		e.mu.Unlock()
		return false
	}
	e.state.Location = &rec
	c.markChanged(e, emit)
	e.mu.Unlock()
	return true
}

// UpsertBattery records a charge reading, same freshness rules as
// UpsertLocation.
func (c *Cache) UpsertBattery(rec model.UnitBattery) bool {
	return c.upsertBattery(rec, true)
}

func (c *Cache) upsertBattery(rec model.UnitBattery, emit bool) bool {
	e := c.entryFor(rec.Unit)
	e.mu.Lock()
	cur := e.state.Battery
	if cur != nil && (rec.Time < cur.Time || rec == *cur) {
		e.mu.Unlock()
		return false
	}
	e.state.Battery = &rec
	c.markChanged(e, emit)
	e.mu.Unlock()
	return true
}

// UpsertStatus records a status transition. The assigned user is kept only
// while the status is in_use.
func (c *Cache) UpsertStatus(rec model.UnitStatusRecord) bool {
	return c.upsertStatus(rec, true)
}

func (c *Cache) upsertStatus(rec model.UnitStatusRecord, emit bool) bool {
	if rec.Status != model.StatusInUse {
		rec.User = ""
	}
	e := c.entryFor(rec.Unit)
	e.mu.Lock()
	cur := e.state.Status
	if cur != nil && (rec.Time < cur.Time || rec == *cur) {
		e.mu.Unlock()
		return false
	}
	e.state.Status = &rec
	c.markChanged(e, emit)
	e.mu.Unlock()
	return true
}

// markChanged arms the coalescing timer for the entry. Called with e.mu
// held. Successive changes while the timer is armed fold into the one
// pending emit, which snapshots the latest state when it fires.
func (c *Cache) markChanged(e *entry, emit bool) {
	if !emit || c.pub == nil || e.pending {
		return
	}
	e.pending = true
	time.AfterFunc(c.delay, func() { c.flush(e) })
}

func (c *Cache) flush(e *entry) {
	e.mu.Lock()
	if !e.pending {
		e.mu.Unlock()
		return
	}
	e.pending = false
	snap := e.state.Clone()
	e.mu.Unlock()
	c.pub.Publish(model.Event{Kind: model.EventUnitChanged, Unit: &snap})
}

// State returns a snapshot of one unit's composite state.
func (c *Cache) State(unit string) (model.UnitState, bool) {
	c.mu.Lock()
	e, ok := c.units[unit]
	c.mu.Unlock()
	if !ok {
		return model.UnitState{}, false
	}
	e.mu.Lock()
	snap := e.state.Clone()
	e.mu.Unlock()
	return snap, true
}

// States returns a snapshot of every unit, ordered by unit id.
func (c *Cache) States() []model.UnitState {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.units))
	for _, e := range c.units {
		entries = append(entries, e)
	}
	c.mu.Unlock()
	out := make([]model.UnitState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}
