package store

import (
	"context"
	"sort"
	"sync"

	"github.com/wodeewa/fleetd/core/model"
	corestore "github.com/wodeewa/fleetd/core/store"
)

// MemoryStore is an in-memory core/store.Store for tests and local
// development. Conditional take/return semantics match MongoStore.
type MemoryStore struct {
	mu        sync.Mutex
	locations []model.UnitLocation
	batteries []model.UnitBattery
	statuses  map[string]model.UnitStatusRecord
	statusLog []model.UnitStatusRecord
	startups  []model.StartupRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string]model.UnitStatusRecord)}
}

func (s *MemoryStore) InsertLocation(_ context.Context, rec model.UnitLocation) error {
	s.mu.Lock()
	s.locations = append(s.locations, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InsertBattery(_ context.Context, rec model.UnitBattery) error {
	s.mu.Lock()
	s.batteries = append(s.batteries, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InsertStatus(_ context.Context, rec model.UnitStatusRecord) error {
	s.mu.Lock()
	s.statusLog = append(s.statusLog, rec)
	if cur, ok := s.statuses[rec.Unit]; !ok || rec.Time > cur.Time {
		s.statuses[rec.Unit] = rec
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InsertStartup(_ context.Context, rec model.StartupRecord) error {
	s.mu.Lock()
	s.startups = append(s.startups, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LastLocations(context.Context) ([]model.UnitLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := make(map[string]model.UnitLocation)
	for _, rec := range s.locations {
		if cur, ok := last[rec.Unit]; !ok || rec.Time > cur.Time {
			last[rec.Unit] = rec
		}
	}
	out := make([]model.UnitLocation, 0, len(last))
	for _, rec := range last {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}

func (s *MemoryStore) LastBatteries(context.Context) ([]model.UnitBattery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := make(map[string]model.UnitBattery)
	for _, rec := range s.batteries {
		if cur, ok := last[rec.Unit]; !ok || rec.Time > cur.Time {
			last[rec.Unit] = rec
		}
	}
	out := make([]model.UnitBattery, 0, len(last))
	for _, rec := range last {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}

func (s *MemoryStore) LastStatuses(context.Context) ([]model.UnitStatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.UnitStatusRecord, 0, len(s.statuses))
	for _, rec := range s.statuses {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}

func (s *MemoryStore) LatestStartup(_ context.Context, unit string) (model.StartupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best model.StartupRecord
	found := false
	for _, rec := range s.startups {
		if rec.Unit == unit && (!found || rec.Time >= best.Time) {
			best = rec
			found = true
		}
	}
	if !found {
		return model.StartupRecord{}, corestore.ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) Take(_ context.Context, unit, user string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.statuses[unit]
	if !ok || cur.Status != model.StatusAvailable {
		return corestore.ErrNotAvailable
	}
	rec := model.UnitStatusRecord{Unit: unit, Time: now, Status: model.StatusInUse, User: user}
	s.statuses[unit] = rec
	s.statusLog = append(s.statusLog, rec)
	return nil
}

func (s *MemoryStore) Return(_ context.Context, unit, user string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.statuses[unit]
	if !ok || cur.Status != model.StatusInUse || cur.User != user {
		return corestore.ErrNotOwner
	}
	rec := model.UnitStatusRecord{Unit: unit, Time: now, Status: model.StatusAvailable}
	s.statuses[unit] = rec
	s.statusLog = append(s.statusLog, rec)
	return nil
}

// sortAndCap orders newest-first, or oldest-first when a lower time bound is
// set, then applies the result cap. Mirrors historyPipeline.
func sortAndCap[T any](out []T, timeOf func(T) int64, q corestore.Query) []T {
	sort.Slice(out, func(i, j int) bool {
		if q.From != 0 {
			return timeOf(out[i]) < timeOf(out[j])
		}
		return timeOf(out[i]) > timeOf(out[j])
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchQuery(unit string, t int64, q corestore.Query) bool {
	if q.Unit != "" && unit != q.Unit {
		return false
	}
	if q.Until != 0 && t >= q.Until {
		return false
	}
	if q.From != 0 && t <= q.From {
		return false
	}
	return true
}

func (s *MemoryStore) LocationHistory(_ context.Context, q corestore.Query) ([]model.UnitLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UnitLocation
	for _, rec := range s.locations {
		if matchQuery(rec.Unit, rec.Time, q) {
			out = append(out, rec)
		}
	}
	return sortAndCap(out, func(r model.UnitLocation) int64 { return r.Time }, q), nil
}

func (s *MemoryStore) BatteryHistory(_ context.Context, q corestore.Query) ([]model.UnitBattery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UnitBattery
	for _, rec := range s.batteries {
		if matchQuery(rec.Unit, rec.Time, q) {
			out = append(out, rec)
		}
	}
	return sortAndCap(out, func(r model.UnitBattery) int64 { return r.Time }, q), nil
}

func (s *MemoryStore) StatusHistory(_ context.Context, q corestore.Query) ([]model.UnitStatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UnitStatusRecord
	for _, rec := range s.statusLog {
		if !matchQuery(rec.Unit, rec.Time, q) {
			continue
		}
		if len(q.Statuses) > 0 {
			hit := false
			for _, st := range q.Statuses {
				if rec.Status == st {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		out = append(out, rec)
	}
	return sortAndCap(out, func(r model.UnitStatusRecord) int64 { return r.Time }, q), nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
