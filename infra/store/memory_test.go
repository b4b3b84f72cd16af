package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wodeewa/fleetd/core/model"
	corestore "github.com/wodeewa/fleetd/core/store"
)

func TestMemoryLastPerUnit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, rec := range []model.UnitLocation{
		{Unit: "sc-2", Time: 10, Lat: 1},
		{Unit: "sc-1", Time: 10, Lat: 2},
		{Unit: "sc-1", Time: 30, Lat: 3},
		{Unit: "sc-1", Time: 20, Lat: 4},
	} {
		require.NoError(t, s.InsertLocation(ctx, rec))
	}

	out, err := s.LastLocations(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "sc-1", out[0].Unit)
	assert.Equal(t, int64(30), out[0].Time)
	assert.Equal(t, "sc-2", out[1].Unit)
}

func TestMemoryStatusCurrentDoc(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 20, Status: model.StatusAvailable}))
	// an older transition must not regress the current doc
	require.NoError(t, s.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 10, Status: model.StatusOffline}))

	out, err := s.LastStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.StatusAvailable, out[0].Status)

	// both transitions are in the history regardless
	hist, err := s.StatusHistory(ctx, corestore.Query{Unit: "sc-1"})
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestMemoryTakeReturnConditional(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// unknown unit cannot be taken
	assert.ErrorIs(t, s.Take(ctx, "sc-1", "alice@example.com", 10), corestore.ErrNotAvailable)

	require.NoError(t, s.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 1, Status: model.StatusAvailable}))
	require.NoError(t, s.Take(ctx, "sc-1", "alice@example.com", 10))
	assert.ErrorIs(t, s.Take(ctx, "sc-1", "bob@example.com", 11), corestore.ErrNotAvailable)

	assert.ErrorIs(t, s.Return(ctx, "sc-1", "bob@example.com", 12), corestore.ErrNotOwner)
	require.NoError(t, s.Return(ctx, "sc-1", "alice@example.com", 12))
	assert.ErrorIs(t, s.Return(ctx, "sc-1", "alice@example.com", 13), corestore.ErrNotOwner)

	out, err := s.LastStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.StatusAvailable, out[0].Status)
	assert.Empty(t, out[0].User)
}

func TestMemoryLatestStartup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.LatestStartup(ctx, "sc-1")
	assert.ErrorIs(t, err, corestore.ErrNotFound)

	require.NoError(t, s.InsertStartup(ctx, model.StartupRecord{Unit: "sc-1", Time: 1, Nonce: "old"}))
	require.NoError(t, s.InsertStartup(ctx, model.StartupRecord{Unit: "sc-1", Time: 2, Nonce: "new"}))
	require.NoError(t, s.InsertStartup(ctx, model.StartupRecord{Unit: "sc-2", Time: 9, Nonce: "other"}))

	rec, err := s.LatestStartup(ctx, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Nonce)
}

func TestMemoryHistoryWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for ts := int64(1); ts <= 5; ts++ {
		require.NoError(t, s.InsertBattery(ctx, model.UnitBattery{Unit: "sc-1", Time: ts * 10, Level: float64(ts)}))
	}

	// bounds are exclusive on both ends; a lower bound asks for oldest-first
	out, err := s.BatteryHistory(ctx, corestore.Query{Unit: "sc-1", From: 10, Until: 50})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(20), out[0].Time)
	assert.Equal(t, int64(40), out[2].Time)

	out, err = s.BatteryHistory(ctx, corestore.Query{Unit: "sc-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(50), out[0].Time)
}
