package test

import (
	"context"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wodeewa/fleetd/core/model"
	corestore "github.com/wodeewa/fleetd/core/store"
	"github.com/wodeewa/fleetd/infra/logger"
	infrastore "github.com/wodeewa/fleetd/infra/store"
	"github.com/wodeewa/fleetd/test/util"
)

func newMongoStore(t *testing.T) *infrastore.MongoStore {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx := context.Background()
	uri, cleanup, err := util.StartMongo(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	st, err := infrastore.NewMongoStore(ctx, infrastore.Config{URI: uri, Database: "fleetd_test"}, logger.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func TestMongoStoreRoundTrip(t *testing.T) {
	st := newMongoStore(t)
	ctx := context.Background()

	for _, rec := range []model.UnitLocation{
		{Unit: "sc-1", Time: 10, Lat: 48.85, Lon: 2.35},
		{Unit: "sc-1", Time: 20, Lat: 48.86, Lon: 2.36},
		{Unit: "sc-2", Time: 15, Lat: 45.76, Lon: 4.83},
	} {
		require.NoError(t, st.InsertLocation(ctx, rec))
	}
	require.NoError(t, st.InsertBattery(ctx, model.UnitBattery{Unit: "sc-1", Time: 20, Level: 81}))

	locs, err := st.LastLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	byUnit := map[string]model.UnitLocation{}
	for _, rec := range locs {
		byUnit[rec.Unit] = rec
	}
	assert.Equal(t, int64(20), byUnit["sc-1"].Time)
	assert.Equal(t, 48.86, byUnit["sc-1"].Lat)
	assert.Equal(t, int64(15), byUnit["sc-2"].Time)

	bats, err := st.LastBatteries(ctx)
	require.NoError(t, err)
	require.Len(t, bats, 1)
	assert.Equal(t, 81.0, bats[0].Level)
}

func TestMongoStatusCurrentDocAndLog(t *testing.T) {
	st := newMongoStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 20, Status: model.StatusAvailable}))
	// stale transition: logged, but the current doc must not regress
	require.NoError(t, st.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 10, Status: model.StatusOffline}))

	cur, err := st.LastStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, cur, 1)
	assert.Equal(t, model.StatusAvailable, cur[0].Status)

	hist, err := st.StatusHistory(ctx, corestore.Query{Unit: "sc-1"})
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestMongoTakeReturnContention(t *testing.T) {
	st := newMongoStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 1, Status: model.StatusAvailable}))

	users := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			errs[i] = st.Take(ctx, "sc-1", u, 10)
		}(i, u)
	}
	wg.Wait()

	won := 0
	var winner string
	for i, err := range errs {
		if err == nil {
			won++
			winner = users[i]
		} else {
			assert.ErrorIs(t, err, corestore.ErrNotAvailable)
		}
	}
	require.Equal(t, 1, won)

	assert.ErrorIs(t, st.Return(ctx, "sc-1", "nobody@example.com", 11), corestore.ErrNotOwner)
	require.NoError(t, st.Return(ctx, "sc-1", winner, 11))

	cur, err := st.LastStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, cur, 1)
	assert.Equal(t, model.StatusAvailable, cur[0].Status)
}

func TestMongoLatestStartup(t *testing.T) {
	st := newMongoStore(t)
	ctx := context.Background()

	_, err := st.LatestStartup(ctx, "sc-1")
	assert.ErrorIs(t, err, corestore.ErrNotFound)

	require.NoError(t, st.InsertStartup(ctx, model.StartupRecord{Unit: "sc-1", Time: 1, Nonce: "old"}))
	require.NoError(t, st.InsertStartup(ctx, model.StartupRecord{Unit: "sc-1", Time: 2, Nonce: "new"}))

	rec, err := st.LatestStartup(ctx, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Nonce)
}

func TestMongoHistoryWindowAndOrder(t *testing.T) {
	st := newMongoStore(t)
	ctx := context.Background()

	for ts := int64(1); ts <= 5; ts++ {
		require.NoError(t, st.InsertBattery(ctx, model.UnitBattery{Unit: "sc-1", Time: ts * 10, Level: float64(ts)}))
	}

	// bounded window with a lower bound comes back oldest-first
	out, err := st.BatteryHistory(ctx, corestore.Query{Unit: "sc-1", From: 10, Until: 50})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(20), out[0].Time)
	assert.Equal(t, int64(40), out[2].Time)

	// unbounded comes back newest-first, capped
	out, err = st.BatteryHistory(ctx, corestore.Query{Unit: "sc-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(50), out[0].Time)
}
