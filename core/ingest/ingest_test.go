package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wodeewa/fleetd/core/metrics"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/unitcache"
	"github.com/wodeewa/fleetd/infra/logger"
	infrastore "github.com/wodeewa/fleetd/infra/store"
)

func ptr[T any](v T) *T { return &v }

type countSink struct {
	metrics.NopSink
	reports map[string]int
}

func (s *countSink) RecordReport(kind string) {
	if s.reports == nil {
		s.reports = make(map[string]int)
	}
	s.reports[kind]++
}

func TestReportFullPayload(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	cache := unitcache.New(nil)
	sink := &countSink{}
	h := New(st, cache, sink, nil, logger.NopLogger{})

	err := h.Report(ctx, "sc-1", Report{
		Time:    ptr(int64(1000)),
		Lat:     ptr(48.85),
		Lon:     ptr(2.35),
		Heading: ptr(90.0),
		Speed:   ptr(12.5),
		Battery: ptr(87.0),
		Status:  ptr("available"),
	})
	require.NoError(t, err)

	state, ok := cache.State("sc-1")
	require.True(t, ok)
	require.NotNil(t, state.Location)
	assert.Equal(t, 48.85, state.Location.Lat)
	assert.Equal(t, 90.0, state.Location.Heading)
	assert.Equal(t, 12.5, state.Location.Speed)
	require.NotNil(t, state.Battery)
	assert.Equal(t, 87.0, state.Battery.Level)
	assert.Equal(t, model.StatusAvailable, state.CurrentStatus())

	locs, err := st.LastLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, int64(1000), locs[0].Time)

	assert.Equal(t, 1, sink.reports[metrics.ReportLocation])
	assert.Equal(t, 1, sink.reports[metrics.ReportBattery])
	assert.Equal(t, 1, sink.reports[metrics.ReportStatus])
}

func TestReportPartialPayload(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	cache := unitcache.New(nil)
	h := New(st, cache, nil, nil, logger.NopLogger{})

	require.NoError(t, h.Report(ctx, "sc-1", Report{Time: ptr(int64(10)), Battery: ptr(50.0)}))

	state, ok := cache.State("sc-1")
	require.True(t, ok)
	assert.Nil(t, state.Location)
	assert.Nil(t, state.Status)
	require.NotNil(t, state.Battery)

	locs, err := st.LastLocations(ctx)
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestReportServerTimeWhenUnstamped(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	cache := unitcache.New(nil)
	h := New(st, cache, nil, nil, logger.NopLogger{})
	h.now = func() int64 { return 4242 }

	require.NoError(t, h.Report(ctx, "sc-1", Report{Battery: ptr(50.0)}))

	state, _ := cache.State("sc-1")
	assert.Equal(t, int64(4242), state.Battery.Time)
}

func TestReportValidation(t *testing.T) {
	h := New(infrastore.NewMemoryStore(), unitcache.New(nil), nil, nil, logger.NopLogger{})

	cases := map[string]struct {
		unit string
		rep  Report
	}{
		"missing unit":    {"", Report{Battery: ptr(50.0)}},
		"lat without lon": {"sc-1", Report{Lat: ptr(1.0)}},
		"lon without lat": {"sc-1", Report{Lon: ptr(1.0)}},
		"unknown status":  {"sc-1", Report{Status: ptr("flying")}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := h.Report(context.Background(), tc.unit, tc.rep)
			assert.ErrorIs(t, err, ErrBadReport)
		})
	}
}

type failingStore struct {
	*infrastore.MemoryStore
}

func (failingStore) InsertBattery(context.Context, model.UnitBattery) error {
	return errors.New("connection reset")
}

func TestReportStoreFailureSkipsCache(t *testing.T) {
	cache := unitcache.New(nil)
	h := New(failingStore{infrastore.NewMemoryStore()}, cache, nil, nil, logger.NopLogger{})

	err := h.Report(context.Background(), "sc-1", Report{Battery: ptr(50.0)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadReport)

	_, ok := cache.State("sc-1")
	assert.False(t, ok)
}

func TestStartup(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	h := New(st, unitcache.New(nil), nil, nil, logger.NopLogger{})
	h.now = func() int64 { return 99 }

	require.NoError(t, h.Startup(ctx, "sc-1", "d2f1a0"))

	rec, err := st.LatestStartup(ctx, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, "d2f1a0", rec.Nonce)
	assert.Equal(t, int64(99), rec.Time)

	assert.ErrorIs(t, h.Startup(ctx, "", "x"), ErrBadReport)
	assert.ErrorIs(t, h.Startup(ctx, "sc-1", ""), ErrBadReport)
}
