package rental

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/store"
	"github.com/wodeewa/fleetd/core/unitcache"
	"github.com/wodeewa/fleetd/infra/logger"
	infrastore "github.com/wodeewa/fleetd/infra/store"
)

const nonce = "d2f1a0"

func fixture(t *testing.T) (*Coordinator, *infrastore.MemoryStore, *unitcache.Cache) {
	t.Helper()
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	require.NoError(t, st.InsertStartup(ctx, model.StartupRecord{Unit: "sc-1", Time: 1, Nonce: nonce}))
	require.NoError(t, st.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 2, Status: model.StatusAvailable}))

	cache := unitcache.New(nil)
	require.NoError(t, cache.Seed(ctx, st))

	return New(st, cache, logger.NopLogger{}), st, cache
}

func TestTakeHappyPath(t *testing.T) {
	ctx := context.Background()
	c, st, cache := fixture(t)

	require.NoError(t, c.Take(ctx, "sc-1", "alice@example.com", nonce))

	state, ok := cache.State("sc-1")
	require.True(t, ok)
	assert.Equal(t, model.StatusInUse, state.CurrentStatus())
	assert.Equal(t, "alice@example.com", state.AssignedUser())

	stored, err := st.LastStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.StatusInUse, stored[0].Status)
	assert.Equal(t, "alice@example.com", stored[0].User)
}

func TestTakeBadNonce(t *testing.T) {
	ctx := context.Background()
	c, _, cache := fixture(t)

	err := c.Take(ctx, "sc-1", "alice@example.com", "stale")
	assert.ErrorIs(t, err, ErrBadNonce)

	state, _ := cache.State("sc-1")
	assert.Equal(t, model.StatusAvailable, state.CurrentStatus())
}

func TestTakeUnitNeverBooted(t *testing.T) {
	ctx := context.Background()
	c, st, _ := fixture(t)
	require.NoError(t, st.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-2", Time: 1, Status: model.StatusAvailable}))

	err := c.Take(ctx, "sc-2", "alice@example.com", nonce)
	assert.ErrorIs(t, err, ErrNotOnline)
}

func TestTakeNotAvailable(t *testing.T) {
	ctx := context.Background()
	c, _, _ := fixture(t)

	require.NoError(t, c.Take(ctx, "sc-1", "alice@example.com", nonce))
	err := c.Take(ctx, "sc-1", "bob@example.com", nonce)
	assert.ErrorIs(t, err, store.ErrNotAvailable)
}

func TestTakeRace(t *testing.T) {
	ctx := context.Background()
	st := infrastore.NewMemoryStore()
	require.NoError(t, st.InsertStartup(ctx, model.StartupRecord{Unit: "sc-1", Time: 1, Nonce: nonce}))
	require.NoError(t, st.InsertStatus(ctx, model.UnitStatusRecord{Unit: "sc-1", Time: 2, Status: model.StatusAvailable}))
	// empty cache: both racers pass the advisory precondition and the
	// store's conditional write decides
	c := New(st, unitcache.New(nil), logger.NopLogger{})

	users := []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			errs[i] = c.Take(ctx, "sc-1", u, nonce)
		}(i, u)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, store.ErrNotAvailable)
		}
	}
	assert.Equal(t, 1, won)
}

func TestReturnHappyPath(t *testing.T) {
	ctx := context.Background()
	c, _, cache := fixture(t)
	require.NoError(t, c.Take(ctx, "sc-1", "alice@example.com", nonce))

	require.NoError(t, c.Return(ctx, "sc-1", "alice@example.com"))

	state, _ := cache.State("sc-1")
	assert.Equal(t, model.StatusAvailable, state.CurrentStatus())
	assert.Empty(t, state.AssignedUser())
}

func TestReturnByNonOwner(t *testing.T) {
	ctx := context.Background()
	c, _, cache := fixture(t)
	require.NoError(t, c.Take(ctx, "sc-1", "alice@example.com", nonce))

	err := c.Return(ctx, "sc-1", "bob@example.com")
	assert.ErrorIs(t, err, store.ErrNotOwner)

	state, _ := cache.State("sc-1")
	assert.Equal(t, model.StatusInUse, state.CurrentStatus())
	assert.Equal(t, "alice@example.com", state.AssignedUser())
}

func TestReturnNotInUse(t *testing.T) {
	ctx := context.Background()
	c, _, _ := fixture(t)

	err := c.Return(ctx, "sc-1", "alice@example.com")
	assert.ErrorIs(t, err, store.ErrNotOwner)
}
