package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/store"
	"aeropark-backend/internal/store/storetest"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(testNow)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store.NewGormStore(storetest.NewSQLite(t)), clk, logger), clk
}

func testHold(resID string) *model.Hold {
	return &model.Hold{
		HolderID:      "user-1",
		ReservationID: resID,
		Start:         testNow,
		End:           testNow.Add(2 * time.Hour),
		DurationHours: 2,
	}
}

// assertLinkage checks that the hold fields are set together or cleared together.
func assertLinkage(t *testing.T, s *model.Space, wantHeld bool) {
	t.Helper()
	fields := []bool{s.ReservedBy != nil, s.ReservationID != nil, s.ReservationStart != nil, s.ReservationEnd != nil, s.DurationHours != nil}
	for _, set := range fields {
		assert.Equal(t, wantHeld, set, "space %s linkage %v", s.ID, fields)
	}
}

func TestRegistry_AddAndGet(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	space, err := reg.Add(ctx, "b7", "")
	require.NoError(t, err)
	assert.Equal(t, "b7", space.ID)
	assert.Equal(t, "B7", space.Number)
	assert.Equal(t, "esp8266_b7", space.SensorID)
	assert.Equal(t, model.SpaceAvailable, space.Status)

	_, err = reg.Add(ctx, "B7", "custom")
	assert.True(t, errs.Is(err, ErrSpaceExists))
	assert.False(t, errs.Is(err, ErrSpaceNotAvailable))
	assert.True(t, errs.Is(err, errs.ErrConflict))

	_, err = reg.Add(ctx, "7B", "")
	assert.True(t, errs.Is(err, errs.ErrInvalidInput))

	_, err = reg.Get(ctx, "zz9")
	assert.True(t, errs.Is(err, ErrSpaceNotFound))
	assert.False(t, errs.Is(err, store.ErrRecordNotFound))
}

func TestRegistry_RemoveOnlyAvailable(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	_, err := reg.Add(ctx, "A1", "")
	require.NoError(t, err)

	ok, err := reg.Reserve(ctx, "a1", *testHold("r1"))
	require.NoError(t, err)
	require.True(t, ok)

	err = reg.Remove(ctx, "a1")
	assert.True(t, errs.Is(err, ErrSpaceNotAvailable))
	assert.True(t, errs.Is(err, errs.ErrConflict))

	released, err := reg.Release(ctx, "a1", "r1")
	require.NoError(t, err)
	require.True(t, released)

	require.NoError(t, reg.Remove(ctx, "a1"))
	assert.True(t, errs.Is(reg.Remove(ctx, "a1"), ErrSpaceNotFound))
}

func TestRegistry_TransitionLinkageIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	_, err := reg.Add(ctx, "A1", "")
	require.NoError(t, err)

	space, err := reg.Transition(ctx, "a1", model.SpaceReserved, testHold("r1"))
	require.NoError(t, err)
	assertLinkage(t, space, true)

	// An occupied space keeps the hold of the vehicle that arrived.
	space, err = reg.Transition(ctx, "a1", model.SpaceOccupied, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SpaceOccupied, space.Status)
	assertLinkage(t, space, true)

	space, err = reg.Transition(ctx, "a1", model.SpaceAvailable, nil)
	require.NoError(t, err)
	assertLinkage(t, space, false)

	_, err = reg.Transition(ctx, "a1", model.SpaceReserved, nil)
	assert.True(t, errs.Is(err, ErrInvalidTransition))
	_, err = reg.Transition(ctx, "a1", model.SpaceAvailable, testHold("r2"))
	assert.True(t, errs.Is(err, ErrInvalidTransition))
	_, err = reg.Transition(ctx, "a1", "parked", nil)
	assert.True(t, errs.Is(err, ErrInvalidTransition))
	_, err = reg.Transition(ctx, "nope1", model.SpaceOccupied, nil)
	assert.True(t, errs.Is(err, ErrSpaceNotFound))

	space, err = reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.SpaceAvailable, space.Status)
}

func TestRegistry_ReserveIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	_, err := reg.Add(ctx, "A1", "")
	require.NoError(t, err)

	ok, err := reg.Reserve(ctx, "a1", *testHold("r1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Reserve(ctx, "a1", *testHold("r2"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.Reserve(ctx, "missing1", *testHold("r3"))
	assert.True(t, errs.Is(err, ErrSpaceNotFound))

	space, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, space.ReservationID)
	assert.Equal(t, "r1", *space.ReservationID)
}

func TestRegistry_ReleaseGuardedByReservation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	_, err := reg.Add(ctx, "A1", "")
	require.NoError(t, err)
	_, err = reg.Reserve(ctx, "a1", *testHold("r2"))
	require.NoError(t, err)

	released, err := reg.Release(ctx, "a1", "r1")
	require.NoError(t, err)
	assert.False(t, released)

	space, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.SpaceReserved, space.Status)
	assertLinkage(t, space, true)
}

func TestRegistry_SeedDefaultsOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	n, err := reg.SeedDefaults(ctx, DefaultSpaces)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = reg.SeedDefaults(ctx, DefaultSpaces)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	spaces, err := reg.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(spaces))
	for _, s := range spaces {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, ids)
}

func TestRegistry_State(t *testing.T) {
	ctx := context.Background()
	reg, clk := newTestRegistry(t)
	_, err := reg.SeedDefaults(ctx, []string{"A1", "A2", "A3"})
	require.NoError(t, err)
	_, err = reg.Reserve(ctx, "a1", *testHold("r1"))
	require.NoError(t, err)
	_, err = reg.Transition(ctx, "a3", model.SpaceOccupied, nil)
	require.NoError(t, err)

	clk.Add(30 * time.Minute)
	state, err := reg.State(ctx)
	require.NoError(t, err)

	holder := "user-1"
	remaining := int64(90 * 60)
	want := &ParkingState{
		Total:     3,
		Available: 1,
		Reserved:  1,
		Occupied:  1,
		Spaces: []SpaceView{
			{ID: "a1", Number: "A1", Status: model.SpaceReserved, ReservedBy: &holder, Remaining: &remaining},
			{ID: "a2", Number: "A2", Status: model.SpaceAvailable, CanReserve: true},
			{ID: "a3", Number: "A3", Status: model.SpaceOccupied},
		},
	}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Errorf("State() mismatch (-want +got):\n%s", diff)
	}

	clk.Add(5 * time.Hour)
	state, err = reg.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.Spaces[0].Remaining)
	assert.Equal(t, int64(0), *state.Spaces[0].Remaining)
}
