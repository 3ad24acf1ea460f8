package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/model"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeSubscriber records frames and can be told to fail.
type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// decoded returns the recorded frames as generic maps.
func (f *fakeSubscriber) decoded(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

func newTestHub() *Hub {
	return NewHub(clock.NewMockClock(testNow), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_SubscribeSendsAcknowledgement(t *testing.T) {
	h := newTestHub()
	sub := &fakeSubscriber{id: "s1"}

	require.NoError(t, h.Subscribe(sub))
	assert.Equal(t, 1, h.Count())

	frames := sub.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "connexion_etablie", frames[0]["type"])
	assert.Equal(t, "Connecte au systeme AeroPark", frames[0]["donnees"].(map[string]any)["message"])
	assert.Equal(t, "2026-03-10T09:00:00Z", frames[0]["timestamp"])
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := newTestHub()
	sub := &fakeSubscriber{id: "s1"}
	require.NoError(t, h.Subscribe(sub))

	assert.True(t, h.Unsubscribe(sub))
	assert.False(t, h.Unsubscribe(sub))
	assert.Equal(t, 0, h.Count())
}

func TestHub_BroadcastSurvivesFailingSubscriber(t *testing.T) {
	h := newTestHub()
	good1 := &fakeSubscriber{id: "good1"}
	bad := &fakeSubscriber{id: "bad"}
	good2 := &fakeSubscriber{id: "good2"}
	for _, s := range []*fakeSubscriber{good1, bad, good2} {
		require.NoError(t, h.Subscribe(s))
	}
	bad.mu.Lock()
	bad.fail = true
	bad.mu.Unlock()

	delivered := h.Broadcast(h.newMessage(TypeSpaceUpdated, SpaceUpdate{SpaceID: "a1", Status: model.SpaceReserved, Reason: ReasonReservation}))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, h.Count())
	assert.True(t, bad.closed)
	for _, s := range []*fakeSubscriber{good1, good2} {
		frames := s.decoded(t)
		require.Len(t, frames, 2)
		assert.Equal(t, "mise_a_jour_place", frames[1]["type"])
		data := frames[1]["donnees"].(map[string]any)
		assert.Equal(t, "a1", data["place_id"])
		assert.Equal(t, "reserved", data["statut"])
	}

	// The removed subscriber no longer receives anything.
	h.SensorReported("a1", model.SensorOccupied)
	assert.Len(t, bad.decoded(t), 1)
}

func TestHub_SendToFailureUnsubscribes(t *testing.T) {
	h := newTestHub()
	sub := &fakeSubscriber{id: "s1"}
	require.NoError(t, h.Subscribe(sub))
	sub.fail = true

	err := h.SendTo(sub, h.newMessage(TypePong, struct{}{}))
	assert.Error(t, err)
	assert.Equal(t, 0, h.Count())
}

func TestHub_ObserversSeeBroadcasts(t *testing.T) {
	h := newTestHub()
	var seen []MessageType
	h.Observe(func(m Message) { seen = append(seen, m.Type) })

	h.ReservationExpired(&model.Reservation{ID: "r1", SpaceID: "a1", HolderID: "u1"})
	h.SpaceUpdated("a1", model.SpaceAvailable, ReasonExpiry)
	h.ReservationChanged("r2", "a2", "creation")

	assert.Equal(t, []MessageType{TypeExpired, TypeSpaceUpdated, TypeReservation}, seen)
}

func TestHub_HandleInbound(t *testing.T) {
	h := newTestHub()
	h.SetStateProvider(func(ctx context.Context) (any, error) {
		return map[string]int{"total_places": 5}, nil
	})

	testCases := []struct {
		name     string
		frame    string
		wantType string
	}{
		{name: "Ping", frame: `{"type":"ping"}`, wantType: "pong"},
		{name: "State request", frame: `{"type":"demande_etat"}`, wantType: "etat_parking"},
		{name: "Malformed JSON", frame: `{"type":`, wantType: "erreur"},
		{name: "Unknown type", frame: `{"type":"dance"}`, wantType: "erreur"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &fakeSubscriber{id: tc.name}
			require.NoError(t, h.Subscribe(sub))

			h.HandleInbound(context.Background(), sub, []byte(tc.frame))

			frames := sub.decoded(t)
			require.Len(t, frames, 2)
			assert.Equal(t, tc.wantType, frames[1]["type"])
			assert.Contains(t, frames[1], "donnees")
			assert.False(t, sub.closed)
		})
	}
}

func TestHub_StateRequestFailure(t *testing.T) {
	h := newTestHub()
	h.SetStateProvider(func(ctx context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	sub := &fakeSubscriber{id: "s1"}
	require.NoError(t, h.Subscribe(sub))

	h.HandleInbound(context.Background(), sub, []byte(`{"type":"demande_etat"}`))

	frames := sub.decoded(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "erreur", frames[1]["type"])
}

func TestHub_ConcurrentBroadcastAndMembership(t *testing.T) {
	h := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		sub := &fakeSubscriber{id: string(rune('a' + i))}
		go func() {
			defer wg.Done()
			_ = h.Subscribe(sub)
			h.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			h.SpaceUpdated("a1", model.SpaceOccupied, ReasonSensor)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Count())
}
