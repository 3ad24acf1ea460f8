// Package notification fans state changes out to live subscribers and to
// browser push endpoints.
package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"aeropark-backend/internal/clock"
)

// Subscriber is one live connection on the streaming channel.
type Subscriber interface {
	ID() string
	// Send delivers one serialized frame. It must not block indefinitely.
	Send(frame []byte) error
	Close() error
}

// StateFunc produces the full parking snapshot for demande_etat.
type StateFunc func(ctx context.Context) (any, error)

// Hub keeps the set of live subscribers. Broadcast iterates a snapshot, so
// subscribers may come and go while a broadcast is in flight.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]Subscriber
	observers []func(Message)
	state     StateFunc

	clock  clock.Clock
	logger *slog.Logger
}

func NewHub(clk clock.Clock, logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]Subscriber),
		clock:  clk,
		logger: logger,
	}
}

// SetStateProvider installs the snapshot source used for demande_etat.
func (h *Hub) SetStateProvider(fn StateFunc) {
	h.mu.Lock()
	h.state = fn
	h.mu.Unlock()
}

// Observe registers fn to be called with every broadcast message.
func (h *Hub) Observe(fn func(Message)) {
	h.mu.Lock()
	h.observers = append(h.observers, fn)
	h.mu.Unlock()
}

func (h *Hub) newMessage(t MessageType, data any) Message {
	return Message{Type: t, Data: data, Timestamp: h.clock.Now()}
}

// Subscribe registers sub and sends it the connection acknowledgement.
func (h *Hub) Subscribe(sub Subscriber) error {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("subscriber connected", "subscriber_id", sub.ID(), "subscribers", n)
	return h.SendTo(sub, h.newMessage(TypeConnected, TextPayload{Message: "Connecte au systeme AeroPark"}))
}

// Unsubscribe removes sub. It reports whether sub was registered.
func (h *Hub) Unsubscribe(sub Subscriber) bool {
	h.mu.Lock()
	cur, ok := h.subs[sub.ID()]
	ok = ok && cur == sub
	if ok {
		delete(h.subs, sub.ID())
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.logger.Info("subscriber disconnected", "subscriber_id", sub.ID(), "subscribers", n)
	}
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast sends msg to every subscriber and returns how many accepted it.
// A subscriber whose send fails is removed and closed.
func (h *Hub) Broadcast(msg Message) int {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return 0
	}

	h.mu.RLock()
	snapshot := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	observers := slices.Clone(h.observers)
	h.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		if err := s.Send(frame); err != nil {
			h.drop(s, err)
			continue
		}
		delivered++
	}

	for _, fn := range observers {
		fn(msg)
	}
	return delivered
}

// SendTo delivers msg to a single subscriber with the same failure handling
// as Broadcast.
func (h *Hub) SendTo(sub Subscriber, msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := sub.Send(frame); err != nil {
		h.drop(sub, err)
		return err
	}
	return nil
}

func (h *Hub) drop(sub Subscriber, cause error) {
	h.logger.Warn("dropping subscriber after failed send", "subscriber_id", sub.ID(), "error", cause)
	if h.Unsubscribe(sub) {
		if err := sub.Close(); err != nil {
			h.logger.Debug("close dropped subscriber", "subscriber_id", sub.ID(), "error", err)
		}
	}
}

// HandleInbound answers one frame received from sub.
func (h *Hub) HandleInbound(ctx context.Context, sub Subscriber, frame []byte) {
	var in struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(frame, &in); err != nil {
		_ = h.SendTo(sub, h.newMessage(TypeError, TextPayload{Message: "Format JSON invalide"}))
		return
	}

	switch in.Type {
	case TypePing:
		_ = h.SendTo(sub, h.newMessage(TypePong, struct{}{}))
	case TypeStateRequest:
		h.mu.RLock()
		stateFn := h.state
		h.mu.RUnlock()
		if stateFn == nil {
			_ = h.SendTo(sub, h.newMessage(TypeError, TextPayload{Message: "Etat indisponible"}))
			return
		}
		state, err := stateFn(ctx)
		if err != nil {
			h.logger.Error("build parking state", "subscriber_id", sub.ID(), "error", err)
			_ = h.SendTo(sub, h.newMessage(TypeError, TextPayload{Message: "Etat indisponible"}))
			return
		}
		_ = h.SendTo(sub, h.newMessage(TypeParkingState, state))
	default:
		_ = h.SendTo(sub, h.newMessage(TypeError, TextPayload{Message: "Type de message inconnu"}))
	}
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}
