package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"aeropark-backend/internal/model"
	"aeropark-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// PushPayload is the JSON body delivered to the service worker.
type PushPayload struct {
	Title         string `json:"title"`
	Body          string `json:"body"`
	ReservationID string `json:"reservation_id"`
	SpaceID       string `json:"place_id"`
}

// PushPool sends browser push notifications to reservation holders from a
// fixed set of workers.
type PushPool struct {
	size    int
	jobs    chan Expiration
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	logger  *slog.Logger
}

func NewPushPool(size int, s store.Store, webpushOptions *webpush.Options, logger *slog.Logger) *PushPool {
	if size < 1 {
		size = 1
	}
	return &PushPool{
		size:    size,
		jobs:    make(chan Expiration, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger,
	}
}

// SetSender replaces the transport used to deliver notifications.
func (p *PushPool) SetSender(s NotificationSender) {
	p.sender = s
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (p *PushPool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, i)
	}
}

func (p *PushPool) worker(ctx context.Context, id int) {
	p.logger.Debug("push worker started", "worker", id)
	for {
		select {
		case job := <-p.jobs:
			p.notifyHolder(ctx, job)
		case <-ctx.Done():
			p.logger.Debug("push worker shutting down", "worker", id)
			return
		}
	}
}

// Dispatch queues a job without blocking. It reports false if the queue is full.
func (p *PushPool) Dispatch(job Expiration) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.logger.Warn("push queue full, dropping notification", "reservation_id", job.ReservationID)
		return false
	}
}

// Observe is a Hub observer that queues a push for every expiration.
func (p *PushPool) Observe(msg Message) {
	if msg.Type != TypeExpired {
		return
	}
	if exp, ok := msg.Data.(Expiration); ok && exp.HolderID != "" {
		p.Dispatch(exp)
	}
}

func (p *PushPool) notifyHolder(ctx context.Context, job Expiration) {
	subscriptions, err := p.store.ListPushSubscriptions(ctx, job.HolderID)
	if err != nil {
		p.logger.Error("fetch push subscriptions", "holder_id", job.HolderID, "error", err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(PushPayload{
		Title:         "Reservation expiree",
		Body:          "Votre reservation de la place " + job.SpaceID + " a expire.",
		ReservationID: job.ReservationID,
		SpaceID:       job.SpaceID,
	})
	if err != nil {
		p.logger.Error("marshal push payload", "error", err)
		return
	}

	p.logger.Info("sending push notifications", "holder_id", job.HolderID, "count", len(subscriptions))
	for _, sub := range subscriptions {
		p.send(ctx, sub, payload)
	}
}

func (p *PushPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := p.sender.Send(payload, wpSub, p.webpush)
	if err != nil {
		p.logger.Warn("send push notification", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		p.logger.Info("push subscription expired, deleting", "endpoint", sub.Endpoint)
		if err := p.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			p.logger.Error("delete expired push subscription", "endpoint", sub.Endpoint, "error", err)
		}
	}
}
