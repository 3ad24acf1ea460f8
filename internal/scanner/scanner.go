// Package scanner enforces reservation end times in the background.
package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/ledger"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/notification"
	"aeropark-backend/internal/registry"
)

// Service periodically expires Active reservations whose end time has passed.
// It is either stopped or running; Start and Stop move between the two.
type Service struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	hub      *notification.Hub
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(l *ledger.Ledger, reg *registry.Registry, hub *notification.Hub, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		ledger:   l,
		registry: reg,
		hub:      hub,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the scan loop. It returns false if the loop is already running.
func (s *Service) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningLocked() {
		s.logger.Warn("expiry scanner already running")
		return false
	}
	if s.cancel != nil {
		// The previous loop ended with its parent context.
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return true
}

// Stop cancels the wait between scans and blocks until an in-progress scan
// has finished and the loop has exited.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Running reports whether the scan loop is active. A loop whose parent
// context was cancelled counts as stopped.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Service) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.logger.Info("expiry scanner started", "interval", s.interval)

	s.scan(ctx)

	// The timer is armed after each scan so the full interval elapses
	// between iterations.
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scanner stopped")
			return
		case <-timer.C:
			s.scan(ctx)
			timer.Reset(s.interval)
		}
	}
}

// scan runs one iteration detached from the loop's cancellation.
func (s *Service) scan(ctx context.Context) {
	if _, err := s.ScanOnce(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("expiry scan failed", "error", err)
	}
}

// ScanOnce expires every Active reservation whose end time is not after now
// and returns how many it expired. Failures on individual reservations are
// logged and skipped.
func (s *Service) ScanOnce(ctx context.Context) (int, error) {
	active, err := s.ledger.Active(ctx)
	if err != nil {
		return 0, errs.Wrap(err, "list active reservations")
	}

	now := s.clock.Now()
	expired := 0
	for i := range active {
		r := &active[i]
		if r.End.After(now) {
			continue
		}
		ok, err := s.expire(ctx, r)
		if err != nil {
			s.logger.Error("expire reservation", "reservation_id", r.ID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("reservations expired", "count", expired, "active", len(active))
	}
	return expired, nil
}

// CheckOne expires a single reservation if its end time has passed. It
// reports false when the reservation is not Active or not yet due.
func (s *Service) CheckOne(ctx context.Context, reservationID string) (bool, error) {
	r, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		return false, err
	}
	if r.Status != model.ReservationActive || r.End.After(s.clock.Now()) {
		return false, nil
	}
	return s.expire(ctx, r)
}

// expire notifies only when this caller performed the transition.
func (s *Service) expire(ctx context.Context, r *model.Reservation) (bool, error) {
	ok, err := s.ledger.Expire(ctx, r.ID)
	if err != nil || !ok {
		return false, err
	}

	s.hub.ReservationExpired(r)

	status := model.SpaceAvailable
	if space, err := s.registry.Get(ctx, r.SpaceID); err == nil {
		status = space.Status
	} else {
		s.logger.Warn("read space after expiry", "space_id", r.SpaceID, "error", err)
	}
	s.hub.SpaceUpdated(r.SpaceID, status, notification.ReasonExpiry)
	return true, nil
}
