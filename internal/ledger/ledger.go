// Package ledger owns reservation records and drives the matching space
// transitions in the same transaction.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/payment"
	"aeropark-backend/internal/registry"
	"aeropark-backend/internal/store"
)

var (
	ErrInvalidDuration     = errs.Sentinel("invalid reservation duration", errs.ErrInvalidInput)
	ErrSpaceUnavailable    = errs.Sentinel("space cannot be reserved", errs.ErrConflict)
	ErrReservationNotFound = errs.Sentinel("reservation not found", errs.ErrNotFound)
	ErrPaymentFailed       = errs.Sentinel("payment was not confirmed", errs.ErrPayment)
)

type Config struct {
	HourlyRate       int64
	MaxDurationHours int
}

type Ledger struct {
	store    store.Store
	registry *registry.Registry
	payments payment.Gateway
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger
}

func New(s store.Store, reg *registry.Registry, payments payment.Gateway, clk clock.Clock, cfg Config, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:    s,
		registry: reg,
		payments: payments,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
	}
}

type CreateRequest struct {
	SpaceID       string
	HolderID      string
	DurationHours int
	PaymentMethod string
}

// Receipt is returned by a successful Create.
type Receipt struct {
	Reservation      *model.Reservation
	SpaceNumber      string
	RemainingSeconds int64
}

// Create charges the holder and then, in one transaction, claims the space
// with a compare-and-set and inserts the Active reservation. The charge is
// refunded if the claim fails.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (*Receipt, error) {
	if req.DurationHours < 1 || req.DurationHours > l.cfg.MaxDurationHours {
		return nil, errs.Wrapf(ErrInvalidDuration, "duration must be between 1 and %d hours, got %d",
			l.cfg.MaxDurationHours, req.DurationHours)
	}
	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	space, err := l.registry.Get(ctx, req.SpaceID)
	if err != nil {
		return nil, err
	}
	if space.Status != model.SpaceAvailable {
		return nil, errs.Wrapf(ErrSpaceUnavailable, "space %s is %s", space.Number, space.Status)
	}

	now := l.clock.Now()
	duration := time.Duration(req.DurationHours) * time.Hour
	res := &model.Reservation{
		ID:            uuid.NewString(),
		SpaceID:       space.ID,
		HolderID:      req.HolderID,
		Status:        model.ReservationActive,
		Start:         now,
		End:           now.Add(duration),
		DurationHours: req.DurationHours,
		Amount:        int64(req.DurationHours) * l.cfg.HourlyRate,
		PaymentMethod: string(method),
		CreatedAt:     now,
	}

	rcpt, err := l.payments.Charge(ctx, payment.Charge{
		HolderID: req.HolderID,
		Amount:   res.Amount,
		Method:   method,
		SpaceID:  space.ID,
	})
	if err != nil {
		return nil, errs.Mark(errs.Wrap(err, "charge"), ErrPaymentFailed)
	}
	if !rcpt.Confirmed {
		return nil, errs.Wrapf(ErrPaymentFailed, "reference %s", rcpt.Reference)
	}
	res.PaymentReference = rcpt.Reference
	res.PaymentConfirmed = true

	hold := model.Hold{
		HolderID:      res.HolderID,
		ReservationID: res.ID,
		Start:         res.Start,
		End:           res.End,
		DurationHours: res.DurationHours,
	}
	err = l.store.Transaction(ctx, func(tx store.Store) error {
		claimed, err := l.registry.With(tx).Reserve(ctx, space.ID, hold)
		if err != nil {
			return err
		}
		if !claimed {
			return errs.Wrapf(ErrSpaceUnavailable, "space %s was taken", space.Number)
		}
		return tx.CreateReservation(ctx, res)
	})
	if err != nil {
		if rerr := l.payments.Refund(ctx, rcpt.Reference, res.Amount); rerr != nil {
			l.logger.Error("refund after failed reservation",
				"reference", rcpt.Reference, "amount", res.Amount, "error", rerr)
		}
		return nil, err
	}

	l.logger.Info("reservation created",
		"reservation_id", res.ID, "space_id", space.ID, "holder_id", res.HolderID,
		"duration_hours", res.DurationHours, "amount", res.Amount, "end", res.End)
	return &Receipt{
		Reservation:      res,
		SpaceNumber:      space.Number,
		RemainingSeconds: int64(duration.Seconds()),
	}, nil
}

// Expire moves an Active reservation to Expired and releases its space.
// It returns false without error if the reservation is no longer Active.
func (l *Ledger) Expire(ctx context.Context, id string) (bool, error) {
	return l.finish(ctx, id, []model.ReservationStatus{model.ReservationActive}, model.ReservationExpired)
}

// Complete moves an Active reservation to Completed and releases its space.
func (l *Ledger) Complete(ctx context.Context, id string) (bool, error) {
	return l.finish(ctx, id, []model.ReservationStatus{model.ReservationActive}, model.ReservationCompleted)
}

// Cancel moves a Pending or Active reservation to Cancelled and releases its space.
func (l *Ledger) Cancel(ctx context.Context, id string) (bool, error) {
	return l.finish(ctx, id, []model.ReservationStatus{model.ReservationPending, model.ReservationActive}, model.ReservationCancelled)
}

func (l *Ledger) finish(ctx context.Context, id string, from []model.ReservationStatus, to model.ReservationStatus) (bool, error) {
	var (
		changed  bool
		released bool
		spaceID  string
	)
	err := l.store.Transaction(ctx, func(tx store.Store) error {
		res, err := tx.GetReservation(ctx, id)
		if err != nil {
			if errs.Is(err, store.ErrRecordNotFound) {
				return errs.Wrapf(ErrReservationNotFound, "reservation %s", id)
			}
			return err
		}
		spaceID = res.SpaceID

		ok, err := tx.TransitionReservation(ctx, id, from, to)
		if err != nil || !ok {
			return err
		}
		released, err = l.registry.With(tx).Release(ctx, res.SpaceID, res.ID)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		l.logger.Info("reservation finished",
			"reservation_id", id, "status", to, "space_id", spaceID, "space_released", released)
	}
	return changed, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*model.Reservation, error) {
	res, err := l.store.GetReservation(ctx, id)
	if errs.Is(err, store.ErrRecordNotFound) {
		return nil, errs.Wrapf(ErrReservationNotFound, "reservation %s", id)
	}
	return res, err
}

// Active lists Active reservations ordered by end time.
func (l *Ledger) Active(ctx context.Context) ([]model.Reservation, error) {
	return l.store.ListReservationsByStatus(ctx, model.ReservationActive)
}

// ByHolder lists a holder's reservations, newest first.
func (l *Ledger) ByHolder(ctx context.Context, holderID string) ([]model.Reservation, error) {
	return l.store.ListReservationsByHolder(ctx, holderID)
}

func (l *Ledger) ActiveCount(ctx context.Context, holderID string) (int64, error) {
	return l.store.CountReservations(ctx, holderID, model.ReservationActive)
}

// MarkVehicleArrived flags an Active reservation whose vehicle was detected.
func (l *Ledger) MarkVehicleArrived(ctx context.Context, id string) error {
	return l.store.MarkVehicleArrived(ctx, id)
}
