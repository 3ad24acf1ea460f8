// Package registry owns the current state of every parking space and the
// atomic transitions between Available, Reserved and Occupied.
package registry

import (
	"context"
	"log/slog"

	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/parse"
	"aeropark-backend/internal/store"
)

var (
	ErrSpaceNotFound     = errs.Sentinel("space not found", errs.ErrNotFound)
	ErrSpaceExists       = errs.Sentinel("space already exists", errs.ErrConflict)
	ErrSpaceNotAvailable = errs.Sentinel("space is not available", errs.ErrConflict)
	ErrInvalidTransition = errs.Sentinel("invalid space transition", errs.ErrInvalidInput)
)

// DefaultSpaces are provisioned on an empty database.
var DefaultSpaces = []string{"A1", "A2", "A3", "A4", "A5"}

type Registry struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger
}

func New(s store.Store, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{store: s, clock: clk, logger: logger}
}

// With returns a registry whose operations run on tx.
func (r *Registry) With(tx store.Store) *Registry {
	return &Registry{store: tx, clock: r.clock, logger: r.logger}
}

func (r *Registry) Get(ctx context.Context, id string) (*model.Space, error) {
	space, err := r.store.GetSpace(ctx, id)
	if errs.Is(err, store.ErrRecordNotFound) {
		return nil, errs.Wrapf(ErrSpaceNotFound, "space %s", id)
	}
	return space, err
}

func (r *Registry) List(ctx context.Context) ([]model.Space, error) {
	return r.store.ListSpaces(ctx)
}

// Add provisions a new Available space. sensorRef defaults to the id-derived
// detector name.
func (r *Registry) Add(ctx context.Context, number, sensorRef string) (*model.Space, error) {
	parsed, err := parse.ParseSpaceNumber(number)
	if err != nil {
		return nil, err
	}
	if sensorRef == "" {
		sensorRef = model.SensorIDFor(parsed.ID)
	}

	if _, err := r.store.GetSpace(ctx, parsed.ID); err == nil {
		return nil, errs.Wrapf(ErrSpaceExists, "space %s", parsed.Number)
	} else if !errs.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	space := &model.Space{
		ID:       parsed.ID,
		Number:   parsed.Number,
		Status:   model.SpaceAvailable,
		SensorID: sensorRef,
	}
	if err := r.store.CreateSpace(ctx, space); err != nil {
		if errs.Is(err, errs.ErrConflict) {
			return nil, errs.Wrapf(ErrSpaceExists, "space %s", parsed.Number)
		}
		return nil, err
	}
	r.logger.Info("space added", "space_id", space.ID, "sensor_id", space.SensorID)
	return space, nil
}

// Remove deletes a space. Only Available spaces can be removed.
func (r *Registry) Remove(ctx context.Context, id string) error {
	space, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if space.Status != model.SpaceAvailable {
		return errs.Wrapf(ErrSpaceNotAvailable, "space %s is %s", id, space.Status)
	}
	deleted, err := r.store.DeleteSpace(ctx, id, model.SpaceAvailable)
	if err != nil {
		return err
	}
	if !deleted {
		return errs.Wrapf(ErrSpaceNotAvailable, "space %s changed during removal", id)
	}
	r.logger.Info("space removed", "space_id", id)
	return nil
}

// Transition moves a space to status to regardless of its current status.
func (r *Registry) Transition(ctx context.Context, id string, to model.SpaceStatus, hold *model.Hold) (*model.Space, error) {
	updates, err := linkageUpdates(to, hold)
	if err != nil {
		return nil, err
	}
	changed, err := r.store.UpdateSpace(ctx, store.SpaceCond{ID: id}, updates)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errs.Wrapf(ErrSpaceNotFound, "space %s", id)
	}
	return r.Get(ctx, id)
}

// CompareAndTransition moves a space to status to only if its current status
// is one of from. It reports false when the guard did not match; a missing
// space is an error.
func (r *Registry) CompareAndTransition(ctx context.Context, id string, from []model.SpaceStatus, to model.SpaceStatus, hold *model.Hold) (bool, error) {
	updates, err := linkageUpdates(to, hold)
	if err != nil {
		return false, err
	}
	changed, err := r.store.UpdateSpace(ctx, store.SpaceCond{ID: id, Statuses: from}, updates)
	if err != nil || changed {
		return changed, err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Reserve claims an Available space for hold.
func (r *Registry) Reserve(ctx context.Context, id string, hold model.Hold) (bool, error) {
	return r.CompareAndTransition(ctx, id, []model.SpaceStatus{model.SpaceAvailable}, model.SpaceReserved, &hold)
}

// Release returns a space to Available if it is still linked to reservationID.
func (r *Registry) Release(ctx context.Context, id, reservationID string) (bool, error) {
	updates, _ := linkageUpdates(model.SpaceAvailable, nil)
	return r.store.UpdateSpace(ctx, store.SpaceCond{ID: id, ReservationID: &reservationID}, updates)
}

// SeedDefaults provisions numbers when no space exists yet.
func (r *Registry) SeedDefaults(ctx context.Context, numbers []string) (int, error) {
	n, err := r.store.CountSpaces(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	added := 0
	for _, number := range numbers {
		if _, err := r.Add(ctx, number, ""); err != nil {
			if errs.Is(err, ErrSpaceExists) {
				continue
			}
			return added, err
		}
		added++
	}
	r.logger.Info("default spaces provisioned", "count", added)
	return added, nil
}

func linkageUpdates(to model.SpaceStatus, hold *model.Hold) (map[string]any, error) {
	if !to.Valid() {
		return nil, errs.Wrapf(ErrInvalidTransition, "unknown status %q", to)
	}
	updates := map[string]any{"status": to}
	switch {
	case to == model.SpaceAvailable:
		if hold != nil {
			return nil, errs.Wrap(ErrInvalidTransition, "available space cannot carry a hold")
		}
		updates["reserved_by"] = nil
		updates["reservation_id"] = nil
		updates["reservation_start"] = nil
		updates["reservation_end"] = nil
		updates["duration_hours"] = nil
	case hold != nil:
		if hold.HolderID == "" || hold.ReservationID == "" || !hold.End.After(hold.Start) {
			return nil, errs.Wrap(ErrInvalidTransition, "incomplete hold")
		}
		updates["reserved_by"] = hold.HolderID
		updates["reservation_id"] = hold.ReservationID
		updates["reservation_start"] = hold.Start
		updates["reservation_end"] = hold.End
		updates["duration_hours"] = hold.DurationHours
	case to == model.SpaceReserved:
		return nil, errs.Wrap(ErrInvalidTransition, "reserved space requires a hold")
	}
	return updates, nil
}
