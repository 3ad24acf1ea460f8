// Package occupancy reconciles sensor signals with the expected state of
// each space.
package occupancy

import (
	"context"
	"log/slog"
	"time"

	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/ledger"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/notification"
	"aeropark-backend/internal/registry"
	"aeropark-backend/internal/store"
)

var (
	ErrInvalidSignal  = errs.Sentinel("invalid sensor state", errs.ErrInvalidInput)
	ErrSensorNotFound = errs.Sentinel("no signal received for space", errs.ErrNotFound)
)

// maxAttempts bounds retries when the space changes between read and update.
const maxAttempts = 3

// Signal is one occupancy report from a space's detector.
type Signal struct {
	SpaceID        string
	State          model.SensorState
	SignalStrength *int
	BatteryLevel   *int
}

// Result describes the effect of a signal. NewStatus is nil when the space
// did not change.
type Result struct {
	SpaceID   string
	Status    model.SpaceStatus
	NewStatus *model.SpaceStatus
	Anomaly   bool
}

type Processor struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	store    store.Store
	hub      *notification.Hub
	clock    clock.Clock
	logger   *slog.Logger
}

func NewProcessor(reg *registry.Registry, l *ledger.Ledger, s store.Store, hub *notification.Hub, clk clock.Clock, logger *slog.Logger) *Processor {
	return &Processor{
		registry: reg,
		ledger:   l,
		store:    s,
		hub:      hub,
		clock:    clk,
		logger:   logger,
	}
}

// next returns the status a space should move to for an observation, or
// false when the observation matches the expected state.
func next(current model.SpaceStatus, observed model.SensorState) (model.SpaceStatus, bool) {
	switch {
	case observed == model.SensorOccupied && current != model.SpaceOccupied:
		return model.SpaceOccupied, true
	case observed == model.SensorFree && current == model.SpaceOccupied:
		return model.SpaceAvailable, true
	}
	return current, false
}

// Process applies sig to its space. A vehicle leaving clears the hold but
// leaves the reservation itself Active.
func (p *Processor) Process(ctx context.Context, sig Signal) (*Result, error) {
	if !sig.State.Valid() {
		return nil, errs.Wrapf(ErrInvalidSignal, "%q", sig.State)
	}

	var (
		space   *model.Space
		prev    model.SpaceStatus
		changed bool
		settled bool
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var err error
		space, err = p.registry.Get(ctx, sig.SpaceID)
		if err != nil {
			return nil, err
		}
		prev = space.Status
		to, move := next(space.Status, sig.State)
		if !move {
			settled = true
			break
		}
		changed, err = p.registry.CompareAndTransition(ctx, space.ID, []model.SpaceStatus{prev}, to, nil)
		if err != nil {
			return nil, err
		}
		if changed {
			space.Status = to
			settled = true
			break
		}
		p.logger.Debug("space changed during signal processing, retrying", "space_id", space.ID, "attempt", attempt+1)
	}
	if !settled {
		p.logger.Warn("signal retries exhausted", "space_id", sig.SpaceID, "attempts", maxAttempts)
		// The last read lost its race; report what the space holds now.
		var err error
		if space, err = p.registry.Get(ctx, sig.SpaceID); err != nil {
			return nil, err
		}
	}

	p.recordSignal(ctx, space, sig)

	res := &Result{SpaceID: space.ID, Status: space.Status}
	if changed {
		res.NewStatus = &space.Status
		switch {
		case prev == model.SpaceReserved:
			if space.ReservationID != nil {
				if err := p.ledger.MarkVehicleArrived(ctx, *space.ReservationID); err != nil {
					p.logger.Warn("flag vehicle arrival", "reservation_id", *space.ReservationID, "error", err)
				}
			}
			p.logger.Info("vehicle arrived", "space_id", space.ID)
		case prev == model.SpaceAvailable:
			res.Anomaly = true
			p.logger.Warn("vehicle detected on unreserved space", "space_id", space.ID)
		default:
			p.logger.Info("vehicle departed", "space_id", space.ID)
		}
	}

	p.hub.SensorReported(space.ID, sig.State)
	if changed {
		p.hub.SpaceUpdated(space.ID, space.Status, notification.ReasonSensor)
	}
	return res, nil
}

// Simulate processes a synthetic signal for test installations.
func (p *Processor) Simulate(ctx context.Context, spaceID string, occupied bool) (*Result, error) {
	state := model.SensorFree
	if occupied {
		state = model.SensorOccupied
	}
	return p.Process(ctx, Signal{SpaceID: spaceID, State: state})
}

// recordSignal upserts the sensor record. Failures are logged only.
func (p *Processor) recordSignal(ctx context.Context, space *model.Space, sig Signal) {
	rec := &model.SensorRecord{
		ID:             space.SensorID,
		SpaceID:        space.ID,
		LastSignal:     p.clock.Now(),
		State:          sig.State,
		SignalStrength: sig.SignalStrength,
		BatteryLevel:   sig.BatteryLevel,
	}
	if err := p.store.UpsertSensor(ctx, rec); err != nil {
		p.logger.Warn("record sensor signal", "sensor_id", rec.ID, "error", err)
	}
}

// SensorStatus is a sensor record with its derived liveness.
type SensorStatus struct {
	SensorID       string            `json:"capteur_id"`
	SpaceID        string            `json:"place_id"`
	LastSignal     time.Time         `json:"dernier_signal"`
	State          model.SensorState `json:"etat_actuel"`
	SignalStrength *int              `json:"force_signal"`
	BatteryLevel   *int              `json:"niveau_batterie"`
	Online         bool              `json:"en_ligne"`
}

func (p *Processor) toStatus(rec *model.SensorRecord, now time.Time) SensorStatus {
	return SensorStatus{
		SensorID:       rec.ID,
		SpaceID:        rec.SpaceID,
		LastSignal:     rec.LastSignal,
		State:          rec.State,
		SignalStrength: rec.SignalStrength,
		BatteryLevel:   rec.BatteryLevel,
		Online:         rec.Online(now),
	}
}

// Status returns the latest signal of a space's sensor.
func (p *Processor) Status(ctx context.Context, spaceID string) (*SensorStatus, error) {
	if _, err := p.registry.Get(ctx, spaceID); err != nil {
		return nil, err
	}
	rec, err := p.store.GetSensor(ctx, spaceID)
	if err != nil {
		if errs.Is(err, store.ErrRecordNotFound) {
			return nil, errs.Wrapf(ErrSensorNotFound, "space %s", spaceID)
		}
		return nil, err
	}
	st := p.toStatus(rec, p.clock.Now())
	return &st, nil
}

// All returns every sensor record.
func (p *Processor) All(ctx context.Context) ([]SensorStatus, error) {
	recs, err := p.store.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	now := p.clock.Now()
	out := make([]SensorStatus, 0, len(recs))
	for i := range recs {
		out = append(out, p.toStatus(&recs[i], now))
	}
	return out, nil
}
