package registry

import (
	"context"

	"aeropark-backend/internal/model"
)

// SpaceView is the public projection of a space.
type SpaceView struct {
	ID         string            `json:"id"`
	Number     string            `json:"numero"`
	Status     model.SpaceStatus `json:"statut"`
	ReservedBy *string           `json:"reserve_par"`
	Remaining  *int64            `json:"temps_restant"`
	CanReserve bool              `json:"peut_reserver"`
}

// ParkingState is a snapshot of every space with per-status totals.
type ParkingState struct {
	Total     int         `json:"total_places"`
	Available int         `json:"places_disponibles"`
	Reserved  int         `json:"places_reservees"`
	Occupied  int         `json:"places_occupees"`
	Spaces    []SpaceView `json:"places"`
}

func (r *Registry) State(ctx context.Context) (*ParkingState, error) {
	spaces, err := r.store.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()

	state := &ParkingState{Total: len(spaces), Spaces: make([]SpaceView, 0, len(spaces))}
	for i := range spaces {
		s := &spaces[i]
		switch s.Status {
		case model.SpaceAvailable:
			state.Available++
		case model.SpaceReserved:
			state.Reserved++
		case model.SpaceOccupied:
			state.Occupied++
		}

		view := SpaceView{
			ID:         s.ID,
			Number:     s.Number,
			Status:     s.Status,
			ReservedBy: s.ReservedBy,
			CanReserve: s.Status == model.SpaceAvailable,
		}
		if s.Status != model.SpaceAvailable && s.ReservationEnd != nil {
			left := s.RemainingSeconds(now)
			view.Remaining = &left
		}
		state.Spaces = append(state.Spaces, view)
	}
	return state, nil
}
