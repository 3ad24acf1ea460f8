package notification

import "aeropark-backend/internal/model"

func (h *Hub) SpaceUpdated(spaceID string, status model.SpaceStatus, reason string) {
	h.Broadcast(h.newMessage(TypeSpaceUpdated, SpaceUpdate{SpaceID: spaceID, Status: status, Reason: reason}))
}

func (h *Hub) ReservationChanged(reservationID, spaceID, action string) {
	h.Broadcast(h.newMessage(TypeReservation, ReservationEvent{ReservationID: reservationID, SpaceID: spaceID, Action: action}))
}

func (h *Hub) SensorReported(spaceID string, state model.SensorState) {
	h.Broadcast(h.newMessage(TypeSensor, SensorEvent{SpaceID: spaceID, State: state}))
}

func (h *Hub) ReservationExpired(res *model.Reservation) {
	h.Broadcast(h.newMessage(TypeExpired, Expiration{
		ReservationID: res.ID,
		SpaceID:       res.SpaceID,
		HolderID:      res.HolderID,
	}))
}

// ParkingState sends the full snapshot to every subscriber.
func (h *Hub) ParkingState(state any) {
	h.Broadcast(h.newMessage(TypeParkingState, state))
}
