package notification

import (
	"time"

	"aeropark-backend/internal/model"
)

// MessageType discriminates frames on the streaming channel.
type MessageType string

// Outbound.
const (
	TypeConnected    MessageType = "connexion_etablie"
	TypePong         MessageType = "pong"
	TypeParkingState MessageType = "etat_parking"
	TypeSpaceUpdated MessageType = "mise_a_jour_place"
	TypeReservation  MessageType = "reservation"
	TypeSensor       MessageType = "capteur"
	TypeExpired      MessageType = "expiration"
	TypeError        MessageType = "erreur"
)

// Inbound.
const (
	TypePing         MessageType = "ping"
	TypeStateRequest MessageType = "demande_etat"
)

// Reasons carried by SpaceUpdated.
const (
	ReasonReservation = "reservation"
	ReasonRelease     = "liberation"
	ReasonCancel      = "annulation"
	ReasonSensor      = "capteur"
	ReasonExpiry      = "expiration"
	ReasonAdmin       = "administration"
)

// Message is a single frame sent to subscribers. It is never persisted.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"donnees"`
	Timestamp time.Time   `json:"timestamp"`
}

type TextPayload struct {
	Message string `json:"message"`
}

type SpaceUpdate struct {
	SpaceID string            `json:"place_id"`
	Status  model.SpaceStatus `json:"statut"`
	Reason  string            `json:"raison"`
}

type ReservationEvent struct {
	ReservationID string `json:"reservation_id"`
	SpaceID       string `json:"place_id"`
	Action        string `json:"action"`
}

type SensorEvent struct {
	SpaceID string            `json:"place_id"`
	State   model.SensorState `json:"etat"`
}

type Expiration struct {
	ReservationID string `json:"reservation_id"`
	SpaceID       string `json:"place_id"`
	HolderID      string `json:"utilisateur_id"`
}
