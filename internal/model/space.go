package model

import "time"

// SpaceStatus is the externally visible state of a parking space.
type SpaceStatus string

const (
	SpaceAvailable SpaceStatus = "available"
	SpaceReserved  SpaceStatus = "reserved"
	SpaceOccupied  SpaceStatus = "occupied"
)

func (s SpaceStatus) Valid() bool {
	switch s {
	case SpaceAvailable, SpaceReserved, SpaceOccupied:
		return true
	}
	return false
}

// Space is a single physical parking slot.
//
// ReservedBy, ReservationID, ReservationStart, ReservationEnd and DurationHours
// are set together or cleared together. They are absent exactly when Status is
// SpaceAvailable, except for a space occupied by an unreserved vehicle.
type Space struct {
	ID               string      `gorm:"primaryKey;size:32" json:"id"`
	Number           string      `gorm:"uniqueIndex;size:32;not null" json:"numero"`
	Status           SpaceStatus `gorm:"size:16;not null;index" json:"statut"`
	ReservedBy       *string     `gorm:"size:128" json:"reserve_par,omitempty"`
	ReservationID    *string     `gorm:"size:64;index" json:"reservation_id,omitempty"`
	ReservationStart *time.Time  `json:"debut_reservation,omitempty"`
	ReservationEnd   *time.Time  `json:"fin_reservation,omitempty"`
	DurationHours    *int        `json:"duree_heures,omitempty"`
	SensorID         string      `gorm:"size:64;not null" json:"capteur_id"`
	Version          int64       `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time   `json:"date_creation"`
	UpdatedAt        time.Time   `json:"date_modification"`
}

// Hold is the reservation linkage written onto a space when it is claimed.
type Hold struct {
	HolderID      string
	ReservationID string
	Start         time.Time
	End           time.Time
	DurationHours int
}

// Hold returns the linkage currently set on the space, or nil.
func (s *Space) Hold() *Hold {
	if s.ReservedBy == nil || s.ReservationStart == nil || s.ReservationEnd == nil {
		return nil
	}
	h := &Hold{
		HolderID: *s.ReservedBy,
		Start:    *s.ReservationStart,
		End:      *s.ReservationEnd,
	}
	if s.ReservationID != nil {
		h.ReservationID = *s.ReservationID
	}
	if s.DurationHours != nil {
		h.DurationHours = *s.DurationHours
	}
	return h
}

// RemainingSeconds is the time left on the hold at now, clamped at zero.
func (s *Space) RemainingSeconds(now time.Time) int64 {
	if s.ReservationEnd == nil || s.Status == SpaceAvailable {
		return 0
	}
	left := int64(s.ReservationEnd.Sub(now).Seconds())
	if left < 0 {
		return 0
	}
	return left
}
