package model

import "time"

// ReservationStatus tracks a reservation through its lifecycle.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationActive    ReservationStatus = "active"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationExpired, ReservationCompleted, ReservationCancelled:
		return true
	}
	return false
}

// Reservation is a time-bounded claim by a user on a space. Rows are never
// deleted.
type Reservation struct {
	ID               string            `gorm:"primaryKey;size:64" json:"id"`
	SpaceID          string            `gorm:"size:32;not null;index" json:"place_id"`
	HolderID         string            `gorm:"size:128;not null;index" json:"utilisateur_id"`
	Status           ReservationStatus `gorm:"size:16;not null;index" json:"statut"`
	Start            time.Time         `gorm:"column:starts_at;not null" json:"debut"`
	End              time.Time         `gorm:"column:ends_at;not null;index" json:"fin"`
	DurationHours    int               `gorm:"not null" json:"duree_heures"`
	Amount           int64             `gorm:"not null" json:"montant"`
	PaymentMethod    string            `gorm:"size:32;not null" json:"methode_paiement"`
	PaymentReference string            `gorm:"size:64" json:"reference_paiement"`
	PaymentConfirmed bool              `gorm:"not null;default:false" json:"paiement_confirme"`
	VehicleArrived   bool              `gorm:"not null;default:false" json:"vehicule_arrive"`
	CreatedAt        time.Time         `gorm:"index" json:"date_creation"`
	UpdatedAt        time.Time         `json:"date_modification"`
}
