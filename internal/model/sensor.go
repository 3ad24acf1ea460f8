package model

import "time"

// SensorState is the occupancy reported by a space's detector.
type SensorState string

const (
	SensorOccupied SensorState = "occupied"
	SensorFree     SensorState = "free"
)

func (s SensorState) Valid() bool {
	return s == SensorOccupied || s == SensorFree
}

// SensorLiveness is how recent a signal must be for the sensor to count as online.
const SensorLiveness = 5 * time.Minute

// SensorRecord is the latest signal received for a space. One per space.
type SensorRecord struct {
	ID             string      `gorm:"primaryKey;size:64" json:"capteur_id"`
	SpaceID        string      `gorm:"uniqueIndex;size:32;not null" json:"place_id"`
	LastSignal     time.Time   `gorm:"not null" json:"dernier_signal"`
	State          SensorState `gorm:"size:16;not null" json:"etat_actuel"`
	SignalStrength *int        `json:"force_signal,omitempty"`
	BatteryLevel   *int        `json:"niveau_batterie,omitempty"`
	UpdatedAt      time.Time   `json:"-"`
}

// SensorIDFor derives the detector id of a space.
func SensorIDFor(spaceID string) string {
	return "esp8266_" + spaceID
}

// Online reports whether the last signal is younger than SensorLiveness.
func (r *SensorRecord) Online(now time.Time) bool {
	return now.Sub(r.LastSignal) < SensorLiveness
}
