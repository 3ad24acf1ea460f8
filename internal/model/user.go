package model

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User stores the role of an identity subject. Rows are created lazily on
// first authenticated request.
type User struct {
	Subject   string    `gorm:"primaryKey;size:128"`
	Email     string    `gorm:"size:256"`
	Name      string    `gorm:"size:256"`
	Role      Role      `gorm:"size:16;not null;default:user"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
