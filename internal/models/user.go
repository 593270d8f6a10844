package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleSupervisor UserRole = "SUPERVISOR"
	RoleEmployee   UserRole = "EMPLOYEE"
)

// User is a portal account. Position and Branch are display fields copied
// from the staff directory at account creation; the authoritative linkage
// goes through StaffRecord by email.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name         string    `gorm:"size:200" json:"name"`
	Image        string    `gorm:"size:500" json:"image"`
	Position     string    `gorm:"size:200" json:"position"`
	Branch       string    `gorm:"size:64" json:"branch"`
	Role         UserRole  `gorm:"size:20;default:EMPLOYEE" json:"role"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
