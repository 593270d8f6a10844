package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StaffRecord is the HR directory row imported from the upstream personnel
// system. Code is the employee number external systems refer to; the row is
// linked to a portal User only through the email column.
type StaffRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Code       string    `gorm:"index;size:64" json:"code"`
	Email      string    `gorm:"index;size:255" json:"email"`
	FIO        string    `gorm:"size:300" json:"fio"`
	PositionID string    `gorm:"index;size:36" json:"positionId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (s *StaffRecord) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Position belongs to a StaffGroup; staff records point at it by uuid.
type Position struct {
	UUID      string    `gorm:"primaryKey;size:36" json:"uuid"`
	Name      string    `gorm:"size:200" json:"name"`
	GroupUUID string    `gorm:"index;size:36" json:"groupUuid"`
	CreatedAt time.Time `json:"createdAt"`
}

type StaffGroup struct {
	UUID      string    `gorm:"primaryKey;size:36" json:"uuid"`
	Name      string    `gorm:"size:200" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
