package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccessLevel string

const (
	AccessFull     AccessLevel = "FULL"
	AccessReadOnly AccessLevel = "READ_ONLY"
)

// Tool is a portal feature addressable by its link path, e.g. "jurists/safety".
type Tool struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:200" json:"name"`
	Link      string    `gorm:"uniqueIndex;size:200;not null" json:"link"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (t *Tool) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// UserToolAccess grants a level on a tool directly to one user.
type UserToolAccess struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	UserID      string      `gorm:"index;size:36;not null" json:"userId"`
	ToolID      string      `gorm:"index;size:36;not null" json:"toolId"`
	AccessLevel AccessLevel `gorm:"size:20;not null" json:"accessLevel"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (a *UserToolAccess) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// PositionToolAccess grants a level to everyone holding a position.
type PositionToolAccess struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	PositionID  string      `gorm:"index;size:36;not null" json:"positionId"`
	ToolID      string      `gorm:"index;size:36;not null" json:"toolId"`
	AccessLevel AccessLevel `gorm:"size:20;not null" json:"accessLevel"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (a *PositionToolAccess) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// GroupToolAccess grants a level to every position in a staff group.
type GroupToolAccess struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	GroupID     string      `gorm:"index;size:36;not null" json:"groupId"`
	ToolID      string      `gorm:"index;size:36;not null" json:"toolId"`
	AccessLevel AccessLevel `gorm:"size:20;not null" json:"accessLevel"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (a *GroupToolAccess) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
