package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification is a queued delivery for the dispatch pipeline. Channels and
// Action are stored as JSON documents; only IN_APP is delivered in-process,
// the rest are drained by the external dispatcher.
type Notification struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Type       string         `gorm:"size:50" json:"type"`
	Channels   datatypes.JSON `json:"channels"`
	Title      string         `gorm:"size:300" json:"title"`
	Message    string         `gorm:"type:text" json:"message"`
	SenderID   string         `gorm:"size:36" json:"senderId"`
	ReceiverID string         `gorm:"index;size:36;not null" json:"receiverId"`
	Priority   string         `gorm:"size:20;default:MEDIUM" json:"priority"`
	Read       bool           `gorm:"default:false;index" json:"read"`
	ToolID     string         `gorm:"index;size:36" json:"toolId"`
	Action     datatypes.JSON `json:"action"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
