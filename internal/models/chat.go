package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat is the safety-journal discussion for one branch. BranchID carries a
// unique index: there is never more than one chat per branch, concurrent
// first access included.
type Chat struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	BranchID  string    `gorm:"uniqueIndex;size:36;not null" json:"branchId"`
	CheckerID string    `gorm:"index;size:36;not null" json:"checkerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Checker  *User         `gorm:"foreignKey:CheckerID" json:"checker,omitempty"`
	Messages []ChatMessage `gorm:"foreignKey:ChatID" json:"messages,omitempty"`
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ChatMessage text is never empty: attachment-only messages store a single
// space placeholder.
type ChatMessage struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	ChatID          string     `gorm:"index;size:36;not null" json:"chatId"`
	SenderID        string     `gorm:"index;size:36;not null" json:"senderId"`
	Message         string     `gorm:"type:text" json:"message"`
	QuotedMessageID *string    `gorm:"size:36" json:"quotedMessageId,omitempty"`
	ReadAt          *time.Time `json:"readAt,omitempty"`
	IsEdited        bool       `gorm:"default:false" json:"isEdited"`
	CreatedAt       time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	Sender        *User                   `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Attachments   []ChatMessageAttachment `gorm:"foreignKey:MessageID" json:"attachments"`
	QuotedMessage *ChatMessage            `gorm:"foreignKey:QuotedMessageID" json:"quotedMessage,omitempty"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type ChatMessageAttachment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	MessageID string    `gorm:"index;size:36;not null" json:"messageId"`
	FileName  string    `gorm:"size:500;not null" json:"fileName"`
	FileURL   string    `gorm:"size:1000;not null" json:"fileUrl"`
	FileSize  int64     `json:"fileSize"`
	MimeType  string    `gorm:"size:200" json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *ChatMessageAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
