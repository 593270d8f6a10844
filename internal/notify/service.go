// Package notify persists notifications and pushes the in-app channel to
// live connections. Delivery on other channels is left to the external
// dispatcher that drains the notifications table; from a caller's point of
// view Create is fire-and-forget.
package notify

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/models"
	"partner_portal/internal/realtime"
)

const (
	ChannelInApp    = "IN_APP"
	ChannelTelegram = "TELEGRAM"
)

// Action is the deep link attached to a notification.
type Action struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	ChatID     string `json:"chatId,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	BranchName string `json:"branchName,omitempty"`
}

// Input is one notification to queue.
type Input struct {
	Type       string
	Channels   []string
	Title      string
	Message    string
	SenderID   string
	ReceiverID string
	Priority   string
	ToolID     string
	Action     Action
}

type Service struct {
	DB  *gorm.DB
	Hub *realtime.Hub
	Log *zap.Logger
}

// Create persists the notification and pushes it to the receiver's live
// connections when IN_APP is among the channels.
func (s *Service) Create(in Input) error {
	channels, err := json.Marshal(in.Channels)
	if err != nil {
		return err
	}
	action, err := json.Marshal(in.Action)
	if err != nil {
		return err
	}

	n := models.Notification{
		Type:       in.Type,
		Channels:   channels,
		Title:      in.Title,
		Message:    in.Message,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Priority:   in.Priority,
		ToolID:     in.ToolID,
		Action:     action,
	}
	if err := s.DB.Create(&n).Error; err != nil {
		return err
	}

	for _, ch := range in.Channels {
		if ch == ChannelInApp {
			s.Hub.SendToUser(in.ReceiverID, n)
			break
		}
	}
	return nil
}

// MarkChatRead flips unread chat notifications whose deep link points at
// the branch. The action payload is a JSON document, so the filter runs
// over the fetched candidates rather than in SQL.
func (s *Service) MarkChatRead(userID, toolID, branchID string) error {
	var pending []models.Notification
	q := s.DB.Where("receiver_id = ? AND read = ?", userID, false)
	if toolID != "" {
		q = q.Where("tool_id = ?", toolID)
	}
	if err := q.Find(&pending).Error; err != nil {
		return err
	}

	var ids []string
	needle := "branchId=" + branchID
	for _, n := range pending {
		var action Action
		if err := json.Unmarshal(n.Action, &action); err != nil {
			continue
		}
		if strings.Contains(action.URL, needle) {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	err := s.DB.Model(&models.Notification{}).
		Where("id IN ? AND receiver_id = ?", ids, userID).
		Update("read", true).Error
	if err != nil {
		return err
	}

	s.Log.Debug("chat notifications marked read",
		zap.String("userId", userID),
		zap.String("branchId", branchID),
		zap.Int("count", len(ids)))
	return nil
}
