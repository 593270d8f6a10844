package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"partner_portal/internal/directory"
	"partner_portal/internal/models"
	"partner_portal/internal/notify"
)

const (
	eventMessage        = "SAFETY_JOURNAL_MESSAGE"
	eventMessageUpdated = "SAFETY_JOURNAL_MESSAGE_UPDATED"
	eventMessageDeleted = "SAFETY_JOURNAL_MESSAGE_DELETED"
	eventMessagesRead   = "SAFETY_JOURNAL_MESSAGES_READ"
)

const fanoutTimeout = 60 * time.Second

const previewRunes = 50

func (s *Service) messagePayload(chat *models.Chat, msg *models.ChatMessage) map[string]any {
	return map[string]any{
		"type":      eventMessage,
		"chatId":    chat.ID,
		"branchId":  chat.BranchID,
		"message":   msg,
		"timestamp": time.Now().Format(time.RFC3339Nano),
	}
}

// fullFanout resolves the complete participant set and delivers the frame
// to everyone the quick pass missed, then queues notifications for
// participants not looking at the chat. Runs detached from the request;
// every failure is logged and swallowed.
func (s *Service) fullFanout(chat models.Chat, msg models.ChatMessage, senderID, token string, quick map[string]struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("message fanout panicked",
				zap.String("chatId", chat.ID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
	defer cancel()

	full, branchName := s.participantSet(ctx, &chat, token)

	payload := s.messagePayload(&chat, &msg)
	for id := range full {
		if _, done := quick[id]; done {
			continue
		}
		s.Hub.SendChatMessage(id, payload)
	}

	toolID, err := s.Access.ToolID()
	if err != nil {
		s.Log.Warn("safety tool lookup failed", zap.Error(err))
	}

	title := "New safety journal message"
	if branchName != "" {
		title = fmt.Sprintf("New message: %s", branchName)
	}
	preview := messagePreview(&msg)
	link := fmt.Sprintf("/jurists/safety?branchId=%s&chatId=%s&messageId=%s",
		chat.BranchID, chat.ID, msg.ID)

	for id := range full {
		if id == senderID {
			continue
		}
		if s.Hub.IsUserInActiveChat(id, chat.ID) {
			continue
		}
		err := s.Notify.Create(notify.Input{
			Type:       eventMessage,
			Channels:   []string{notify.ChannelInApp, notify.ChannelTelegram},
			Title:      title,
			Message:    preview,
			SenderID:   senderID,
			ReceiverID: id,
			Priority:   "MEDIUM",
			ToolID:     toolID,
			Action: notify.Action{
				Type:       "OPEN_CHAT",
				URL:        link,
				ChatID:     chat.ID,
				MessageID:  msg.ID,
				BranchName: branchName,
			},
		})
		if err != nil {
			s.Log.Error("chat notification not queued",
				zap.String("receiverId", id),
				zap.String("chatId", chat.ID),
				zap.Error(err))
		}
	}
}

// broadcast sends an already built event to every participant except the
// actor. Used for message edits and deletions.
func (s *Service) broadcast(chat models.Chat, actorID, token string, event map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("chat broadcast panicked",
				zap.String("chatId", chat.ID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
	defer cancel()

	full, _ := s.participantSet(ctx, &chat, token)
	for id := range full {
		if id == actorID {
			continue
		}
		s.Hub.SendChatMessage(id, event)
	}
}

// participantSet is every checker plus the chat checker plus all branch
// responsibles with portal accounts. Upstream failures degrade to the
// local half of the set.
func (s *Service) participantSet(ctx context.Context, chat *models.Chat, token string) (map[string]struct{}, string) {
	full := make(map[string]struct{})
	full[chat.CheckerID] = struct{}{}

	checkers, err := s.Access.AllCheckers()
	if err != nil {
		s.Log.Error("checker set unavailable during fanout",
			zap.String("chatId", chat.ID), zap.Error(err))
	}
	for id := range checkers {
		full[id] = struct{}{}
	}

	resps, branchName, err := s.Access.BranchResponsibles(ctx, token, chat.BranchID)
	if err != nil {
		s.Log.Warn("responsible set unavailable during fanout",
			zap.String("branchId", chat.BranchID), zap.Error(err))
	}
	if len(resps) > 0 {
		rc := directory.NewRequestCache()
		matched, _, err := s.Access.MatchResponsibles(resps, rc)
		if err != nil {
			s.Log.Error("responsible matching failed during fanout",
				zap.String("branchId", chat.BranchID), zap.Error(err))
		}
		for _, u := range matched {
			if u != nil {
				full[u.ID] = struct{}{}
			}
		}
	}

	if branchName == "" {
		var branches []models.Branch
		err := s.DB.Where("uuid = ?", chat.BranchID).Limit(1).Find(&branches).Error
		if err == nil && len(branches) > 0 {
			branchName = branches[0].Name
		}
	}
	return full, branchName
}

// messagePreview shortens the text for the notification body. Attachment
// placeholders turn into a file line instead.
func messagePreview(msg *models.ChatMessage) string {
	text := msg.Message
	if text == attachmentPlaceholder || text == "" {
		switch n := len(msg.Attachments); {
		case n == 1:
			return "📎 " + msg.Attachments[0].FileName
		case n > 1:
			return fmt.Sprintf("📎 %d attachments", n)
		default:
			return "New message"
		}
	}
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}
