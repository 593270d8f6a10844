package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"partner_portal/internal/models"
)

const defaultLimit = 20

// attachmentPlaceholder keeps the message text column non-empty for
// attachment-only messages.
const attachmentPlaceholder = " "

type AttachmentInput struct {
	FileName string `json:"fileName" binding:"required"`
	FileURL  string `json:"fileUrl" binding:"required"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

type SendInput struct {
	ChatID          string
	SenderID        string
	Token           string
	Text            string
	QuotedMessageID string
	Attachments     []AttachmentInput
}

// Send persists a message and starts the fanout. The sender and the chat
// checker get the realtime frame before Send returns; everyone else is
// reached asynchronously. Attachment rows are best effort and never undo
// the message itself.
func (s *Service) Send(ctx context.Context, in SendInput) (*models.ChatMessage, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if text == "" {
		text = attachmentPlaceholder
	}

	chat, err := s.chatByID(in.ChatID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canAccess(ctx, in.SenderID, chat.BranchID, in.Token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	var quotedID *string
	if in.QuotedMessageID != "" {
		var count int64
		err := s.DB.Model(&models.ChatMessage{}).
			Where("id = ? AND chat_id = ?", in.QuotedMessageID, in.ChatID).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, ErrQuotedMessageInvalid
		}
		id := in.QuotedMessageID
		quotedID = &id
	}

	msg := models.ChatMessage{
		ChatID:          in.ChatID,
		SenderID:        in.SenderID,
		Message:         text,
		QuotedMessageID: quotedID,
	}
	if err := s.DB.Create(&msg).Error; err != nil {
		return nil, err
	}

	for _, a := range in.Attachments {
		att := models.ChatMessageAttachment{
			MessageID: msg.ID,
			FileName:  a.FileName,
			FileURL:   a.FileURL,
			FileSize:  a.FileSize,
			MimeType:  a.MimeType,
		}
		if err := s.DB.Create(&att).Error; err != nil {
			s.Log.Error("attachment not saved",
				zap.String("messageId", msg.ID),
				zap.String("fileName", a.FileName),
				zap.Error(err))
		}
	}

	s.touchChat(in.ChatID)

	full, err := s.messageByID(msg.ID)
	if err != nil {
		return nil, err
	}

	payload := s.messagePayload(chat, full)
	quick := map[string]struct{}{in.SenderID: {}, chat.CheckerID: {}}
	for id := range quick {
		s.Hub.SendChatMessage(id, payload)
	}
	chatCopy := *chat
	s.spawn(func() {
		s.fullFanout(chatCopy, *full, in.SenderID, in.Token, quick)
	})
	return full, nil
}

func (s *Service) messageByID(id string) (*models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.DB.Where("id = ?", id).
		Preload("Sender").
		Preload("Attachments").
		Preload("QuotedMessage").
		Preload("QuotedMessage.Sender").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	if msgs[0].Attachments == nil {
		msgs[0].Attachments = []models.ChatMessageAttachment{}
	}
	return &msgs[0], nil
}

func (s *Service) touchChat(chatID string) {
	err := s.DB.Model(&models.Chat{}).
		Where("id = ?", chatID).
		Update("updated_at", time.Now()).Error
	if err != nil {
		s.Log.Warn("chat activity stamp not updated",
			zap.String("chatId", chatID), zap.Error(err))
	}
}

// ListOptions selects one of three pagination modes. Page wins over
// Before; with neither set the newest Limit messages come back.
type ListOptions struct {
	ChatID string
	UserID string
	Token  string
	Limit  int
	Page   int
	Before string
}

// ListResult messages are always in ascending creation order regardless
// of the pagination mode.
type ListResult struct {
	Messages   []models.ChatMessage `json:"messages"`
	Total      int64                `json:"total"`
	HasMore    bool                 `json:"hasMore"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

func (s *Service) Messages(ctx context.Context, opts ListOptions) (*ListResult, error) {
	chat, err := s.chatByID(opts.ChatID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canAccess(ctx, opts.UserID, chat.BranchID, opts.Token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	res := &ListResult{Messages: []models.ChatMessage{}}
	err = s.DB.Model(&models.ChatMessage{}).
		Where("chat_id = ?", opts.ChatID).
		Count(&res.Total).Error
	if err != nil {
		return nil, err
	}

	base := s.DB.Where("chat_id = ?", opts.ChatID).
		Preload("Sender").
		Preload("Attachments").
		Preload("QuotedMessage").
		Preload("QuotedMessage.Sender")

	var msgs []models.ChatMessage
	switch {
	case opts.Page > 0:
		offset := (opts.Page - 1) * limit
		err = base.Order("created_at DESC").
			Offset(offset).Limit(limit).
			Find(&msgs).Error
		if err != nil {
			return nil, err
		}
		res.HasMore = int64(offset+len(msgs)) < res.Total

	case opts.Before != "":
		cursor, perr := time.Parse(time.RFC3339Nano, opts.Before)
		if perr != nil {
			return nil, ErrBadCursor
		}
		err = base.Where("created_at < ?", cursor).
			Order("created_at DESC").
			Limit(limit + 1).
			Find(&msgs).Error
		if err != nil {
			return nil, err
		}
		if len(msgs) > limit {
			msgs = msgs[:limit]
			res.HasMore = true
		}

	default:
		err = base.Order("created_at DESC").Limit(limit).Find(&msgs).Error
		if err != nil {
			return nil, err
		}
		res.HasMore = int64(len(msgs)) < res.Total
	}

	// fetched newest first, the client wants chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	res.Messages = msgs
	if len(msgs) > 0 && res.HasMore {
		res.NextCursor = msgs[0].CreatedAt.Format(time.RFC3339Nano)
	}
	return res, nil
}

// Edit replaces the text of the caller's own message and marks it edited.
func (s *Service) Edit(ctx context.Context, userID, token, chatID, messageID, text string) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	chat, err := s.chatByID(chatID)
	if err != nil {
		return nil, err
	}
	msg, err := s.ownMessage(userID, chatID, messageID)
	if err != nil {
		return nil, err
	}

	err = s.DB.Model(&models.ChatMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]any{"message": text, "is_edited": true}).Error
	if err != nil {
		return nil, err
	}
	s.touchChat(chatID)

	full, err := s.messageByID(msg.ID)
	if err != nil {
		return nil, err
	}

	chatCopy := *chat
	event := map[string]any{
		"type":      eventMessageUpdated,
		"chatId":    chatID,
		"branchId":  chat.BranchID,
		"message":   full,
		"timestamp": time.Now().Format(time.RFC3339Nano),
	}
	s.spawn(func() {
		s.broadcast(chatCopy, userID, token, event)
	})
	return full, nil
}

// Delete removes the caller's own message together with its attachments.
func (s *Service) Delete(ctx context.Context, userID, token, chatID, messageID string) error {
	chat, err := s.chatByID(chatID)
	if err != nil {
		return err
	}
	msg, err := s.ownMessage(userID, chatID, messageID)
	if err != nil {
		return err
	}

	err = s.DB.Where("message_id = ?", msg.ID).
		Delete(&models.ChatMessageAttachment{}).Error
	if err != nil {
		return err
	}
	if err := s.DB.Delete(&models.ChatMessage{}, "id = ?", msg.ID).Error; err != nil {
		return err
	}
	s.touchChat(chatID)

	chatCopy := *chat
	event := map[string]any{
		"type":      eventMessageDeleted,
		"chatId":    chatID,
		"branchId":  chat.BranchID,
		"messageId": messageID,
		"timestamp": time.Now().Format(time.RFC3339Nano),
	}
	s.spawn(func() {
		s.broadcast(chatCopy, userID, token, event)
	})
	return nil
}

func (s *Service) ownMessage(userID, chatID, messageID string) (*models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.DB.Where("id = ? AND chat_id = ?", messageID, chatID).
		Limit(1).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	if msgs[0].SenderID != userID {
		return nil, ErrNotMessageOwner
	}
	return &msgs[0], nil
}

// MarkRead stamps every unread message from other participants and tells
// their senders which messages were seen. Matching chat notifications of
// the reader flip to read as well.
func (s *Service) MarkRead(ctx context.Context, userID, token, chatID string) (int64, error) {
	chat, err := s.chatByID(chatID)
	if err != nil {
		return 0, err
	}
	ok, err := s.canAccess(ctx, userID, chat.BranchID, token)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrForbidden
	}

	var unread []models.ChatMessage
	err = s.DB.Where("chat_id = ? AND sender_id <> ? AND read_at IS NULL", chatID, userID).
		Find(&unread).Error
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}

	readAt := time.Now()
	ids := make([]string, 0, len(unread))
	for _, m := range unread {
		ids = append(ids, m.ID)
	}
	err = s.DB.Model(&models.ChatMessage{}).
		Where("id IN ?", ids).
		Update("read_at", readAt).Error
	if err != nil {
		return 0, err
	}

	type readMark struct {
		MessageID string `json:"messageId"`
		ReadAt    string `json:"readAt"`
	}
	bySender := make(map[string][]readMark)
	for _, m := range unread {
		bySender[m.SenderID] = append(bySender[m.SenderID], readMark{
			MessageID: m.ID,
			ReadAt:    readAt.Format(time.RFC3339Nano),
		})
	}
	for senderID, marks := range bySender {
		s.Hub.SendToUser(senderID, map[string]any{
			"type":     eventMessagesRead,
			"chatId":   chatID,
			"branchId": chat.BranchID,
			"readerId": userID,
			"messages": marks,
		})
	}

	toolID, err := s.Access.ToolID()
	if err != nil {
		s.Log.Warn("safety tool lookup failed", zap.Error(err))
	} else if err := s.Notify.MarkChatRead(userID, toolID, chat.BranchID); err != nil {
		s.Log.Warn("chat notifications not marked read",
			zap.String("userId", userID), zap.Error(err))
	}
	return int64(len(unread)), nil
}
