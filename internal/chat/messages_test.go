package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"partner_portal/internal/models"
	"partner_portal/internal/realtime"
)

func recvFrame(t *testing.T, c *realtime.Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.Outbox():
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func mustNoFrame(t *testing.T, c *realtime.Client) {
	t.Helper()
	select {
	case raw := <-c.Outbox():
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func seedMessages(t *testing.T, db *gorm.DB, chatID, senderID string, n int) []models.ChatMessage {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]models.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		m := models.ChatMessage{
			ChatID:    chatID,
			SenderID:  senderID,
			Message:   fmt.Sprintf("msg-%02d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(&m).Error)
		out = append(out, m)
	}
	return out
}

func TestSendDeliversQuicklyToSenderAndChecker(t *testing.T) {
	svc, db, hub := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	peer := seedChatUser(t, db, "peer@corp.ru", models.RoleSupervisor)

	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	bossConn := hub.Register(boss.ID)
	peerConn := hub.Register(peer.ID)

	msg, err := svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: peer.ID, Token: "tok", Text: "  hello there  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Message)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, peer.Email, msg.Sender.Email)

	for _, conn := range []*realtime.Client{bossConn, peerConn} {
		frame := recvFrame(t, conn)
		assert.Equal(t, "chat_message", frame["event"])
		data := frame["data"].(map[string]any)
		assert.Equal(t, "SAFETY_JOURNAL_MESSAGE", data["type"])
		assert.Equal(t, chat.ID, data["chatId"])
		assert.Equal(t, "b1", data["branchId"])
	}

	// the checker was away from the chat, so a notification is queued
	var notes []models.Notification
	require.NoError(t, db.Where("receiver_id = ?", boss.ID).Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Contains(t, string(notes[0].Action), "branchId=b1")
	assert.Contains(t, string(notes[0].Action), "chatId="+chat.ID)
	assert.Contains(t, string(notes[0].Action), "messageId="+msg.ID)

	// never notify the sender about their own message
	var senderNotes int64
	require.NoError(t, db.Model(&models.Notification{}).
		Where("receiver_id = ?", peer.ID).Count(&senderNotes).Error)
	assert.Zero(t, senderNotes)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	svc, db, _ := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: boss.ID, Token: "tok", Text: "   ",
	})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendAttachmentOnlyUsesPlaceholder(t *testing.T) {
	svc, db, _ := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	msg, err := svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: boss.ID, Token: "tok",
		Attachments: []AttachmentInput{{
			FileName: "act.pdf", FileURL: "/files/act.pdf",
			FileSize: 1024, MimeType: "application/pdf",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, " ", msg.Message)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "act.pdf", msg.Attachments[0].FileName)
}

func TestSendRejectsCrossChatQuote(t *testing.T) {
	svc, db, _ := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)

	chatA, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)
	chatB, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b2", "")
	require.NoError(t, err)

	foreign, err := svc.Send(context.Background(), SendInput{
		ChatID: chatB.ID, SenderID: boss.ID, Token: "tok", Text: "other chat",
	})
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), SendInput{
		ChatID: chatA.ID, SenderID: boss.ID, Token: "tok",
		Text: "quoting", QuotedMessageID: foreign.ID,
	})
	assert.ErrorIs(t, err, ErrQuotedMessageInvalid)

	// quoting inside the same chat works
	reply, err := svc.Send(context.Background(), SendInput{
		ChatID: chatB.ID, SenderID: boss.ID, Token: "tok",
		Text: "quoting", QuotedMessageID: foreign.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.QuotedMessage)
	assert.Equal(t, "other chat", reply.QuotedMessage.Message)
}

func TestMessagesPagination(t *testing.T) {
	svc, db, _ := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)
	seedMessages(t, db, chat.ID, boss.ID, 55)

	ctx := context.Background()

	// default mode: the newest 20, oldest first
	res, err := svc.Messages(ctx, ListOptions{ChatID: chat.ID, UserID: boss.ID, Token: "tok", Limit: 20})
	require.NoError(t, err)
	require.Len(t, res.Messages, 20)
	assert.Equal(t, int64(55), res.Total)
	assert.True(t, res.HasMore)
	assert.Equal(t, "msg-35", res.Messages[0].Message)
	assert.Equal(t, "msg-54", res.Messages[19].Message)
	require.NotEmpty(t, res.NextCursor)

	// cursor mode: the 20 messages older than the cursor
	older, err := svc.Messages(ctx, ListOptions{
		ChatID: chat.ID, UserID: boss.ID, Token: "tok", Limit: 20, Before: res.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, older.Messages, 20)
	assert.True(t, older.HasMore)
	assert.Equal(t, "msg-15", older.Messages[0].Message)
	assert.Equal(t, "msg-34", older.Messages[19].Message)

	// page mode: the last page carries the remainder
	page3, err := svc.Messages(ctx, ListOptions{
		ChatID: chat.ID, UserID: boss.ID, Token: "tok", Limit: 20, Page: 3,
	})
	require.NoError(t, err)
	require.Len(t, page3.Messages, 15)
	assert.False(t, page3.HasMore)
	assert.Equal(t, "msg-00", page3.Messages[0].Message)
	assert.Equal(t, "msg-14", page3.Messages[14].Message)

	_, err = svc.Messages(ctx, ListOptions{
		ChatID: chat.ID, UserID: boss.ID, Token: "tok", Before: "not-a-time",
	})
	assert.ErrorIs(t, err, ErrBadCursor)
}

func TestEditOwnMessageOnly(t *testing.T) {
	svc, db, _ := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	peer := seedChatUser(t, db, "peer@corp.ru", models.RoleSupervisor)
	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	msg, err := svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: boss.ID, Token: "tok", Text: "tpyo",
	})
	require.NoError(t, err)

	_, err = svc.Edit(context.Background(), peer.ID, "tok", chat.ID, msg.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	edited, err := svc.Edit(context.Background(), boss.ID, "tok", chat.ID, msg.ID, "typo")
	require.NoError(t, err)
	assert.Equal(t, "typo", edited.Message)
	assert.True(t, edited.IsEdited)
}

func TestDeleteRemovesMessageAndAttachments(t *testing.T) {
	svc, db, _ := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	peer := seedChatUser(t, db, "peer@corp.ru", models.RoleSupervisor)
	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	msg, err := svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: boss.ID, Token: "tok", Text: "with file",
		Attachments: []AttachmentInput{{FileName: "a.txt", FileURL: "/files/a.txt"}},
	})
	require.NoError(t, err)

	err = svc.Delete(context.Background(), peer.ID, "tok", chat.ID, msg.ID)
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	require.NoError(t, svc.Delete(context.Background(), boss.ID, "tok", chat.ID, msg.ID))

	var msgCount, attCount int64
	require.NoError(t, db.Model(&models.ChatMessage{}).
		Where("id = ?", msg.ID).Count(&msgCount).Error)
	require.NoError(t, db.Model(&models.ChatMessageAttachment{}).
		Where("message_id = ?", msg.ID).Count(&attCount).Error)
	assert.Zero(t, msgCount)
	assert.Zero(t, attCount)

	err = svc.Delete(context.Background(), boss.ID, "tok", chat.ID, msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkReadStampsAndTellsSenders(t *testing.T) {
	svc, db, hub := newTestService(t, upstreamStub{})
	seedSafetyTool(t, db)
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	peer := seedChatUser(t, db, "peer@corp.ru", models.RoleSupervisor)

	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	sent, err := svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: peer.ID, Token: "tok", Text: "see this",
	})
	require.NoError(t, err)

	// the fanout queued an unread notification for the reader
	var pending models.Notification
	require.NoError(t, db.Where("receiver_id = ?", boss.ID).First(&pending).Error)
	assert.False(t, pending.Read)

	peerConn := hub.Register(peer.ID)

	n, err := svc.MarkRead(context.Background(), boss.ID, "tok", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var stamped models.ChatMessage
	require.NoError(t, db.First(&stamped, "id = ?", sent.ID).Error)
	require.NotNil(t, stamped.ReadAt)

	frame := recvFrame(t, peerConn)
	assert.Equal(t, "notification", frame["event"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "SAFETY_JOURNAL_MESSAGES_READ", data["type"])
	assert.Equal(t, boss.ID, data["readerId"])
	marks := data["messages"].([]any)
	require.Len(t, marks, 1)
	assert.Equal(t, sent.ID, marks[0].(map[string]any)["messageId"])

	require.NoError(t, db.First(&pending, "id = ?", pending.ID).Error)
	assert.True(t, pending.Read, "the reader's chat notification flips to read")

	// nothing left to mark
	n, err = svc.MarkRead(context.Background(), boss.ID, "tok", chat.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
