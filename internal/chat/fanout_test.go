package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partner_portal/internal/models"
)

func TestFullFanoutReachesResponsibles(t *testing.T) {
	svc, db, hub := newTestService(t, upstreamStub{
		responsibles: `[{"branch_id":"b1","branch_name":"Main street","responsibles":[{"employee_email":"resp@corp.ru"}]}]`,
	})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	resp := seedChatUser(t, db, "resp@corp.ru", models.RoleEmployee)

	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	respConn := hub.Register(resp.ID)

	msg, err := svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: boss.ID, Token: "tok", Text: "please sign the journal",
	})
	require.NoError(t, err)

	frame := recvFrame(t, respConn)
	assert.Equal(t, "chat_message", frame["event"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, chat.ID, data["chatId"])

	var notes []models.Notification
	require.NoError(t, db.Where("receiver_id = ?", resp.ID).Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, "New message: Main street", notes[0].Title)
	assert.Equal(t, "please sign the journal", notes[0].Message)
	assert.Equal(t, boss.ID, notes[0].SenderID)
	assert.Contains(t, string(notes[0].Action), "messageId="+msg.ID)
}

func TestFanoutSkipsNotificationForActiveViewer(t *testing.T) {
	svc, db, hub := newTestService(t, upstreamStub{
		responsibles: `[{"branch_id":"b1","responsibles":[{"employee_email":"resp@corp.ru"}]}]`,
	})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	resp := seedChatUser(t, db, "resp@corp.ru", models.RoleEmployee)

	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)

	respConn := hub.Register(resp.ID)
	hub.SetActiveChat(respConn, chat.ID)

	_, err = svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: boss.ID, Token: "tok", Text: "looking?",
	})
	require.NoError(t, err)

	frame := recvFrame(t, respConn)
	assert.Equal(t, "chat_message", frame["event"])
	mustNoFrame(t, respConn)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).
		Where("receiver_id = ?", resp.ID).Count(&count).Error)
	assert.Zero(t, count, "an open chat suppresses the notification")
}

func TestNotificationPreview(t *testing.T) {
	long := "The commission inspected the workshop and found two violations of the fire safety rules"
	cases := []struct {
		name string
		msg  models.ChatMessage
		want string
	}{
		{
			name: "short text unchanged",
			msg:  models.ChatMessage{Message: "all good"},
			want: "all good",
		},
		{
			name: "long text truncated",
			msg:  models.ChatMessage{Message: long},
			want: string([]rune(long)[:50]) + "...",
		},
		{
			name: "single attachment named",
			msg: models.ChatMessage{Message: " ", Attachments: []models.ChatMessageAttachment{
				{FileName: "act.pdf"},
			}},
			want: "📎 act.pdf",
		},
		{
			name: "many attachments counted",
			msg: models.ChatMessage{Message: " ", Attachments: []models.ChatMessageAttachment{
				{FileName: "a.pdf"}, {FileName: "b.pdf"},
			}},
			want: "📎 2 attachments",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, messagePreview(&tc.msg))
		})
	}
}

func TestEditAndDeleteBroadcastToOthers(t *testing.T) {
	svc, db, hub := newTestService(t, upstreamStub{})
	boss := seedChatUser(t, db, "boss@corp.ru", models.RoleSupervisor)
	peer := seedChatUser(t, db, "peer@corp.ru", models.RoleSupervisor)

	chat, err := svc.GetOrCreate(context.Background(), boss.ID, "tok", "b1", "")
	require.NoError(t, err)
	msg, err := svc.Send(context.Background(), SendInput{
		ChatID: chat.ID, SenderID: boss.ID, Token: "tok", Text: "draft",
	})
	require.NoError(t, err)

	peerConn := hub.Register(peer.ID)

	_, err = svc.Edit(context.Background(), boss.ID, "tok", chat.ID, msg.ID, "final")
	require.NoError(t, err)

	frame := recvFrame(t, peerConn)
	assert.Equal(t, "chat_message", frame["event"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "SAFETY_JOURNAL_MESSAGE_UPDATED", data["type"])
	assert.Equal(t, "final", data["message"].(map[string]any)["message"])

	require.NoError(t, svc.Delete(context.Background(), boss.ID, "tok", chat.ID, msg.ID))

	frame = recvFrame(t, peerConn)
	data = frame["data"].(map[string]any)
	assert.Equal(t, "SAFETY_JOURNAL_MESSAGE_DELETED", data["type"])
	assert.Equal(t, msg.ID, data["messageId"])
}
