package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"partner_portal/internal/auth"
	"partner_portal/internal/chat"
)

// chatStatus maps service errors onto HTTP codes.
func chatStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, chat.ErrCheckerNotFound),
		errors.Is(err, chat.ErrNoCheckerAvailable):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNotMessageOwner):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrQuotedMessageInvalid),
		errors.Is(err, chat.ErrBadCursor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortChatErr(c *gin.Context, err error) {
	c.JSON(chatStatus(err), gin.H{"error": err.Error()})
}

// GetOrCreateChat opens the branch chat, creating it on first access.
// An optional checkerId query pins the checker for a fresh chat.
func GetOrCreateChat(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}
		branchID := c.Param("branchId")
		checkerID := c.Query("checkerId")

		out, err := svc.GetOrCreate(c.Request.Context(), claims.UserID, auth.Token(c), branchID, checkerID)
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat": out})
	}
}

// ListChats returns the chats visible to the caller, optionally narrowed
// to one branch.
func ListChats(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}
		out, err := svc.List(claims.UserID, c.Query("branchId"))
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chats": out})
	}
}

// BranchesWithChats is the checker overview of branches and their chats.
func BranchesWithChats(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}
		out, err := svc.BranchesWithChats(c.Request.Context(), claims.UserID, auth.Token(c))
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"branches": out})
	}
}

// ListMessages pages through a chat's history. Mutually exclusive query
// params pick the mode: page wins over before; neither returns the newest
// messages.
func ListMessages(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		page, _ := strconv.Atoi(c.Query("page"))

		out, err := svc.Messages(c.Request.Context(), chat.ListOptions{
			ChatID: c.Param("chatId"),
			UserID: claims.UserID,
			Token:  auth.Token(c),
			Limit:  limit,
			Page:   page,
			Before: c.Query("before"),
		})
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// SendMessage posts a message with optional quote and attachments.
func SendMessage(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}

		var input struct {
			Message         string                 `json:"message"`
			QuotedMessageID string                 `json:"quotedMessageId"`
			Attachments     []chat.AttachmentInput `json:"attachments"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		msg, err := svc.Send(c.Request.Context(), chat.SendInput{
			ChatID:          c.Param("chatId"),
			SenderID:        claims.UserID,
			Token:           auth.Token(c),
			Text:            input.Message,
			QuotedMessageID: input.QuotedMessageID,
			Attachments:     input.Attachments,
		})
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}

// UpdateMessage edits the caller's own message.
func UpdateMessage(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}

		var input struct {
			Message string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		msg, err := svc.Edit(c.Request.Context(), claims.UserID, auth.Token(c),
			c.Param("chatId"), c.Param("messageId"), input.Message)
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	}
}

// DeleteMessage removes the caller's own message.
func DeleteMessage(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}

		err := svc.Delete(c.Request.Context(), claims.UserID, auth.Token(c),
			c.Param("chatId"), c.Param("messageId"))
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// MarkMessagesRead stamps everything unread in the chat as seen by the
// caller.
func MarkMessagesRead(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}

		n, err := svc.MarkRead(c.Request.Context(), claims.UserID, auth.Token(c), c.Param("chatId"))
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"markedRead": n})
	}
}

// ChatParticipants lists everyone who can take part in the branch chat.
func ChatParticipants(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.MustClaims(c); !ok {
			return
		}
		out, err := svc.Participants(c.Request.Context(), auth.Token(c), c.Param("branchId"))
		if err != nil {
			abortChatErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"participants": out})
	}
}
