package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/access"
	"partner_portal/internal/auth"
	"partner_portal/internal/chat"
	"partner_portal/internal/http/handlers"
	"partner_portal/internal/journals"
	"partner_portal/internal/realtime"
)

func NewRouter(db *gorm.DB, jwtSecret string, acc *access.Resolver, svc *chat.Service, jc *journals.Client, hub *realtime.Hub, log *zap.Logger) *gin.Engine {
	r := gin.Default()

	// favicon fix
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Public routes
	r.POST("/api/auth/login", handlers.LoginHandler(db, jwtSecret))
	r.GET("/logout", handlers.LogoutHandler())

	authMW := auth.JWT(db, jwtSecret)

	// Realtime channel for chat frames and notifications
	r.GET("/ws", authMW, handlers.ChatWS(hub, log))

	api := r.Group("/api", authMW)
	{
		api.GET("/users", handlers.ListUsers(db))

		safety := api.Group("/safety")
		{
			safety.GET("/access", handlers.MyAccess(acc))
			safety.GET("/checkers", handlers.ListCheckers(acc))
			safety.GET("/participants/:branchId", handlers.ChatParticipants(svc))

			// Chats
			safety.GET("/chats", handlers.ListChats(svc))
			safety.GET("/chats/branch/:branchId", handlers.GetOrCreateChat(svc))
			safety.GET("/branches", handlers.BranchesWithChats(svc))

			// Messages
			safety.GET("/chats/:chatId/messages", handlers.ListMessages(svc))
			safety.POST("/chats/:chatId/messages", handlers.SendMessage(svc))
			safety.PUT("/chats/:chatId/messages/:messageId", handlers.UpdateMessage(svc))
			safety.DELETE("/chats/:chatId/messages/:messageId", handlers.DeleteMessage(svc))
			safety.POST("/chats/:chatId/read", handlers.MarkMessagesRead(svc))

			// Journal service passthrough
			safety.GET("/journals/branches", handlers.MyJournalBranches(jc))
			safety.PATCH("/journals/branches/:branchId/journals/:journalId/decision", handlers.SubmitJournalDecision(jc))
		}
	}

	return r
}
