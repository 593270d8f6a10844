package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"partner_portal/internal/access"
	"partner_portal/internal/auth"
	"partner_portal/internal/models"
)

// ListCheckers returns every user with checker access to the safety tool.
func ListCheckers(acc *access.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := acc.CheckerUsers()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load checkers"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checkers": users})
	}
}

// MyAccess tells the caller whether they hold checker rights.
func MyAccess(acc *access.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}
		isChecker, err := acc.IsChecker(claims.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve access"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"isChecker": isChecker})
	}
}

// ListUsers returns the portal accounts for mention and checker pickers.
func ListUsers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var users []models.User
		if err := db.Order("name ASC").Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}
