package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"partner_portal/internal/models"
)

// Claims represents the JWT claims structure.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// JWT returns a Gin middleware that validates JWT tokens from
// either the Authorization header or a "token" cookie and verifies
// that the user still exists in the database. The raw bearer token is
// kept in the context so handlers can pass it through to the journal
// service.
func JWT(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.GetHeader("Authorization")

		// ✅ Fallback: read from cookie if no Authorization header
		if tokenStr == "" {
			if cookie, err := c.Cookie("token"); err == nil {
				tokenStr = "Bearer " + cookie
			}
		}

		// If still missing, decide response format based on the request.
		if tokenStr == "" {
			accept := c.GetHeader("Accept")
			if strings.Contains(accept, "text/html") && c.Request.Method == "GET" {
				// For browser navigation requests, redirect to login page.
				c.Redirect(http.StatusSeeOther, "/login")
				c.Abort()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		// Trim "Bearer " prefix
		tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
		tokenStr = strings.TrimSpace(tokenStr)

		// Parse the JWT
		token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})

		if err != nil || !token.Valid {
			accept := c.GetHeader("Accept")
			if strings.Contains(accept, "text/html") && c.Request.Method == "GET" {
				c.Redirect(http.StatusSeeOther, "/login")
				c.Abort()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		// Extract claims
		claims, ok := token.Claims.(*Claims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}

		// Verify user still exists
		var user models.User
		if err := db.First(&user, "id = ?", claims.UserID).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			c.Abort()
			return
		}

		// Set claims in context and proceed
		c.Set("claims", claims)
		c.Set("accessToken", tokenStr)
		c.Next()
	}
}

// MustClaims pulls the parsed claims out of the request context. The JWT
// middleware always sets them, so a miss aborts with 401.
func MustClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get("claims")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		c.Abort()
		return nil, false
	}
	claims, ok := v.(*Claims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
		c.Abort()
		return nil, false
	}
	return claims, true
}

// Token returns the raw bearer token stored by the JWT middleware.
func Token(c *gin.Context) string {
	return c.GetString("accessToken")
}
