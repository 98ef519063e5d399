package middleware

import (
	"context"
	"net/http"
	"strings"

	"commlink/internal/core/domain"
	"commlink/internal/core/services"
	"commlink/pkg/logger"

	"github.com/gin-gonic/gin"
)

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("display_name", claims.DisplayName)
		ctx := services.ContextWithUser(c.Request.Context(), claims.UserID)
		ctx = context.WithValue(ctx, logger.ParticipantIDKey, string(claims.UserID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			if claims, err := authService.ValidateToken(parts[1]); err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("display_name", claims.DisplayName)
				c.Request = c.Request.WithContext(
					services.ContextWithUser(c.Request.Context(), claims.UserID))
			}
		}

		c.Next()
	}
}

// UserID returns the authenticated user from the gin context. The
// second return is false on unauthenticated requests.
func UserID(c *gin.Context) (domain.UserID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := val.(domain.UserID)
	return id, ok
}
