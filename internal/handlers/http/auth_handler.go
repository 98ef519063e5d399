package http

import (
	"net/http"
	"strings"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/services"
	"commlink/pkg/errors"
	"commlink/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AuthHandler struct {
	authService    services.AuthService
	accessTokenTTL time.Duration
}

func NewAuthHandler(authService services.AuthService, accessTokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		accessTokenTTL: accessTokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/login", h.Login)
		api.POST("/refresh", h.RefreshToken)
	}
}

type LoginRequest struct {
	ParticipantID string `json:"participant_id" binding:"max=64"`
	DisplayName   string `json:"display_name" binding:"required,min=1,max=100"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

// Login issues a token pair for a participant. When no participant id
// is supplied a fresh one is generated.
//
// TODO: validate credentials against a user directory once one exists;
// until then any display name gets a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		c.Error(errors.NewInvalidInputError("display_name must not be blank"))
		return
	}

	participantID := strings.TrimSpace(req.ParticipantID)
	if participantID == "" {
		participantID = uuid.New().String()
	} else if err := validation.ValidateParticipantID(participantID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	userID := domain.UserID(participantID)

	accessToken, err := h.authService.GenerateToken(userID, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	refreshToken, err := h.authService.GenerateRefreshToken(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate refresh token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant_id": participantID,
		"display_name":   req.DisplayName,
		"access_token":   accessToken,
		"refresh_token":  refreshToken,
		"expires_in":     int(h.accessTokenTTL / time.Second),
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	accessToken, err := h.authService.GenerateToken(claims.UserID, claims.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"expires_in":   int(h.accessTokenTTL / time.Second),
	})
}
