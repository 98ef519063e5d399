package http

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/internal/infrastructure/middleware"
	"commlink/pkg/utils"
	"commlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	roomService ports.RoomService
}

func NewRoomHandler(roomService ports.RoomService) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(auth)
	{
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.DELETE("/rooms/:id", h.DeleteRoom)
		api.POST("/rooms/:id/join", h.JoinRoom)
		api.POST("/rooms/:id/leave", h.LeaveRoom)
		api.GET("/rooms/:id/history", h.History)
		api.GET("/rooms/:id/members", h.Members)
		api.POST("/rooms/:id/messages", h.PostMessage)
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required,min=1,max=100"`
		Persistent bool   `json:"persistent"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateRoomName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), req.Name, req.Persistent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room": room,
	})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomService.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": room,
	})
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	if err := h.roomService.DeleteRoom(c.Request.Context(), roomID); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.roomService.JoinRoom(c.Request.Context(), roomID, domain.ParticipantID(userID)); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":        roomID,
		"participant_id": userID,
	})
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.roomService.LeaveRoom(c.Request.Context(), roomID, domain.ParticipantID(userID)); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) History(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	messages, err := h.roomService.History(c.Request.Context(), roomID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":  roomID,
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *RoomHandler) Members(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	members, err := h.roomService.Members(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id": roomID,
		"members": members,
		"count":   len(members),
	})
}

// PostMessage appends a message to the room history over REST. The
// relay path is the primary one; this endpoint exists for bots and
// integrations that have no WebSocket connection.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req struct {
		Text string `json:"text" binding:"required,max=65536"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateMessageText(req.Text); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := &domain.Message{
		ID:       domain.MessageID(utils.GenerateMessageID()),
		RoomID:   roomID,
		SenderID: domain.ParticipantID(userID),
		Kind:     domain.PayloadText,
		Text:     req.Text,
		Status:   domain.StatusSent,
		SentAt:   time.Now(),
	}

	if err := h.roomService.AppendMessage(c.Request.Context(), msg); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
	})
}

func (h *RoomHandler) writeError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, domain.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case stderrors.Is(err, domain.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
	case stderrors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
