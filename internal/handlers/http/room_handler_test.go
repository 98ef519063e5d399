package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commlink/internal/core/services"
	"commlink/internal/infrastructure/middleware"
	"commlink/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := services.NewAuthService("test-secret", time.Minute, time.Hour)
	roomService := services.NewRoomService(memory.NewMemoryRoomRepository(), 100)

	router := gin.New()
	NewRoomHandler(roomService).SetupRoutes(router, middleware.AuthMiddleware(auth))

	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	return router, token
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createRoom(t *testing.T, router *gin.Engine, token, name string) string {
	t.Helper()

	w := doJSON(t, router, http.MethodPost, "/api/v1/rooms", token, gin.H{"name": name})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Room.ID)
	return resp.Room.ID
}

func TestRoomHandler_RequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoomHandler_CreateAndGet(t *testing.T) {
	router, token := newTestRouter(t)

	id := createRoom(t, router, token, "general")

	w := doJSON(t, router, http.MethodGet, "/api/v1/rooms/"+id, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "general")

	w = doJSON(t, router, http.MethodGet, "/api/v1/rooms/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomHandler_JoinPostHistory(t *testing.T) {
	router, token := newTestRouter(t)
	id := createRoom(t, router, token, "general")

	w := doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+id+"/join", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+id+"/messages", token, gin.H{"text": "hello"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/rooms/"+id+"/history", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")

	w = doJSON(t, router, http.MethodGet, "/api/v1/rooms/"+id+"/members", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice")
}

func TestRoomHandler_PostWithoutMembershipForbidden(t *testing.T) {
	router, token := newTestRouter(t)
	id := createRoom(t, router, token, "general")

	w := doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+id+"/messages", token, gin.H{"text": "hello"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoomHandler_HistoryLimitValidation(t *testing.T) {
	router, token := newTestRouter(t)
	id := createRoom(t, router, token, "general")

	w := doJSON(t, router, http.MethodGet, "/api/v1/rooms/"+id+"/history?limit=-1", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
