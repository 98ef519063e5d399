package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad room name", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: bad room name", err.Error())
}

func TestAppError_ErrorWithCause(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := Wrap(cause, ErrCodeConnection, "signaling connection failed", http.StatusBadGateway)

	assert.Contains(t, err.Error(), "CONNECTION_ERROR")
	assert.Contains(t, err.Error(), "dial tcp: refused")
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNotFoundError("room").
		WithContext("room_id", "r1").
		WithContext("participant_id", "p1")

	assert.Equal(t, "r1", err.Context["room_id"])
	assert.Equal(t, "p1", err.Context["participant_id"])
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
}

func TestGetAppError_Wrapped(t *testing.T) {
	inner := NewUnauthorizedError("token expired")
	outer := fmt.Errorf("handling auth frame: %w", inner)

	got := GetAppError(outer)
	assert.NotNil(t, got)
	assert.Equal(t, ErrCodeUnauthorized, got.Code)
}

func TestGetAppError_Plain(t *testing.T) {
	assert.Nil(t, GetAppError(stderrors.New("plain")))
	assert.Nil(t, GetAppError(nil))
	assert.False(t, IsAppError(stderrors.New("plain")))
}
