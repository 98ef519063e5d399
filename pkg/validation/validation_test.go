package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("room_abc-123"))
	assert.Error(t, ValidateRoomID(""))
	assert.Error(t, ValidateRoomID("room with spaces"))
	assert.Error(t, ValidateRoomID(strings.Repeat("a", 101)))
}

func TestValidateParticipantID(t *testing.T) {
	assert.NoError(t, ValidateParticipantID("part_9f2c"))
	assert.Error(t, ValidateParticipantID(""))
	assert.Error(t, ValidateParticipantID("p!@#"))
}

func TestValidateRoomName(t *testing.T) {
	assert.NoError(t, ValidateRoomName("Backend Hiring"))
	assert.Error(t, ValidateRoomName("   "))
	assert.Error(t, ValidateRoomName(strings.Repeat("x", 101)))
}

func TestValidateMessageText(t *testing.T) {
	assert.NoError(t, ValidateMessageText("hello"))
	assert.Error(t, ValidateMessageText(" "))
	assert.Error(t, ValidateMessageText(strings.Repeat("x", 10001)))
}

func TestValidateSDP(t *testing.T) {
	valid := "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	assert.NoError(t, ValidateSDP(valid))
	assert.Error(t, ValidateSDP(""))
	assert.Error(t, ValidateSDP("o=- 0 0"))
	assert.Error(t, ValidateSDP("v=0\r\no=- 0 0\r\n"))
}
