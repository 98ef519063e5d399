package session

import (
	"testing"

	"commlink/internal/infrastructure/signal"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRouter_DispatchByType(t *testing.T) {
	router := NewRouter(zap.NewNop().Sugar())

	var calls []string
	router.Register(signal.FrameMessage, func(signal.Frame) { calls = append(calls, "message") })
	router.Register(signal.FrameTyping, func(signal.Frame) { calls = append(calls, "typing") })

	router.Dispatch(signal.Frame{Type: signal.FrameMessage})
	router.Dispatch(signal.Frame{Type: signal.FrameTyping})
	router.Dispatch(signal.Frame{Type: signal.FrameMessage})

	assert.Equal(t, []string{"message", "typing", "message"}, calls)
}

func TestRouter_RegisterReplacesHandler(t *testing.T) {
	router := NewRouter(zap.NewNop().Sugar())

	var calls []string
	router.Register(signal.FrameMessage, func(signal.Frame) { calls = append(calls, "old") })
	router.Register(signal.FrameMessage, func(signal.Frame) { calls = append(calls, "new") })

	router.Dispatch(signal.Frame{Type: signal.FrameMessage})

	assert.Equal(t, []string{"new"}, calls, "a type has exactly one handler, the latest registration")
}

func TestRouter_Fallback(t *testing.T) {
	router := NewRouter(zap.NewNop().Sugar())

	var fallbackType signal.FrameType
	router.SetFallback(func(frame signal.Frame) { fallbackType = frame.Type })

	// Unknown types land in the fallback without error.
	router.Dispatch(signal.Frame{Type: "bogus"})
	assert.Equal(t, signal.FrameType("bogus"), fallbackType)

	// No handler and no fallback is a silent drop.
	bare := NewRouter(zap.NewNop().Sugar())
	bare.Dispatch(signal.Frame{Type: signal.FrameMessage})
}
