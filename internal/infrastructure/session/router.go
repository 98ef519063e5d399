package session

import (
	"sync"

	"commlink/internal/infrastructure/signal"

	"go.uber.org/zap"
)

// HandlerFunc processes one inbound frame. Handlers run on the read
// loop goroutine, in frame arrival order; a slow handler delays every
// frame behind it.
type HandlerFunc func(frame signal.Frame)

// Router dispatches inbound frames to the handler registered for the
// frame's type. Dispatch is fire-and-forget: handler errors are the
// handler's problem, the router keeps going.
type Router struct {
	mu       sync.RWMutex
	handlers map[signal.FrameType]HandlerFunc
	fallback HandlerFunc

	logger *zap.SugaredLogger
}

func NewRouter(logger *zap.SugaredLogger) *Router {
	return &Router{
		handlers: make(map[signal.FrameType]HandlerFunc),
		logger:   logger,
	}
}

// Register installs the handler for a frame type. Each type has
// exactly one handler; registering again replaces the previous one.
func (r *Router) Register(t signal.FrameType, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// SetFallback installs a handler for frame types with no registration.
func (r *Router) SetFallback(h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Dispatch routes one frame. Frames with no handler and no fallback
// are logged and dropped, never an error.
func (r *Router) Dispatch(frame signal.Frame) {
	r.mu.RLock()
	handler := r.handlers[frame.Type]
	fallback := r.fallback
	r.mu.RUnlock()

	if handler == nil {
		if fallback != nil {
			fallback(frame)
			return
		}
		r.logger.Debugw("no handler for frame", "type", frame.Type)
		return
	}

	handler(frame)
}
