package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/infrastructure/signal"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Send when the offline queue is at
// capacity. The frame is dropped, never silently queued over budget.
var ErrQueueFull = errors.New("outbound queue full")

type ConnectionManagerConfig struct {
	URL           string
	Token         string
	ParticipantID domain.ParticipantID
	DisplayName   string

	AuthTimeout   time.Duration
	BackoffBase   time.Duration
	MaxAttempts   int
	OutboundQueue int
	WriteTimeout  time.Duration
}

// ConnectionManager owns the client's WebSocket connection: the
// auth-first handshake, reconnection with linear backoff, and a
// bounded FIFO queue for frames sent while offline. Queued frames are
// flushed, oldest first, before anything sent after reconnect.
//
// State machine: Disconnected -> Connecting -> Connected;
// a drop moves Connected -> Reconnecting, which retries until it
// reaches Connected again or exhausts MaxAttempts and lands in
// Failed. Failed is terminal until the next explicit Connect.
type ConnectionManager struct {
	cfg    ConnectionManagerConfig
	dialer *websocket.Dialer
	router *Router
	logger *zap.SugaredLogger

	mu             sync.Mutex
	state          domain.ConnectionState
	conn           *websocket.Conn
	queue          []signal.Frame
	attempt        int
	reconnectTimer *time.Timer
	closed         bool

	writeMu sync.Mutex

	onStateChange func(from, to domain.ConnectionState)
}

func NewConnectionManager(cfg ConnectionManagerConfig, router *Router, logger *zap.SugaredLogger) *ConnectionManager {
	return &ConnectionManager{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		router: router,
		logger: logger,
		state:  domain.ConnDisconnected,
	}
}

// OnStateChange registers a callback for state transitions. It runs
// on the manager's goroutine with no locks held, so it may call back
// into the manager; keep it fast.
func (m *ConnectionManager) OnStateChange(fn func(from, to domain.ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

func (m *ConnectionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// setState must be called with mu held. The returned closure delivers
// the OnStateChange callback and must be invoked after mu is released;
// it is nil when nothing changed or no callback is registered.
func (m *ConnectionManager) setState(next domain.ConnectionState) func() {
	if m.state == next {
		return nil
	}
	prev := m.state
	m.state = next
	m.logger.Infow("connection state changed", "from", prev.String(), "to", next.String())
	fn := m.onStateChange
	if fn == nil {
		return nil
	}
	return func() { fn(prev, next) }
}

func runNotify(notify func()) {
	if notify != nil {
		notify()
	}
}

// Connect starts the connection. A manager in Failed state is revived:
// the attempt counter resets and dialing starts over.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if m.state == domain.ConnConnected || m.state == domain.ConnConnecting {
		m.mu.Unlock()
		return nil
	}
	m.attempt = 0
	notify := m.setState(domain.ConnConnecting)
	m.mu.Unlock()
	runNotify(notify)

	return m.establish(ctx)
}

func (m *ConnectionManager) establish(ctx context.Context) error {
	conn, err := m.dial(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRejected) {
			// A rejected credential will not get better with retries.
			m.mu.Lock()
			notify := m.setState(domain.ConnFailed)
			m.mu.Unlock()
			runNotify(notify)
			return err
		}
		m.scheduleReconnect()
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return domain.ErrConnectionClosed
	}
	m.conn = conn
	m.mu.Unlock()

	// Drain the offline queue in FIFO order before the Connected flip
	// lets direct sends onto the socket. Sends racing the drain still
	// see a non-Connected state and keep queueing, so the next pass
	// picks them up in order.
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.attempt = 0
			notify := m.setState(domain.ConnConnected)
			m.mu.Unlock()
			runNotify(notify)
			break
		}
		pending := m.queue
		m.queue = nil
		m.mu.Unlock()

		if err := m.flush(conn, pending); err != nil {
			// The unsent remainder is back in the queue; the read loop
			// surfaces the dead connection and schedules the retry.
			break
		}
	}

	go m.readLoop(conn)
	return nil
}

// flush writes pending frames oldest first. On a write error the
// remainder is pushed back to the front of the queue.
func (m *ConnectionManager) flush(conn *websocket.Conn, pending []signal.Frame) error {
	for i, frame := range pending {
		if err := m.write(conn, frame); err != nil {
			m.mu.Lock()
			remainder := append([]signal.Frame{}, pending[i:]...)
			m.queue = append(remainder, m.queue...)
			m.mu.Unlock()
			m.logger.Warnw("flush interrupted, requeued pending frames",
				"requeued", len(pending)-i, "error", err)
			return err
		}
	}
	return nil
}

// dial opens the socket and runs the auth-first handshake: auth frame
// out, auth_ok back inside AuthTimeout.
func (m *ConnectionManager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}

	authFrame, err := signal.NewFrame(signal.FrameAuth, signal.AuthPayload{
		Token:         m.cfg.Token,
		ParticipantID: m.cfg.ParticipantID,
		DisplayName:   m.cfg.DisplayName,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteJSON(authFrame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending auth frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(m.cfg.AuthTimeout))
	var ack signal.Frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, domain.ErrAuthTimeout
		}
		return nil, fmt.Errorf("reading auth ack: %w", err)
	}

	switch ack.Type {
	case signal.FrameAuthOK:
		conn.SetReadDeadline(time.Time{})
		return conn, nil
	case signal.FrameError:
		conn.Close()
		var payload signal.ErrorPayload
		if err := json.Unmarshal(ack.Payload, &payload); err == nil {
			m.logger.Warnw("auth rejected", "code", payload.Code, "message", payload.Message)
		}
		return nil, domain.ErrAuthRejected
	default:
		conn.Close()
		return nil, domain.ErrProtocol
	}
}

func (m *ConnectionManager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		// A frame that does not decode is the sender's problem, not
		// the socket's: drop it and keep reading.
		var frame signal.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Warnw("dropping malformed frame", "error", err)
			continue
		}

		if frame.Type == signal.FramePing {
			pong, _ := signal.NewFrame(signal.FramePong, nil)
			if err := m.write(conn, pong); err != nil {
				m.handleDisconnect(conn, err)
				return
			}
			continue
		}

		m.router.Dispatch(frame)
	}
}

func (m *ConnectionManager) handleDisconnect(conn *websocket.Conn, err error) {
	conn.Close()

	m.mu.Lock()
	if m.conn != conn {
		// A newer connection already took over.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.closed {
		notify := m.setState(domain.ConnDisconnected)
		m.mu.Unlock()
		runNotify(notify)
		return
	}
	notify := m.setState(domain.ConnReconnecting)
	m.mu.Unlock()
	runNotify(notify)

	m.logger.Warnw("connection lost", "error", err)
	m.scheduleReconnect()
}

// scheduleReconnect arms the retry timer with a linear backoff: the
// delay grows by BackoffBase with every consecutive failed attempt.
func (m *ConnectionManager) scheduleReconnect() {
	m.mu.Lock()

	if m.closed || m.state == domain.ConnConnected {
		m.mu.Unlock()
		return
	}

	m.attempt++
	if m.attempt > m.cfg.MaxAttempts {
		m.logger.Errorw("reconnect attempts exhausted", "attempts", m.cfg.MaxAttempts)
		notify := m.setState(domain.ConnFailed)
		m.mu.Unlock()
		runNotify(notify)
		return
	}

	var notify func()
	if m.state != domain.ConnConnecting {
		notify = m.setState(domain.ConnReconnecting)
	}

	delay := time.Duration(m.attempt) * m.cfg.BackoffBase
	m.logger.Infow("scheduling reconnect", "attempt", m.attempt, "delay", delay)

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		if err := m.establish(context.Background()); err != nil {
			m.logger.Debugw("reconnect attempt failed", "error", err)
		}
	})
	m.mu.Unlock()
	runNotify(notify)
}

// Send transmits a frame, or queues it FIFO while the connection is
// down. Failed and closed managers reject sends outright.
func (m *ConnectionManager) Send(frame signal.Frame) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if m.state == domain.ConnFailed {
		m.mu.Unlock()
		return domain.ErrConnectionFailed
	}
	conn := m.conn
	if m.state != domain.ConnConnected || conn == nil {
		if len(m.queue) >= m.cfg.OutboundQueue {
			m.mu.Unlock()
			return ErrQueueFull
		}
		m.queue = append(m.queue, frame)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.write(conn, frame)
}

func (m *ConnectionManager) write(conn *websocket.Conn, frame signal.Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteJSON(frame)
}

// QueuedFrames reports how many frames wait for the next reconnect.
func (m *ConnectionManager) QueuedFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close tears the connection down for good: the retry timer is
// stopped, the socket closed, and all future Sends rejected.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	notify := m.setState(domain.ConnDisconnected)
	m.mu.Unlock()
	runNotify(notify)

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}
