package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/internal/core/services"
	"commlink/pkg/tracing"
	"commlink/pkg/utils"
	"commlink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FrameBus routes frames to participants connected to other relay
// instances. A nil bus limits routing to the local instance.
type FrameBus interface {
	PublishToParticipant(ctx context.Context, target domain.ParticipantID, frame Frame) error
}

// Metrics is the subset of the monitoring collector the relay reports
// into. A nil Metrics disables reporting.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameReceived(frameType string)
	FrameRejected(frameType, reason string)
	RecordRoomCreated(roomID domain.RoomID)
	RecordRoomClosed(roomID domain.RoomID)
	SetRoomMembers(roomID domain.RoomID, count int)
	RecordRoomMessage(roomID domain.RoomID)
	RecordSignalRoundTrip(duration time.Duration)
	RecordSessionDuration(duration time.Duration)
}

// RelayServerConfig carries the tunables the relay needs from the
// top-level config.
type RelayServerConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	HandshakeWindow   time.Duration
	FramesPerSecond   float64
	MaxFrameSizeBytes int64
	AllowedOrigins    []string
}

type client struct {
	conn          *websocket.Conn
	participantID domain.ParticipantID
	displayName   string
	limiter       *rate.Limiter

	writeMu sync.Mutex
}

func (c *client) writeFrame(timeout time.Duration, frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(frame)
}

// RelayServer accepts WebSocket connections, authenticates them, and
// routes frames: room frames fan out to every other member, signaling
// frames (offer/answer/candidate) go to one explicit target.
type RelayServer struct {
	roomService ports.RoomService
	authService services.AuthService
	registry    ports.ParticipantRegistry
	bus         FrameBus
	metrics     Metrics

	instanceID string
	cfg        RelayServerConfig
	upgrader   websocket.Upgrader

	clients map[domain.ParticipantID]*client
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

func NewRelayServer(
	roomService ports.RoomService,
	authService services.AuthService,
	registry ports.ParticipantRegistry,
	bus FrameBus,
	metrics Metrics,
	cfg RelayServerConfig,
	logger *zap.SugaredLogger,
) *RelayServer {
	s := &RelayServer{
		roomService: roomService,
		authService: authService,
		registry:    registry,
		bus:         bus,
		metrics:     metrics,
		instanceID:  utils.GenerateInstanceID(),
		cfg:         cfg,
		clients:     make(map[domain.ParticipantID]*client),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// InstanceID identifies this relay in the participant registry.
func (s *RelayServer) InstanceID() string {
	return s.instanceID
}

// SetDistribution attaches the shared registry and frame bus for
// multi-instance routing. Must be called before the first connection
// is accepted; the registry and bus are keyed on InstanceID.
func (s *RelayServer) SetDistribution(registry ports.ParticipantRegistry, bus FrameBus) {
	s.registry = registry
	s.bus = bus
}

func (s *RelayServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.cfg.MaxFrameSizeBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxFrameSizeBytes)
	}

	cl, err := s.authenticate(conn)
	if err != nil {
		s.logger.Warnw("handshake failed", "remote", r.RemoteAddr, "error", err)
		s.sendError(conn, "auth_failed", err.Error())
		return
	}

	s.register(cl)
	defer s.unregister(cl)

	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		connectedAt := time.Now()
		defer func() {
			s.metrics.RecordSessionDuration(time.Since(connectedAt))
			s.metrics.ConnectionClosed()
		}()
	}

	s.logger.Infow("participant connected", "participant_id", cl.participantID)
	s.serve(cl)
}

// authenticate runs the auth-first handshake: the first frame on a new
// connection must be an auth frame carrying a valid token, inside the
// handshake window. Anything else closes the connection.
func (s *RelayServer) authenticate(conn *websocket.Conn) (*client, error) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeWindow))

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading auth frame: %w", err)
	}
	if frame.Type != FrameAuth {
		return nil, domain.ErrProtocol
	}

	var payload AuthPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid auth payload: %w", err)
	}
	if err := validation.ValidateParticipantID(string(payload.ParticipantID)); err != nil {
		return nil, err
	}

	claims, err := s.authService.ValidateToken(payload.Token)
	if err != nil {
		return nil, domain.ErrAuthRejected
	}

	cl := &client{
		conn:          conn,
		participantID: payload.ParticipantID,
		displayName:   payload.DisplayName,
		limiter:       rate.NewLimiter(rate.Limit(s.cfg.FramesPerSecond), int(s.cfg.FramesPerSecond)+1),
	}
	if cl.displayName == "" {
		cl.displayName = claims.DisplayName
	}

	ack, err := NewFrame(FrameAuthOK, AuthOKPayload{ParticipantID: cl.participantID})
	if err != nil {
		return nil, err
	}
	if err := cl.writeFrame(s.cfg.WriteTimeout, ack); err != nil {
		return nil, fmt.Errorf("sending auth ack: %w", err)
	}

	return cl, nil
}

func (s *RelayServer) register(cl *client) {
	s.mu.Lock()
	existing, isReconnect := s.clients[cl.participantID]
	if isReconnect && existing != nil {
		// The new connection wins; the stale one is torn down.
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting participant",
			"participant_id", cl.participantID)
	}
	s.clients[cl.participantID] = cl
	s.mu.Unlock()

	if s.registry != nil {
		if err := s.registry.Register(context.Background(), cl.participantID, s.instanceID); err != nil {
			s.logger.Warnw("failed to register participant", "participant_id", cl.participantID, "error", err)
		}
	}
}

func (s *RelayServer) unregister(cl *client) {
	s.mu.Lock()
	if current, ok := s.clients[cl.participantID]; ok && current == cl {
		delete(s.clients, cl.participantID)
	} else {
		// A reconnect already replaced this client; leave the new
		// registration alone.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx := context.Background()
	if s.registry != nil {
		if err := s.registry.Unregister(ctx, cl.participantID); err != nil {
			s.logger.Warnw("failed to unregister participant", "participant_id", cl.participantID, "error", err)
		}
	}
	s.broadcastDeparture(ctx, cl.participantID)
	s.logger.Infow("participant disconnected", "participant_id", cl.participantID)
}

func (s *RelayServer) serve(cl *client) {
	conn := cl.conn
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	frameChan := make(chan Frame, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

			// Undecodable frames cost the sender the frame, not the
			// connection.
			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				s.logger.Warnw("dropping malformed frame",
					"participant_id", cl.participantID, "error", err)
				if s.metrics != nil {
					s.metrics.FrameRejected("unknown", "malformed")
				}
				continue
			}
			frameChan <- frame
		}
	}()

	for {
		select {
		case frame := <-frameChan:
			if !cl.limiter.Allow() {
				if s.metrics != nil {
					s.metrics.FrameRejected(string(frame.Type), "rate_limited")
				}
				s.sendError(conn, "rate_limited", "frame rate limit exceeded")
				continue
			}
			if s.metrics != nil {
				s.metrics.FrameReceived(string(frame.Type))
			}
			if err := s.handleFrame(context.Background(), cl, frame); err != nil {
				s.logger.Infow("error handling frame",
					"participant_id", cl.participantID, "type", frame.Type, "error", err)
				s.sendError(conn, "bad_frame", err.Error())
			}

		case <-pingTicker.C:
			cl.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			cl.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "participant_id", cl.participantID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading frame", "participant_id", cl.participantID, "error", err)
			}
			return
		}
	}
}

func (s *RelayServer) handleFrame(ctx context.Context, cl *client, frame Frame) error {
	if frame.Type == "" {
		return fmt.Errorf("frame type is required")
	}
	// The relay stamps the sender; clients cannot spoof From.
	frame.From = cl.participantID

	ctx, span := tracing.TraceFrame(ctx, string(frame.Type), string(cl.participantID))
	defer span.End()

	switch frame.Type {
	case FramePing:
		pong, _ := NewFrame(FramePong, nil)
		return cl.writeFrame(s.cfg.WriteTimeout, pong)
	case FramePong:
		return nil
	case FrameCreateRoom:
		return s.handleCreateRoom(ctx, cl, frame)
	case FrameJoin:
		return s.handleJoin(ctx, cl, frame)
	case FrameLeave:
		return s.handleLeave(ctx, cl, frame)
	case FrameMessage:
		return s.handleMessage(ctx, cl, frame)
	case FrameFile, FrameTyping, FrameReaction, FrameRead:
		return s.fanOut(ctx, cl.participantID, frame)
	case FrameEdit:
		return s.handleEdit(ctx, cl, frame)
	case FrameDelete:
		return s.handleDelete(ctx, cl, frame)
	case FrameOffer, FrameAnswer, FrameCandidate:
		start := time.Now()
		err := s.routeSignal(ctx, cl, frame)
		if s.metrics != nil {
			s.metrics.RecordSignalRoundTrip(time.Since(start))
		}
		return err
	default:
		return fmt.Errorf("unknown frame type: %s", frame.Type)
	}
}

func (s *RelayServer) handleCreateRoom(ctx context.Context, cl *client, frame Frame) error {
	var payload CreateRoomPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid create_room payload: %w", err)
	}
	if err := validation.ValidateRoomName(payload.Name); err != nil {
		return err
	}

	room, err := s.roomService.CreateRoom(ctx, payload.Name, payload.Persistent)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	if err := s.roomService.JoinRoom(ctx, room.ID, cl.participantID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordRoomCreated(room.ID)
		s.metrics.SetRoomMembers(room.ID, 1)
	}

	ack, err := NewFrame(FrameJoin, JoinPayload{RoomID: room.ID})
	if err != nil {
		return err
	}
	ack.RoomID = room.ID
	return cl.writeFrame(s.cfg.WriteTimeout, ack)
}

func (s *RelayServer) handleJoin(ctx context.Context, cl *client, frame Frame) error {
	var payload JoinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid join payload: %w", err)
	}
	if err := validation.ValidateRoomID(string(payload.RoomID)); err != nil {
		return err
	}

	if err := s.roomService.JoinRoom(ctx, payload.RoomID, cl.participantID); err != nil {
		return err
	}

	members, err := s.roomService.Members(ctx, payload.RoomID)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SetRoomMembers(payload.RoomID, len(members))
	}

	// New member gets the roster, everyone else gets the join event.
	roster, err := NewFrame(FramePresence, PresencePayload{
		Event:   PresenceRoster,
		Members: members,
	})
	if err != nil {
		return err
	}
	roster.RoomID = payload.RoomID
	if err := cl.writeFrame(s.cfg.WriteTimeout, roster); err != nil {
		return err
	}

	joined, err := NewFrame(FramePresence, PresencePayload{
		Event:         PresenceJoined,
		ParticipantID: cl.participantID,
	})
	if err != nil {
		return err
	}
	joined.RoomID = payload.RoomID
	joined.From = cl.participantID
	return s.fanOut(ctx, cl.participantID, joined)
}

func (s *RelayServer) handleLeave(ctx context.Context, cl *client, frame Frame) error {
	var payload LeavePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid leave payload: %w", err)
	}

	left, err := NewFrame(FramePresence, PresencePayload{
		Event:         PresenceLeft,
		ParticipantID: cl.participantID,
	})
	if err != nil {
		return err
	}
	left.RoomID = payload.RoomID
	left.From = cl.participantID
	// Fan out before leaving so the departing member is still excluded
	// as sender rather than missing from the roster.
	if err := s.fanOut(ctx, cl.participantID, left); err != nil {
		s.logger.Warnw("failed to broadcast leave", "room_id", payload.RoomID, "error", err)
	}

	if err := s.roomService.LeaveRoom(ctx, payload.RoomID, cl.participantID); err != nil {
		return err
	}
	if s.metrics != nil {
		// An empty non-persistent room is gone after the last leave.
		if members, err := s.roomService.Members(ctx, payload.RoomID); err != nil {
			s.metrics.RecordRoomClosed(payload.RoomID)
		} else {
			s.metrics.SetRoomMembers(payload.RoomID, len(members))
		}
	}
	return nil
}

func (s *RelayServer) handleMessage(ctx context.Context, cl *client, frame Frame) error {
	var payload MessagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid message payload: %w", err)
	}
	if err := validation.ValidateMessageText(payload.Text); err != nil {
		return err
	}

	msg := &domain.Message{
		ID:       payload.ID,
		RoomID:   frame.RoomID,
		SenderID: cl.participantID,
		Kind:     domain.PayloadText,
		Text:     payload.Text,
		Status:   domain.StatusSent,
		SentAt:   time.Now(),
	}
	if err := s.roomService.AppendMessage(ctx, msg); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordRoomMessage(frame.RoomID)
	}

	return s.fanOut(ctx, cl.participantID, frame)
}

func (s *RelayServer) handleEdit(ctx context.Context, cl *client, frame Frame) error {
	var payload EditPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid edit payload: %w", err)
	}
	if err := validation.ValidateMessageText(payload.Text); err != nil {
		return err
	}
	if err := s.authorizeMessageChange(ctx, cl, frame.RoomID, payload.MessageID); err != nil {
		return err
	}
	return s.fanOut(ctx, cl.participantID, frame)
}

func (s *RelayServer) handleDelete(ctx context.Context, cl *client, frame Frame) error {
	var payload DeletePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid delete payload: %w", err)
	}
	if err := s.authorizeMessageChange(ctx, cl, frame.RoomID, payload.MessageID); err != nil {
		return err
	}
	return s.fanOut(ctx, cl.participantID, frame)
}

// authorizeMessageChange allows edits and deletes only by the original
// sender.
func (s *RelayServer) authorizeMessageChange(ctx context.Context, cl *client, roomID domain.RoomID, msgID domain.MessageID) error {
	history, err := s.roomService.History(ctx, roomID, 0)
	if err != nil {
		return err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == msgID {
			if history[i].SenderID != cl.participantID {
				return domain.ErrPermissionDenied
			}
			return nil
		}
	}
	return domain.ErrMessageNotFound
}

// fanOut delivers a frame to every room member except the sender.
// Members on other instances go through the frame bus.
func (s *RelayServer) fanOut(ctx context.Context, sender domain.ParticipantID, frame Frame) error {
	if frame.RoomID == "" {
		return fmt.Errorf("room_id is required")
	}

	members, err := s.roomService.Members(ctx, frame.RoomID)
	if err != nil {
		return err
	}

	for _, member := range members {
		if member == sender {
			continue
		}
		if err := s.deliver(ctx, member, frame); err != nil {
			s.logger.Debugw("failed to deliver frame",
				"to", member, "type", frame.Type, "error", err)
		}
	}
	return nil
}

// routeSignal forwards an offer, answer or candidate frame to exactly
// one target participant.
func (s *RelayServer) routeSignal(ctx context.Context, cl *client, frame Frame) error {
	var payload SignalPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", frame.Type, err)
	}
	if payload.To == "" {
		return fmt.Errorf("%s frame requires a target participant", frame.Type)
	}
	if payload.To == cl.participantID {
		return fmt.Errorf("cannot signal self")
	}
	if frame.Type == FrameOffer || frame.Type == FrameAnswer {
		if err := validation.ValidateSDP(payload.SDP); err != nil {
			return fmt.Errorf("invalid SDP in %s: %w", frame.Type, err)
		}
	}
	if frame.Type == FrameCandidate && payload.Candidate == "" {
		return fmt.Errorf("candidate is required")
	}

	s.logger.Debugw("routing signal",
		"type", frame.Type, "from", cl.participantID, "to", payload.To)

	return s.deliver(ctx, payload.To, frame)
}

// deliver sends a frame to a participant, local first, then over the
// bus when the participant is connected elsewhere.
func (s *RelayServer) deliver(ctx context.Context, target domain.ParticipantID, frame Frame) error {
	s.mu.RLock()
	cl, ok := s.clients[target]
	s.mu.RUnlock()

	if ok {
		return cl.writeFrame(s.cfg.WriteTimeout, frame)
	}
	if s.bus != nil {
		return s.bus.PublishToParticipant(ctx, target, frame)
	}
	return fmt.Errorf("participant %s not connected", target)
}

// DeliverLocal is the inbound side of the frame bus: a frame published
// by another instance lands here for a locally connected participant.
func (s *RelayServer) DeliverLocal(target domain.ParticipantID, frame Frame) error {
	s.mu.RLock()
	cl, ok := s.clients[target]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("participant %s not connected", target)
	}
	return cl.writeFrame(s.cfg.WriteTimeout, frame)
}

// broadcastDeparture tells every room the participant was in that it
// left. Runs on disconnect, clean or not.
func (s *RelayServer) broadcastDeparture(ctx context.Context, participantID domain.ParticipantID) {
	rooms, err := s.roomService.ListRooms(ctx)
	if err != nil {
		s.logger.Warnw("failed to list rooms on disconnect", "error", err)
		return
	}

	for _, room := range rooms {
		if !room.HasMember(participantID) {
			continue
		}
		left, err := NewFrame(FramePresence, PresencePayload{
			Event:         PresenceLeft,
			ParticipantID: participantID,
		})
		if err != nil {
			continue
		}
		left.RoomID = room.ID
		left.From = participantID
		if err := s.fanOut(ctx, participantID, left); err != nil {
			s.logger.Debugw("failed to broadcast departure", "room_id", room.ID, "error", err)
		}
		if err := s.roomService.LeaveRoom(ctx, room.ID, participantID); err != nil {
			s.logger.Debugw("failed to remove departed member", "room_id", room.ID, "error", err)
		}
	}
}

func (s *RelayServer) sendError(conn *websocket.Conn, code, message string) {
	frame, err := NewFrame(FrameError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	conn.WriteJSON(frame)
}

func (s *RelayServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := len(s.clients)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *RelayServer) ConnectedParticipants() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]domain.ParticipantID, 0, len(s.clients))
	for id := range s.clients {
		participants = append(participants, id)
	}
	return participants
}

func (s *RelayServer) IsConnected(id domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.clients[id]
	return ok
}
