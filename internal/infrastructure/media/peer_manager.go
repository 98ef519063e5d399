package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/internal/infrastructure/signal"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// WebRTCConfig holds the transport knobs for peer connections.
type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// FrameSender puts signaling frames on the wire. The session
// connection manager satisfies this.
type FrameSender interface {
	Send(frame signal.Frame) error
}

// peerSession is one call leg to one remote participant.
type peerSession struct {
	participantID domain.ParticipantID
	pc            *webrtc.PeerConnection
	state         domain.PeerSessionState
	senders       map[domain.TrackKind]*webrtc.RTPSender

	// Candidates that arrived before the remote description; flushed
	// the moment it lands.
	pendingCandidates []webrtc.ICECandidateInit
	remoteSet         bool

	createdAt time.Time
}

// PeerManager owns one peer connection per remote participant and the
// offer/answer/candidate exchange over the relay. Outgoing media comes
// from the MediaSource; incoming tracks are handed to the Renderer.
type PeerManager struct {
	config   WebRTCConfig
	sender   FrameSender
	source   ports.MediaSource
	renderer ports.Renderer

	sessions map[domain.ParticipantID]*peerSession
	tracks   map[domain.TrackKind]webrtc.TrackLocal
	mu       sync.RWMutex

	logger *zap.SugaredLogger
}

func NewPeerManager(
	config WebRTCConfig,
	sender FrameSender,
	source ports.MediaSource,
	renderer ports.Renderer,
	logger *zap.SugaredLogger,
) *PeerManager {
	return &PeerManager{
		config:   config,
		sender:   sender,
		source:   source,
		renderer: renderer,
		sessions: make(map[domain.ParticipantID]*peerSession),
		tracks:   make(map[domain.TrackKind]webrtc.TrackLocal),
		logger:   logger,
	}
}

// RegisterHandlers wires the manager into the inbound frame router.
func (m *PeerManager) RegisterHandlers(register func(signal.FrameType, func(signal.Frame))) {
	register(signal.FrameOffer, func(f signal.Frame) {
		if err := m.HandleOffer(f); err != nil {
			m.logger.Warnw("failed to handle offer", "from", f.From, "error", err)
		}
	})
	register(signal.FrameAnswer, func(f signal.Frame) {
		if err := m.HandleAnswer(f); err != nil {
			m.logger.Warnw("failed to handle answer", "from", f.From, "error", err)
		}
	})
	register(signal.FrameCandidate, func(f signal.Frame) {
		if err := m.HandleCandidate(f); err != nil {
			m.logger.Warnw("failed to handle candidate", "from", f.From, "error", err)
		}
	})
}

func (m *PeerManager) createPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   m.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if m.config.PortRange.Min > 0 && m.config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(m.config.PortRange.Min, m.config.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// AcquireMedia pulls local tracks from the media source. Must run
// before the first StartSession; subsequent sessions reuse the same
// tracks.
func (m *PeerManager) AcquireMedia(ctx context.Context, constraints ports.MediaConstraints) error {
	tracks, err := m.source.AcquireTracks(ctx, constraints)
	if err != nil {
		return fmt.Errorf("acquiring local tracks: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, track := range tracks {
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			m.tracks[domain.TrackKindAudio] = track
		case webrtc.RTPCodecTypeVideo:
			m.tracks[domain.TrackKindVideo] = track
		}
	}
	return nil
}

// StartSession opens a session toward a remote participant: a fresh
// peer connection, the local tracks attached, and an offer on the
// wire. Starting an already open session is an error; close it first.
func (m *PeerManager) StartSession(target domain.ParticipantID) error {
	m.mu.Lock()
	if existing, ok := m.sessions[target]; ok && !existing.state.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("session with %s already open", target)
	}
	m.mu.Unlock()

	pc, err := m.createPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	sess := &peerSession{
		participantID: target,
		pc:            pc,
		state:         domain.PeerNew,
		senders:       make(map[domain.TrackKind]*webrtc.RTPSender),
		createdAt:     time.Now(),
	}

	if err := m.attachLocalTracks(sess); err != nil {
		pc.Close()
		return err
	}
	m.installCallbacks(sess)

	m.mu.Lock()
	m.sessions[target] = sess
	sess.state = domain.PeerNegotiating
	m.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.failSession(target, err)
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.failSession(target, err)
		return err
	}

	return m.sendSignal(signal.FrameOffer, target, offer.SDP, "")
}

// HandleOffer answers an incoming offer: new session, remote
// description, local tracks, answer back.
func (m *PeerManager) HandleOffer(frame signal.Frame) error {
	var payload signal.SignalPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}
	from := frame.From

	m.mu.RLock()
	_, exists := m.sessions[from]
	m.mu.RUnlock()
	if exists {
		// Glare: the remote offered while our own session is up.
		// The existing session is torn down in favor of theirs.
		m.CloseSession(from)
	}

	pc, err := m.createPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	sess := &peerSession{
		participantID: from,
		pc:            pc,
		state:         domain.PeerNegotiating,
		senders:       make(map[domain.TrackKind]*webrtc.RTPSender),
		createdAt:     time.Now(),
	}

	if err := m.attachLocalTracks(sess); err != nil {
		pc.Close()
		return err
	}
	m.installCallbacks(sess)

	m.mu.Lock()
	m.sessions[from] = sess
	m.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  payload.SDP,
	}); err != nil {
		m.failSession(from, err)
		return fmt.Errorf("setting remote offer: %w", err)
	}
	m.markRemoteSet(sess)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.failSession(from, err)
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.failSession(from, err)
		return err
	}

	return m.sendSignal(signal.FrameAnswer, from, answer.SDP, "")
}

// HandleAnswer completes negotiation we initiated.
func (m *PeerManager) HandleAnswer(frame signal.Frame) error {
	var payload signal.SignalPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}

	m.mu.RLock()
	sess, ok := m.sessions[frame.From]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	if err := sess.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  payload.SDP,
	}); err != nil {
		m.failSession(frame.From, err)
		return fmt.Errorf("setting remote answer: %w", err)
	}
	m.markRemoteSet(sess)
	return nil
}

// HandleCandidate applies a remote ICE candidate. Candidates that
// arrive before the remote description are buffered and flushed once
// it is set; candidates for unknown sessions are dropped, not errors,
// since trickle ICE can outrun the offer.
func (m *PeerManager) HandleCandidate(frame signal.Frame) error {
	var payload signal.SignalPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid candidate payload: %w", err)
	}

	candidate := webrtc.ICECandidateInit{
		Candidate:     payload.Candidate,
		SDPMid:        &payload.Mid,
		SDPMLineIndex: payload.MLineIdx,
	}

	m.mu.Lock()
	sess, ok := m.sessions[frame.From]
	if !ok || sess.state.Terminal() {
		m.mu.Unlock()
		m.logger.Debugw("dropping candidate for unknown session", "from", frame.From)
		return nil
	}
	if !sess.remoteSet {
		sess.pendingCandidates = append(sess.pendingCandidates, candidate)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := sess.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// markRemoteSet flushes candidates buffered before the remote
// description arrived.
func (m *PeerManager) markRemoteSet(sess *peerSession) {
	m.mu.Lock()
	sess.remoteSet = true
	pending := sess.pendingCandidates
	sess.pendingCandidates = nil
	m.mu.Unlock()

	for _, candidate := range pending {
		if err := sess.pc.AddICECandidate(candidate); err != nil {
			m.logger.Warnw("failed to apply buffered candidate",
				"participant_id", sess.participantID, "error", err)
		}
	}
}

func (m *PeerManager) attachLocalTracks(sess *peerSession) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for kind, track := range m.tracks {
		sender, err := sess.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("adding %s track: %w", kind, err)
		}
		sess.senders[kind] = sender
		go m.drainRTCP(sess.participantID, sender)
	}
	return nil
}

func (m *PeerManager) installCallbacks(sess *peerSession) {
	target := sess.participantID

	sess.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		if err := m.sendCandidate(target, init.Candidate, mid, init.SDPMLineIndex); err != nil {
			m.logger.Warnw("failed to send candidate", "to", target, "error", err)
		}
	})

	sess.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.logger.Infow("remote track started",
			"participant_id", target,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		go m.drainReceiverRTCP(target, receiver)
		m.renderer.AttachRemoteTrack(target, track)
	})

	sess.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		m.logger.Infow("ICE connection state changed",
			"participant_id", target, "ice_state", state)
	})

	sess.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state changed",
			"participant_id", target, "connection_state", state)

		switch state {
		case webrtc.PeerConnectionStateConnected:
			m.setSessionState(target, domain.PeerConnected)
		case webrtc.PeerConnectionStateDisconnected:
			m.setSessionState(target, domain.PeerDisconnected)
		case webrtc.PeerConnectionStateFailed:
			m.logger.Warnw("peer connection failed", "participant_id", target)
			m.CloseSession(target)
		}
	})
}

func (m *PeerManager) setSessionState(id domain.ParticipantID, state domain.PeerSessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok && !sess.state.Terminal() {
		sess.state = state
	}
}

func (m *PeerManager) failSession(id domain.ParticipantID, cause error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		sess.state = domain.PeerFailed
	}
	m.mu.Unlock()

	if ok {
		m.logger.Warnw("session failed", "participant_id", id, "error", cause)
		sess.pc.Close()
	}
}

// ReplaceTrack swaps the outgoing track of one kind on every open
// session without renegotiation. Either every sender switches or the
// old track stays wired where the swap failed; the error reports the
// first failure.
func (m *PeerManager) ReplaceTrack(kind domain.TrackKind, track webrtc.TrackLocal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	replaced := 0
	for id, sess := range m.sessions {
		if sess.state.Terminal() {
			continue
		}
		sender, ok := sess.senders[kind]
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			m.logger.Warnw("failed to replace track",
				"participant_id", id, "kind", kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		replaced++
	}

	if firstErr != nil {
		return fmt.Errorf("replaced %d senders, first failure: %w", replaced, firstErr)
	}
	m.tracks[kind] = track
	return nil
}

// CloseSession tears down the session with one participant. Closing a
// session twice, or one that never existed, is a no-op.
func (m *PeerManager) CloseSession(id domain.ParticipantID) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	alreadyClosed := sess.state == domain.PeerClosed
	sess.state = domain.PeerClosed
	m.mu.Unlock()

	if alreadyClosed {
		return
	}
	if err := sess.pc.Close(); err != nil {
		m.logger.Debugw("error closing peer connection", "participant_id", id, "error", err)
	}
	m.logger.Infow("session closed", "participant_id", id)
}

// CloseAll ends every session and releases the media source.
func (m *PeerManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*peerSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[domain.ParticipantID]*peerSession)
	m.tracks = make(map[domain.TrackKind]webrtc.TrackLocal)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.state = domain.PeerClosed
		sess.pc.Close()
	}
	m.source.Release()
}

// SessionState reports the state of one session.
func (m *PeerManager) SessionState(id domain.ParticipantID) (domain.PeerSessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return domain.PeerClosed, false
	}
	return sess.state, true
}

// Sessions lists participants with an open session.
func (m *PeerManager) Sessions() []domain.ParticipantID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

func (m *PeerManager) sendSignal(t signal.FrameType, to domain.ParticipantID, sdp, candidate string) error {
	frame, err := signal.NewFrame(t, signal.SignalPayload{
		To:        to,
		SDP:       sdp,
		Candidate: candidate,
	})
	if err != nil {
		return err
	}
	return m.sender.Send(frame)
}

func (m *PeerManager) sendCandidate(to domain.ParticipantID, candidate, mid string, mLineIdx *uint16) error {
	frame, err := signal.NewFrame(signal.FrameCandidate, signal.SignalPayload{
		To:        to,
		Candidate: candidate,
		Mid:       mid,
		MLineIdx:  mLineIdx,
	})
	if err != nil {
		return err
	}
	return m.sender.Send(frame)
}

// drainRTCP keeps the sender's RTCP loop serviced so interceptors run.
// PLI requests are surfaced at debug level.
func (m *PeerManager) drainRTCP(id domain.ParticipantID, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				m.logger.Debugw("received PLI", "participant_id", id)
			}
		}
	}
}

func (m *PeerManager) drainReceiverRTCP(id domain.ParticipantID, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			if report, ok := packet.(*rtcp.ReceiverReport); ok && len(report.Reports) > 0 {
				m.logger.Debugw("receiver report",
					"participant_id", id,
					"fraction_lost", report.Reports[0].FractionLost,
					"jitter", report.Reports[0].Jitter,
				)
			}
		}
	}
}
