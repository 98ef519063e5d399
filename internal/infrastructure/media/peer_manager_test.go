package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"
	"commlink/internal/infrastructure/signal"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureSender records outgoing frames for inspection.
type captureSender struct {
	mu     sync.Mutex
	frames []signal.Frame
}

func (c *captureSender) Send(frame signal.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *captureSender) byType(t signal.FrameType) []signal.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signal.Frame
	for _, f := range c.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

type nopRenderer struct {
	mu     sync.Mutex
	tracks []domain.ParticipantID
}

func (r *nopRenderer) DisplayMessage(*domain.Message) {}
func (r *nopRenderer) UpdateParticipants(domain.RoomID, []domain.ParticipantID) {
}
func (r *nopRenderer) AttachRemoteTrack(id domain.ParticipantID, _ *webrtc.TrackRemote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, id)
}

func newTestManager(t *testing.T) (*PeerManager, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	source := NewLocalSource(zap.NewNop().Sugar())
	mgr := NewPeerManager(WebRTCConfig{}, sender, source, &nopRenderer{}, zap.NewNop().Sugar())
	t.Cleanup(mgr.CloseAll)

	require.NoError(t, mgr.AcquireMedia(context.Background(), ports.MediaConstraints{Audio: true, Video: true}))
	return mgr, sender
}

func TestPeerManager_StartSessionSendsOffer(t *testing.T) {
	mgr, sender := newTestManager(t)

	require.NoError(t, mgr.StartSession("bob"))

	offers := sender.byType(signal.FrameOffer)
	require.Len(t, offers, 1)

	state, ok := mgr.SessionState("bob")
	require.True(t, ok)
	assert.Equal(t, domain.PeerNegotiating, state)

	// A second session toward the same participant is refused while
	// the first is open.
	assert.Error(t, mgr.StartSession("bob"))
}

func TestPeerManager_OfferAnswerExchange(t *testing.T) {
	alice, aliceSender := newTestManager(t)
	bob, bobSender := newTestManager(t)

	require.NoError(t, alice.StartSession("bob"))
	offer := aliceSender.byType(signal.FrameOffer)[0]
	offer.From = "alice"

	require.NoError(t, bob.HandleOffer(offer))
	answers := bobSender.byType(signal.FrameAnswer)
	require.Len(t, answers, 1)

	answer := answers[0]
	answer.From = "bob"
	require.NoError(t, alice.HandleAnswer(answer))

	_, ok := alice.SessionState("bob")
	assert.True(t, ok)
	_, ok = bob.SessionState("alice")
	assert.True(t, ok)
}

func TestPeerManager_CandidateBufferedUntilRemoteDescription(t *testing.T) {
	alice, aliceSender := newTestManager(t)
	bob, bobSender := newTestManager(t)

	require.NoError(t, alice.StartSession("bob"))
	offer := aliceSender.byType(signal.FrameOffer)[0]
	offer.From = "alice"
	require.NoError(t, bob.HandleOffer(offer))

	// A candidate for alice arrives before bob's answer does. It must
	// be buffered, not rejected.
	require.Eventually(t, func() bool {
		return len(bobSender.byType(signal.FrameCandidate)) > 0
	}, 3*time.Second, 20*time.Millisecond, "bob should trickle candidates")

	candidate := bobSender.byType(signal.FrameCandidate)[0]
	candidate.From = "bob"
	require.NoError(t, alice.HandleCandidate(candidate))

	answer := bobSender.byType(signal.FrameAnswer)[0]
	answer.From = "bob"
	require.NoError(t, alice.HandleAnswer(answer))
}

func TestPeerManager_CandidateForUnknownSessionDropped(t *testing.T) {
	mgr, _ := newTestManager(t)

	frame, err := signal.NewFrame(signal.FrameCandidate, signal.SignalPayload{
		To:        "alice",
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
	})
	require.NoError(t, err)
	frame.From = "stranger"

	assert.NoError(t, mgr.HandleCandidate(frame), "stray candidates are dropped silently")
}

func TestPeerManager_CloseSessionIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)

	require.NoError(t, mgr.StartSession("bob"))
	require.Len(t, mgr.Sessions(), 1)

	mgr.CloseSession("bob")
	assert.Empty(t, mgr.Sessions())

	// Second close and close of a never-opened session are no-ops.
	mgr.CloseSession("bob")
	mgr.CloseSession("carol")

	// A new session after close is allowed.
	require.NoError(t, mgr.StartSession("bob"))
}

func TestPeerManager_ReplaceTrack(t *testing.T) {
	mgr, _ := newTestManager(t)

	require.NoError(t, mgr.StartSession("bob"))
	require.NoError(t, mgr.StartSession("carol"))

	replacement, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
		"video-screen",
		"commlink-screen",
	)
	require.NoError(t, err)

	require.NoError(t, mgr.ReplaceTrack(domain.TrackKindVideo, replacement))

	// Both sessions stay open; no renegotiation happened.
	assert.Len(t, mgr.Sessions(), 2)
}

func TestPeerManager_GlareTearsDownOldSession(t *testing.T) {
	alice, aliceSender := newTestManager(t)
	bob, bobSender := newTestManager(t)

	require.NoError(t, alice.StartSession("bob"))
	require.NoError(t, bob.StartSession("alice"))

	// Bob's offer reaches alice while her own session toward bob is
	// negotiating; the incoming offer wins.
	offer := bobSender.byType(signal.FrameOffer)[0]
	offer.From = "bob"
	require.NoError(t, alice.HandleOffer(offer))

	answers := aliceSender.byType(signal.FrameAnswer)
	require.Len(t, answers, 1)

	state, ok := alice.SessionState("bob")
	require.True(t, ok)
	assert.Equal(t, domain.PeerNegotiating, state)
}

func TestLocalSource_RequiresConstraints(t *testing.T) {
	source := NewLocalSource(zap.NewNop().Sugar())
	defer source.Release()

	_, err := source.AcquireTracks(context.Background(), ports.MediaConstraints{})
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)

	tracks, err := source.AcquireTracks(context.Background(), ports.MediaConstraints{Audio: true})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())

	tracks, err = source.AcquireTracks(context.Background(), ports.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
}
