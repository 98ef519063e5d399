package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/core/services"
	"commlink/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func newTestRelay(t *testing.T) (*RelayServer, services.AuthService, *httptest.Server) {
	t.Helper()

	authService := services.NewAuthService("test-secret", time.Hour, 24*time.Hour)
	roomService := services.NewRoomService(memory.NewMemoryRoomRepository(), 100)

	relay := NewRelayServer(roomService, authService, nil, nil, nil, RelayServerConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		HandshakeWindow:   2 * time.Second,
		FramesPerSecond:   100,
		MaxFrameSizeBytes: 64 * 1024,
	}, zap.NewNop().Sugar())

	srv := httptest.NewServer(http.HandlerFunc(relay.HandleWebSocket))
	t.Cleanup(srv.Close)

	return relay, authService, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func authConn(t *testing.T, srv *httptest.Server, auth services.AuthService, id domain.ParticipantID) *websocket.Conn {
	t.Helper()
	conn := dial(t, srv)

	token, err := auth.GenerateToken(domain.UserID(id), string(id))
	require.NoError(t, err)

	frame, err := NewFrame(FrameAuth, AuthPayload{Token: token, ParticipantID: id})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	var ack Frame
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, FrameAuthOK, ack.Type)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestRelay_RejectsBadToken(t *testing.T) {
	_, _, srv := newTestRelay(t)
	conn := dial(t, srv)

	frame, err := NewFrame(FrameAuth, AuthPayload{Token: "garbage", ParticipantID: "alice"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	got := readFrame(t, conn)
	assert.Equal(t, FrameError, got.Type)
}

func TestRelay_RejectsFrameBeforeAuth(t *testing.T) {
	_, _, srv := newTestRelay(t)
	conn := dial(t, srv)

	frame, err := NewFrame(FrameJoin, JoinPayload{RoomID: "general"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	got := readFrame(t, conn)
	assert.Equal(t, FrameError, got.Type)
}

func TestRelay_MessageFanOut(t *testing.T) {
	relay, auth, srv := newTestRelay(t)

	alice := authConn(t, srv, auth, "alice")
	bob := authConn(t, srv, auth, "bob")

	room := createAndJoin(t, relay, alice, "general")
	joinRoom(t, bob, room)
	// Alice sees bob's join event.
	joined := readFrame(t, alice)
	require.Equal(t, FramePresence, joined.Type)

	msg, err := NewFrame(FrameMessage, MessagePayload{ID: "m1", Text: "hello"})
	require.NoError(t, err)
	msg.RoomID = room
	require.NoError(t, alice.WriteJSON(msg))

	got := readFrame(t, bob)
	require.Equal(t, FrameMessage, got.Type)
	assert.Equal(t, domain.ParticipantID("alice"), got.From, "relay stamps the sender")
	assert.Equal(t, room, got.RoomID)

	var payload MessagePayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "hello", payload.Text)
}

func TestRelay_SignalRouting(t *testing.T) {
	relay, auth, srv := newTestRelay(t)

	alice := authConn(t, srv, auth, "alice")
	bob := authConn(t, srv, auth, "bob")

	room := createAndJoin(t, relay, alice, "call")
	joinRoom(t, bob, room)
	readFrame(t, alice) // bob's join event

	offer, err := NewFrame(FrameOffer, SignalPayload{To: "bob", SDP: testSDP})
	require.NoError(t, err)
	offer.RoomID = room
	require.NoError(t, alice.WriteJSON(offer))

	got := readFrame(t, bob)
	require.Equal(t, FrameOffer, got.Type)
	assert.Equal(t, domain.ParticipantID("alice"), got.From)

	// Missing SDP must be rejected.
	bad, err := NewFrame(FrameAnswer, SignalPayload{To: "alice"})
	require.NoError(t, err)
	require.NoError(t, bob.WriteJSON(bad))
	errFrame := readFrame(t, bob)
	assert.Equal(t, FrameError, errFrame.Type)
}

func TestRelay_MalformedFrameDoesNotDropConnection(t *testing.T) {
	_, auth, srv := newTestRelay(t)

	alice := authConn(t, srv, auth, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("this is not json")))

	// The same connection keeps working.
	ping, err := NewFrame(FramePing, nil)
	require.NoError(t, err)
	require.NoError(t, alice.WriteJSON(ping))
	got := readFrame(t, alice)
	assert.Equal(t, FramePong, got.Type)
}

func TestRelay_ReconnectReplacesConnection(t *testing.T) {
	relay, auth, srv := newTestRelay(t)

	first := authConn(t, srv, auth, "alice")
	second := authConn(t, srv, auth, "alice")

	// Give the server a moment to process the replacement.
	require.Eventually(t, func() bool {
		return relay.IsConnected("alice")
	}, time.Second, 10*time.Millisecond)

	// Old connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// New connection still works.
	ping, err := NewFrame(FramePing, nil)
	require.NoError(t, err)
	require.NoError(t, second.WriteJSON(ping))
	got := readFrame(t, second)
	assert.Equal(t, FramePong, got.Type)
}

func TestRelay_EditRequiresOwnership(t *testing.T) {
	relay, auth, srv := newTestRelay(t)

	alice := authConn(t, srv, auth, "alice")
	bob := authConn(t, srv, auth, "bob")

	room := createAndJoin(t, relay, alice, "general")
	joinRoom(t, bob, room)
	readFrame(t, alice)

	msg, err := NewFrame(FrameMessage, MessagePayload{ID: "m1", Text: "hello"})
	require.NoError(t, err)
	msg.RoomID = room
	require.NoError(t, alice.WriteJSON(msg))
	readFrame(t, bob)

	// Bob cannot edit alice's message.
	edit, err := NewFrame(FrameEdit, EditPayload{MessageID: "m1", Text: "hax"})
	require.NoError(t, err)
	edit.RoomID = room
	require.NoError(t, bob.WriteJSON(edit))
	got := readFrame(t, bob)
	assert.Equal(t, FrameError, got.Type)

	// Alice can.
	edit, err = NewFrame(FrameEdit, EditPayload{MessageID: "m1", Text: "hello!"})
	require.NoError(t, err)
	edit.RoomID = room
	require.NoError(t, alice.WriteJSON(edit))
	got = readFrame(t, bob)
	assert.Equal(t, FrameEdit, got.Type)
}

func createAndJoin(t *testing.T, relay *RelayServer, conn *websocket.Conn, name string) domain.RoomID {
	t.Helper()
	frame, err := NewFrame(FrameCreateRoom, CreateRoomPayload{Name: name})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	ack := readFrame(t, conn)
	require.Equal(t, FrameJoin, ack.Type)
	require.NotEmpty(t, ack.RoomID)
	return ack.RoomID
}

func joinRoom(t *testing.T, conn *websocket.Conn, room domain.RoomID) {
	t.Helper()
	frame, err := NewFrame(FrameJoin, JoinPayload{RoomID: room})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	roster := readFrame(t, conn)
	require.Equal(t, FramePresence, roster.Type)
}
