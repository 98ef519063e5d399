package domain

// ConnectionState is the lifecycle of the single persistent signaling
// connection owned by a client session.
type ConnectionState int

const (
	ConnDisconnected ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PeerSessionState is the lifecycle of one negotiated media session.
// Disconnected may recover to Connected without renegotiation; Failed
// and Closed are terminal.
type PeerSessionState int

const (
	PeerNew PeerSessionState = iota
	PeerNegotiating
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerSessionState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s PeerSessionState) Terminal() bool {
	return s == PeerFailed || s == PeerClosed
}
