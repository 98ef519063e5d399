package loadbalancer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// StickySessionManager pins reconnecting clients to the relay instance
// that holds their room state. The affinity cookie carries an HMAC so
// a client cannot forge someone else's routing key; load balancers
// route on the cookie value.
type StickySessionManager struct {
	secretKey  []byte
	cookieName string
	maxAge     int
}

func NewStickySessionManager(secretKey, cookieName string, maxAge int) *StickySessionManager {
	if cookieName == "" {
		cookieName = "commlink_affinity"
	}
	return &StickySessionManager{
		secretKey:  []byte(secretKey),
		cookieName: cookieName,
		maxAge:     maxAge,
	}
}

// SessionID returns the routing key for a request, minting a new one
// when the cookie is absent or its signature does not verify.
func (s *StickySessionManager) SessionID(r *http.Request) string {
	cookie, err := r.Cookie(s.cookieName)
	if err == nil && cookie.Value != "" {
		if id, ok := s.verify(cookie.Value); ok {
			return id
		}
	}
	return s.mint(r)
}

// SetSessionCookie writes the signed affinity cookie. Must run before
// the WebSocket upgrade hijacks the response.
func (s *StickySessionManager) SetSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    s.sign(sessionID),
		Path:     "/",
		MaxAge:   s.maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Wrap decorates a handler so every request carries a valid affinity
// cookie before the inner handler runs.
func (s *StickySessionManager) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.SetSessionCookie(w, s.SessionID(r))
		next(w, r)
	}
}

func (s *StickySessionManager) mint(r *http.Request) string {
	// Hash of client address and user agent keeps the key stable
	// across reconnects from the same client, even before the first
	// cookie round trip completes.
	data := fmt.Sprintf("%s:%s", clientAddr(r), r.Header.Get("User-Agent"))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:16])
}

func (s *StickySessionManager) sign(sessionID string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(sessionID))
	return sessionID + "." + hex.EncodeToString(mac.Sum(nil))
}

func (s *StickySessionManager) verify(cookieValue string) (string, bool) {
	idx := strings.IndexByte(cookieValue, '.')
	if idx <= 0 {
		return "", false
	}
	sessionID := cookieValue[:idx]
	if !hmac.Equal([]byte(cookieValue), []byte(s.sign(sessionID))) {
		return "", false
	}
	return sessionID, true
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndexByte(addr, ':'); idx != -1 {
		addr = addr[:idx]
	}
	return addr
}
