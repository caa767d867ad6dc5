package server

import (
	"sync"
	"time"

	"github.com/mcdev12/adsync/internal/protocol"
)

// Session is one connected display client. It lives from accept until an
// I/O failure, a liveness-probe failure, or shutdown.
type Session struct {
	ch     *protocol.Channel
	remote string

	mu         sync.Mutex
	clientID   string
	lastActive time.Time
}

func newSession(ch *protocol.Channel, now time.Time) *Session {
	return &Session{ch: ch, remote: ch.RemoteAddr().String(), lastActive: now}
}

func (s *Session) Remote() string { return s.remote }

// ClientID returns the bound identifier, or "unknown" before the first
// identified message.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientID == "" {
		return "unknown"
	}
	return s.clientID
}

// Bind records the client identifier. Idempotent; a later identifier
// overwrites an earlier one so a client can reconnect under the same id.
func (s *Session) Bind(clientID string) {
	if clientID == "" {
		return
	}
	s.mu.Lock()
	s.clientID = clientID
	s.mu.Unlock()
}

// Touch refreshes the liveness timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Send forwards to the underlying channel. A returned error means this
// session is dead and should be evicted.
func (s *Session) Send(m protocol.Message) error {
	return s.ch.Send(m)
}
