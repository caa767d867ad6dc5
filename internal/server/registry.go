package server

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mcdev12/adsync/internal/protocol"
)

// Registry tracks live client sessions and fans messages out to them. The
// session set is guarded by one mutex; broadcasts snapshot the set under
// the lock and perform the blocking writes outside it, so one slow client
// cannot stall the rest.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}

	clk clockwork.Clock
	log zerolog.Logger
}

func NewRegistry(clk clockwork.Clock, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
		clk:      clk,
		log:      log,
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	n := len(r.sessions)
	r.mu.Unlock()
	r.log.Info().Str("remote", s.Remote()).Int("sessions", n).Msg("client connected")
}

// Remove drops the session and closes its channel. Reports whether the
// session was still registered, so concurrent eviction paths log only once.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	_, ok := r.sessions[s]
	delete(r.sessions, s)
	r.mu.Unlock()
	if ok {
		_ = s.ch.Close()
		r.log.Info().Str("client_id", s.ClientID()).Str("remote", s.Remote()).Msg("client disconnected")
	}
	return ok
}

// Snapshot returns a point-in-time copy of the session set.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast sends m to every live session. A write failure evicts that
// session immediately rather than retrying.
func (r *Registry) Broadcast(m protocol.Message) {
	for _, s := range r.Snapshot() {
		if err := s.Send(m); err != nil {
			r.log.Warn().Err(err).Str("client_id", s.ClientID()).Msg("broadcast failed, evicting session")
			r.Remove(s)
		}
	}
}

// SweepStale evicts sessions inactive past maxIdle whose probe write fails.
// Best effort: a stale session that still accepts the probe is kept.
func (r *Registry) SweepStale(maxIdle time.Duration) {
	now := r.clk.Now()
	for _, s := range r.Snapshot() {
		if now.Sub(s.LastActive()) <= maxIdle {
			continue
		}
		if err := s.ch.Probe(); err != nil {
			r.log.Info().Str("client_id", s.ClientID()).Str("remote", s.Remote()).Msg("removing stale client")
			r.Remove(s)
		}
	}
}

// CloseAll evicts every session, used at shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.Snapshot() {
		r.Remove(s)
	}
}
