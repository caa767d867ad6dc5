// Package server implements the server-of-record: the authoritative
// playback clock, the persisted ad catalog, and the session registry that
// keeps connected display clients in approximate lock-step.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mcdev12/adsync/internal/catalog"
	"github.com/mcdev12/adsync/internal/config"
	"github.com/mcdev12/adsync/internal/playback"
	"github.com/mcdev12/adsync/internal/protocol"
)

// Server owns the accept loop and the background workers (catalog watcher,
// staleness sweep). One goroutine per connection does the blocking I/O.
type Server struct {
	cfg   config.Server
	cat   *catalog.Catalog
	clock *playback.Clock
	reg   *Registry
	clk   clockwork.Clock
	log   zerolog.Logger

	ln net.Listener
}

func New(cfg config.Server, cat *catalog.Catalog, clock *playback.Clock, clk clockwork.Clock, log zerolog.Logger) *Server {
	return &Server{
		cfg:   cfg,
		cat:   cat,
		clock: clock,
		reg:   NewRegistry(clk, log),
		clk:   clk,
		log:   log,
	}
}

func (s *Server) Catalog() *catalog.Catalog { return s.cat }
func (s *Server) Clock() *playback.Clock    { return s.clock }
func (s *Server) Registry() *Registry       { return s.reg }

// Listen binds the TCP listener. Split from Run so callers learn about a
// busy port before spawning workers (and tests can bind port 0).
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Str("media_dir", s.cat.Dir()).Msg("server started")
	return ln.Addr(), nil
}

// Run accepts connections until ctx is cancelled, with the catalog watcher
// and the stale-session sweep running alongside.
func (s *Server) Run(ctx context.Context) error {
	if s.ln == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}

	watcher := catalog.NewWatcher(s.cat, s.clk, s.cfg.RescanInterval.Std(), s.BroadcastAdList, s.log)
	go watcher.Run(ctx)
	go s.sweepLoop(ctx)

	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	t := s.clk.NewTicker(s.cfg.SweepInterval.Std())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			s.reg.SweepStale(s.cfg.StaleAfter.Std())
		}
	}
}

// handleConn owns one client connection for its whole life: register,
// cold-start push, then the read/dispatch loop.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	ch := protocol.NewChannel(conn)
	sess := newSession(ch, s.clk.Now())
	s.reg.Add(sess)
	defer s.reg.Remove(sess)

	// Initial sync and ad list so a fresh client converges without asking.
	if err := sess.Send(s.syncMessage()); err != nil {
		return
	}
	if err := sess.Send(s.adListMessage()); err != nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		_ = ch.SetReadDeadline(s.clk.Now().Add(s.cfg.ReadTimeout.Std()))
		m, err := ch.Next()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Quiet connection; confirm it is still alive.
				if perr := ch.Probe(); perr != nil {
					return
				}
				continue
			}
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownCommand) {
				s.log.Warn().Err(err).Str("client_id", sess.ClientID()).Str("remote", sess.Remote()).Msg("dropping bad frame")
				continue
			}
			return
		}

		sess.Touch(s.clk.Now())
		if err := s.dispatch(sess, m); err != nil {
			s.log.Warn().Err(err).Str("client_id", sess.ClientID()).Msg("send failed")
			return
		}
	}
}

func (s *Server) dispatch(sess *Session, m protocol.Message) error {
	switch m := m.(type) {
	case protocol.GetSync:
		sess.Bind(m.ClientID)
		s.log.Debug().Str("client_id", sess.ClientID()).Msg("sync requested")
		return sess.Send(s.syncMessage())
	case protocol.GetAds:
		sess.Bind(m.ClientID)
		s.log.Debug().Str("client_id", sess.ClientID()).Msg("ad list requested")
		return sess.Send(s.adListMessage())
	case protocol.GetFile:
		sess.Bind(m.ClientID)
		return s.sendFile(sess, m.Filename)
	default:
		// Server-to-client message arriving at the server; drop it.
		s.log.Warn().Stringer("kind", m.Kind()).Str("client_id", sess.ClientID()).Msg("unexpected message")
		return nil
	}
}

func (s *Server) sendFile(sess *Session, filename string) error {
	data, err := s.cat.ReadFile(filename)
	if err != nil {
		// Missing media is a resource error, not a session error.
		s.log.Error().Err(err).Str("filename", filename).Msg("file not available")
		return nil
	}
	s.log.Info().Str("filename", filename).Str("client_id", sess.ClientID()).Msg("sending file")
	return sess.Send(protocol.FileTransfer{Filename: filename, Content: data})
}

// syncMessage projects the clock over the current catalog into a wire sync.
func (s *Server) syncMessage() protocol.Sync {
	snap := s.clock.Snapshot(s.cat.Len())
	m := protocol.Sync{
		Timestamp:      protocol.UnixSeconds(snap.TakenAt),
		ServerTime:     protocol.UnixSeconds(snap.TakenAt),
		IsPlaying:      snap.Playing,
		CurrentAdIndex: snap.Index,
		RemainingTime:  snap.Remaining.Seconds(),
		AdDuration:     snap.AdDuration.Seconds(),
		ElapsedTime:    snap.Elapsed.Seconds(),
	}
	if snap.Playing {
		st := protocol.UnixSeconds(snap.StartTime)
		m.StartTime = &st
	} else {
		pt := snap.PauseElapsed.Seconds()
		m.PauseTime = &pt
	}
	return m
}

func (s *Server) adListMessage() protocol.AdList {
	return protocol.AdList{Ads: s.cat.Ads()}
}

// TogglePlayPause flips the authoritative clock and pushes the new state to
// every session.
func (s *Server) TogglePlayPause() bool {
	playing := s.clock.Toggle(s.cat.Len())
	if playing {
		s.log.Info().Msg("ad display resumed")
	} else {
		s.log.Info().Msg("ad display paused")
	}
	s.reg.Broadcast(s.syncMessage())
	return playing
}

// SetAdDuration changes the rotation speed and pushes a sync so clients
// pick it up without waiting for their next request.
func (s *Server) SetAdDuration(d time.Duration) {
	s.clock.SetAdDuration(d)
	s.log.Info().Dur("ad_duration", d).Msg("ad duration changed")
	s.reg.Broadcast(s.syncMessage())
}

// BroadcastAdList pushes the current catalog to every session.
func (s *Server) BroadcastAdList() {
	s.reg.Broadcast(s.adListMessage())
}

func (s *Server) shutdown() {
	s.reg.CloseAll()
	if err := s.cat.Save(); err != nil {
		s.log.Error().Err(err).Msg("failed to persist catalog at shutdown")
	}
	s.log.Info().Msg("server shutdown complete")
}
