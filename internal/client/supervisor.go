package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mcdev12/adsync/internal/config"
	"github.com/mcdev12/adsync/internal/protocol"
)

const (
	dialTimeout = 10 * time.Second

	// initialRequestGap spaces the initial sync and catalog requests so the
	// server answers them in order on a fresh connection.
	initialRequestGap = 500 * time.Millisecond
)

// Supervisor owns the transport: the connect/retry loop, the receive loop,
// and the drift-check scheduler. It implements Requester for the engine.
type Supervisor struct {
	cfg config.Client
	eng *Engine
	clk clockwork.Clock
	log zerolog.Logger

	// dial is swappable for tests.
	dial func() (net.Conn, error)

	mu         sync.Mutex
	ch         *protocol.Channel
	connecting bool

	ctx context.Context
}

func NewSupervisor(cfg config.Client, eng *Engine, clk clockwork.Clock, log zerolog.Logger) *Supervisor {
	s := &Supervisor{cfg: cfg, eng: eng, clk: clk, log: log}
	s.dial = func() (net.Conn, error) {
		return net.DialTimeout("tcp", cfg.Addr(), dialTimeout)
	}
	eng.SetRequester(s)
	return s
}

// Start launches the connect loop and the drift-check scheduler. Both stop
// when ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) {
	s.ctx = ctx
	go s.connectLoop()
	go s.driftLoop(ctx)
}

// connectLoop attempts to open the transport until it succeeds, waiting a
// fixed interval between failures. Idle mode suppresses the loop entirely;
// exit-idle spawns a fresh one. Single-flight: a loop that finds another
// one running, or a channel already installed, backs off so a delayed
// reconnect racing a resume cannot stack a second connection.
func (s *Supervisor) connectLoop() {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	for s.ctx.Err() == nil && !s.eng.Idle() {
		s.mu.Lock()
		up := s.ch != nil
		s.mu.Unlock()
		if up {
			return
		}

		s.log.Info().Str("addr", s.cfg.Addr()).Msg("connecting to server")
		conn, err := s.dial()
		if err != nil {
			s.log.Warn().Err(err).Dur("retry_in", s.cfg.ReconnectInterval.Std()).Msg("connection failed")
			if !s.sleep(s.cfg.ReconnectInterval.Std()) {
				return
			}
			continue
		}

		ch := protocol.NewChannel(conn)
		s.mu.Lock()
		if s.ch != nil {
			s.mu.Unlock()
			_ = ch.Close()
			return
		}
		s.ch = ch
		// Single-flight ends here: the channel itself now blocks duplicate
		// loops, and the initial requests below must not.
		s.connecting = false
		s.mu.Unlock()
		s.eng.SetConnected(true)
		s.log.Info().Msg("connected to server")

		go s.receiveLoop(ch)
		s.RequestSync()
		s.sleep(initialRequestGap)
		s.RequestAds()
		return
	}
}

// receiveLoop reads and dispatches frames until the connection dies, then
// schedules a reconnect unless the client is idle.
func (s *Supervisor) receiveLoop(ch *protocol.Channel) {
	for {
		m, err := ch.Next()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownCommand) {
				s.log.Warn().Err(err).Msg("dropping bad frame")
				continue
			}
			break
		}
		s.eng.HandleMessage(m)
	}

	_ = ch.Close()
	s.mu.Lock()
	if s.ch == ch {
		s.ch = nil
	}
	s.mu.Unlock()
	s.eng.SetConnected(false)

	if s.ctx.Err() != nil {
		return
	}
	if s.eng.Idle() {
		s.log.Info().Msg("in idle mode, will reconnect when needed")
		return
	}
	s.log.Warn().Msg("connection to server lost")
	go func() {
		if s.sleep(s.cfg.ReconnectInterval.Std()) {
			s.connectLoop()
		}
	}()
}

func (s *Supervisor) driftLoop(ctx context.Context) {
	if s.cfg.DriftCheckInterval.Std() <= 0 {
		return
	}
	t := s.clk.NewTicker(s.cfg.DriftCheckInterval.Std())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			if s.eng.FlagDriftCheck() {
				s.log.Info().Msg("checking time drift with server")
				s.RequestSync()
			}
		}
	}
}

func (s *Supervisor) RequestSync() { s.request(protocol.GetSync{ClientID: s.eng.ClientID()}) }

func (s *Supervisor) RequestAds() { s.request(protocol.GetAds{ClientID: s.eng.ClientID()}) }

func (s *Supervisor) RequestFile(filename string) {
	s.request(protocol.GetFile{ClientID: s.eng.ClientID(), Filename: filename})
}

// request sends one frame. Idle mode sends nothing at all. On a write
// failure the channel is closed and the receive loop takes over the
// reconnect decision.
func (s *Supervisor) request(m protocol.Message) {
	if s.eng.Idle() {
		return
	}
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Send(m); err != nil {
		s.log.Warn().Err(err).Stringer("kind", m.Kind()).Msg("request failed")
		_ = ch.Close()
	}
}

// Disconnect closes the transport. Called on enter-idle; the receive loop
// sees the closed connection and, because the engine is idle, stays down.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
		s.log.Info().Msg("transport closed")
	}
	s.eng.SetConnected(false)
}

// Reconnect spawns a fresh connect loop, used on exit-idle.
func (s *Supervisor) Reconnect() {
	go s.connectLoop()
}

// ForceSync is the local "sync now" control: it resumes from idle (which
// reconnects and full-resyncs) or, when already connected, requests a
// fresh snapshot and catalog.
func (s *Supervisor) ForceSync() {
	if s.eng.Idle() {
		s.eng.TogglePause()
		return
	}
	s.RequestSync()
	s.sleep(initialRequestGap)
	s.RequestAds()
}

func (s *Supervisor) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-s.clk.After(d):
		return true
	}
}
