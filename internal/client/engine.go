// Package client implements the display client: a local playback engine
// that mirrors the server's rotation from an anchored start time, and a
// reconnection supervisor that keeps one protocol channel alive.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mcdev12/adsync/internal/protocol"
)

// displayTick is how often the local projection is re-evaluated. The sink
// is only invoked when the derived index actually changes.
const displayTick = 100 * time.Millisecond

// Requester issues protocol requests and manages the transport lifecycle
// on behalf of the engine. Implemented by the Supervisor; faked in tests.
type Requester interface {
	RequestSync()
	RequestAds()
	RequestFile(filename string)
	Disconnect()
	Reconnect()
}

// Engine is the client-side playback state machine. All of its state lives
// behind one mutex; the local projection never touches the network, which
// is what lets playback run smoothly through brief disconnects.
type Engine struct {
	mu sync.Mutex

	clk   clockwork.Clock
	log   zerolog.Logger
	sink  DisplaySink
	cache *MediaCache
	req   Requester

	clientID    string
	idleTimeout time.Duration

	ads        []protocol.Ad
	adDuration time.Duration

	connected     bool
	playing       bool
	locallyPaused bool
	idle          bool
	needsFullSync bool
	syncedOnce    bool

	startTime    time.Time
	pauseElapsed time.Duration
	serverOffset time.Duration

	idleTimer clockwork.Timer
}

func NewEngine(clientID string, idleTimeout time.Duration, sink DisplaySink, cache *MediaCache, clk clockwork.Clock, log zerolog.Logger) *Engine {
	return &Engine{
		clk:         clk,
		log:         log.With().Str("client_id", clientID).Logger(),
		sink:        sink,
		cache:       cache,
		clientID:    clientID,
		idleTimeout: idleTimeout,
		adDuration:  10 * time.Second,
	}
}

// SetRequester wires the transport owner in after construction; the engine
// and supervisor reference each other.
func (e *Engine) SetRequester(r Requester) { e.req = r }

func (e *Engine) ClientID() string { return e.clientID }

// HandleMessage dispatches one decoded server message.
func (e *Engine) HandleMessage(m protocol.Message) {
	switch m := m.(type) {
	case protocol.Sync:
		e.handleSync(m)
	case protocol.AdList:
		e.handleAdList(m)
	case protocol.FileTransfer:
		e.handleFileTransfer(m)
	default:
		e.log.Warn().Stringer("kind", m.Kind()).Msg("unexpected message")
	}
}

// handleSync decides between a full resync and a light update. A light
// update never touches the local start-time anchor, so ongoing playback is
// not re-snapped (and visibly jittered) by routine syncs.
func (e *Engine) handleSync(m protocol.Sync) {
	recv := e.clk.Now()

	e.mu.Lock()
	resuming := e.locallyPaused && !e.playing
	fromIdle := e.idle
	fresh := !e.syncedOnce
	full := resuming || fromIdle || fresh || e.needsFullSync

	if m.AdDuration > 0 {
		e.adDuration = protocol.DurationFromSeconds(m.AdDuration)
	}
	if full {
		e.fullResyncLocked(m, recv)
		e.needsFullSync = false
		if resuming {
			e.locallyPaused = false
			e.playing = true
		}
	}
	e.serverOffset = protocol.TimeFromUnix(m.ServerTime).Sub(recv)
	if !e.locallyPaused {
		e.playing = m.IsPlaying
	}
	if !e.playing && m.PauseTime != nil {
		e.pauseElapsed = protocol.DurationFromSeconds(*m.PauseTime)
	}
	e.syncedOnce = true

	forceShow := (fromIdle || fresh) && e.playing && len(e.ads) > 0
	var disconnect bool
	if e.locallyPaused && !e.idle {
		// Locally paused and done syncing: go quiet.
		disconnect = e.enterIdleLocked()
	}
	playing := e.playing
	offset := e.serverOffset
	e.mu.Unlock()

	e.log.Info().Bool("full", full).Bool("is_playing", playing).Dur("server_offset", offset).Msg("sync received")
	if forceShow {
		e.showCurrent()
	}
	if disconnect {
		e.req.Disconnect()
	}
}

// fullResyncLocked re-anchors the local start time from the snapshot. The
// delay estimate subtracts the server-reported send time from the local
// receive time, which conflates clock offset with one-way delay; that is
// the documented behavior and is kept as-is. Caller must hold e.mu.
func (e *Engine) fullResyncLocked(m protocol.Sync, recv time.Time) {
	if len(e.ads) == 0 {
		return
	}
	networkDelay := recv.Sub(protocol.TimeFromUnix(m.ServerTime))
	serverStart := protocol.TimeFromUnix(m.Timestamp).Add(-protocol.DurationFromSeconds(m.ElapsedTime))
	e.startTime = serverStart.Add(-networkDelay)
	e.log.Info().
		Dur("network_delay", networkDelay).
		Int("ad_index", m.CurrentAdIndex).
		Msg("full timing synchronization")
}

func (e *Engine) handleAdList(m protocol.AdList) {
	e.mu.Lock()
	// A sync that arrived before any catalog could not anchor the start
	// time; once ads exist the next snapshot must re-anchor.
	resync := len(e.ads) == 0 && len(m.Ads) > 0 && e.syncedOnce
	if resync {
		e.needsFullSync = true
	}
	e.ads = m.Ads
	e.mu.Unlock()
	e.log.Info().Int("ads", len(m.Ads)).Msg("received ad list")
	if resync {
		e.req.RequestSync()
	}

	// Fetch whatever is not mirrored locally yet.
	for _, ad := range m.Ads {
		if ad.Path != "" && !e.cache.Has(ad.Path) {
			e.req.RequestFile(ad.Path)
		}
	}
}

func (e *Engine) handleFileTransfer(m protocol.FileTransfer) {
	if m.Filename == "" || len(m.Content) == 0 {
		return
	}
	if err := e.cache.Store(m.Filename, m.Content); err != nil {
		e.log.Error().Err(err).Str("filename", m.Filename).Msg("failed to save ad file")
		return
	}
	e.log.Info().Str("filename", m.Filename).Msg("saved ad file")
}

// TogglePause is the local play/pause control. Pausing records the frozen
// elapsed offset and enters idle; resuming exits idle and defers to the
// next sync, which is forced to be full.
func (e *Engine) TogglePause() {
	e.mu.Lock()
	var disconnect, reconnect bool
	if e.playing {
		now := e.clk.Now()
		cycle := e.adDuration
		if n := len(e.ads); n > 0 {
			cycle = e.adDuration * time.Duration(n)
		}
		if cycle > 0 {
			e.pauseElapsed = now.Sub(e.startTime) % cycle
			if e.pauseElapsed < 0 {
				e.pauseElapsed += cycle
			}
		}
		e.playing = false
		e.locallyPaused = true
		disconnect = e.enterIdleLocked()
		e.log.Info().Msg("locally paused")
	} else {
		e.locallyPaused = false
		reconnect = e.exitIdleLocked()
		e.log.Info().Msg("resuming from local pause")
	}
	e.mu.Unlock()

	if disconnect {
		e.req.Disconnect()
	}
	if reconnect {
		e.req.Reconnect()
	}
}

// Interact handles a display-surface interaction: while actively playing
// it takes the same path as a local pause.
func (e *Engine) Interact() {
	e.mu.Lock()
	active := e.playing && !e.idle
	e.mu.Unlock()
	if active {
		e.log.Info().Msg("display interaction, entering idle mode")
		e.TogglePause()
	}
}

// enterIdleLocked marks idle and arms the idle timer. Caller must hold
// e.mu and, when true is returned, close the transport after unlocking.
func (e *Engine) enterIdleLocked() bool {
	if e.idle {
		return false
	}
	e.idle = true
	e.armIdleTimerLocked()
	e.log.Info().Msg("entering idle mode")
	return true
}

// exitIdleLocked cancels the idle timer and flags a full resync. Caller
// must hold e.mu and, when true is returned, trigger a reconnect after
// unlocking.
func (e *Engine) exitIdleLocked() bool {
	e.cancelIdleTimerLocked()
	e.needsFullSync = true
	wasIdle := e.idle
	e.idle = false
	if wasIdle {
		e.log.Info().Msg("exiting idle mode")
	}
	return wasIdle || !e.connected
}

func (e *Engine) armIdleTimerLocked() {
	e.cancelIdleTimerLocked()
	if e.idleTimeout <= 0 {
		return
	}
	e.idleTimer = e.clk.AfterFunc(e.idleTimeout, e.idleTimerFired)
	e.log.Info().Dur("idle_timeout", e.idleTimeout).Msg("idle timer armed")
}

// cancelIdleTimerLocked stops any pending idle timer. Runs under the same
// lock the fired callback checks state under, so cancellation is
// synchronous with the transition that supersedes the timer.
func (e *Engine) cancelIdleTimerLocked() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

func (e *Engine) idleTimerFired() {
	e.mu.Lock()
	stale := !e.idle || !e.locallyPaused
	e.mu.Unlock()
	if stale {
		return
	}
	e.log.Info().Msg("idle timeout reached, auto-resuming")
	e.TogglePause()
}

// SetConnected records transport state. Losing the connection while not
// idle forces the next sync to be a full resync so the client converges on
// the server position instead of trusting extrapolation through the gap.
func (e *Engine) SetConnected(v bool) {
	e.mu.Lock()
	if e.connected && !v && !e.idle {
		e.needsFullSync = true
	}
	e.connected = v
	e.mu.Unlock()
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Engine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idle
}

// FlagDriftCheck marks a full resync when drift can actually accumulate
// (connected, playing, not idle); reports whether a sync request should be
// issued.
func (e *Engine) FlagDriftCheck() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected || e.idle || !e.playing || len(e.ads) == 0 {
		return false
	}
	e.needsFullSync = true
	return true
}

// projectionLocked derives the current rotation position from the local
// clock alone. Caller must hold e.mu.
func (e *Engine) projectionLocked(now time.Time) (elapsed time.Duration, idx int, ok bool) {
	if len(e.ads) == 0 || e.adDuration <= 0 {
		return 0, 0, false
	}
	cycle := e.adDuration * time.Duration(len(e.ads))
	if e.playing {
		elapsed = now.Sub(e.startTime) % cycle
		if elapsed < 0 {
			elapsed += cycle
		}
	} else {
		elapsed = e.pauseElapsed % cycle
	}
	return elapsed, int(elapsed / e.adDuration), true
}

// Run drives the display sink from the local projection until ctx is
// cancelled, invoking it only when the derived index changes.
func (e *Engine) Run(ctx context.Context) {
	t := e.clk.NewTicker(displayTick)
	defer t.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			e.mu.Lock()
			if !e.playing {
				e.mu.Unlock()
				continue
			}
			_, idx, ok := e.projectionLocked(e.clk.Now())
			var ad protocol.Ad
			if ok && idx != last && idx < len(e.ads) {
				ad = e.ads[idx]
			}
			e.mu.Unlock()
			if !ok || idx == last {
				continue
			}
			last = idx
			e.show(ad)
		}
	}
}

// showCurrent displays whatever the projection points at right now, used
// after a full resync from idle or cold start.
func (e *Engine) showCurrent() {
	e.mu.Lock()
	_, idx, ok := e.projectionLocked(e.clk.Now())
	var ad protocol.Ad
	if ok && idx < len(e.ads) {
		ad = e.ads[idx]
	}
	e.mu.Unlock()
	if ok {
		e.show(ad)
	}
}

// show invokes the sink unless the media is not mirrored locally; a missing
// file is a resource problem, not a display call.
func (e *Engine) show(ad protocol.Ad) {
	if ad.Path == "" || !e.cache.Has(ad.Path) {
		e.log.Warn().Int("id", ad.ID).Str("path", ad.Path).Msg("media not available locally")
		return
	}
	e.sink.Show(ad.Content, e.cache.Path(ad.Path))
}

// Status is a point-in-time view for the local console.
type Status struct {
	Connected     bool
	Idle          bool
	Playing       bool
	LocallyPaused bool
	AdContent     string
	Index         int
	Elapsed       time.Duration
	Remaining     time.Duration
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Connected:     e.connected,
		Idle:          e.idle,
		Playing:       e.playing,
		LocallyPaused: e.locallyPaused,
	}
	elapsed, idx, ok := e.projectionLocked(e.clk.Now())
	if ok {
		st.Index = idx
		st.Elapsed = elapsed
		st.Remaining = e.adDuration - elapsed%e.adDuration
		if idx < len(e.ads) {
			st.AdContent = e.ads[idx].Content
		}
	}
	return st
}
