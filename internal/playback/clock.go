// Package playback holds the server's authoritative play/pause rotation
// timer and the index arithmetic derived from it.
package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Snapshot is a point-in-time projection of the rotation clock for a
// catalog of a given length. It is only ever used for reconciliation; the
// Clock remains the single source of truth.
type Snapshot struct {
	TakenAt    time.Time
	Playing    bool
	Index      int
	Elapsed    time.Duration
	Remaining  time.Duration
	AdDuration time.Duration

	// StartTime is set while playing, PauseElapsed while paused. Never both.
	StartTime    time.Time
	PauseElapsed time.Duration
}

// Clock is the authoritative rotation timer. While playing it holds the
// anchor start time; while paused it holds the frozen elapsed offset.
// Storing one and deriving the other avoids drift from repeated
// re-derivation.
type Clock struct {
	mu           sync.Mutex
	clk          clockwork.Clock
	playing      bool
	startTime    time.Time
	pauseElapsed time.Duration
	adDuration   time.Duration
}

// NewClock returns a clock that starts playing immediately.
func NewClock(clk clockwork.Clock, adDuration time.Duration) *Clock {
	return &Clock{
		clk:        clk,
		playing:    true,
		startTime:  clk.Now(),
		adDuration: adDuration,
	}
}

// Snapshot projects the current position over a catalog of n entries.
// An empty catalog disables the rotation math: index and times are zero.
func (c *Clock) Snapshot(n int) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(n)
}

// snapshotLocked requires c.mu to be held.
func (c *Clock) snapshotLocked(n int) Snapshot {
	now := c.clk.Now()
	s := Snapshot{TakenAt: now, Playing: c.playing, AdDuration: c.adDuration}
	if c.playing {
		s.StartTime = c.startTime
	} else {
		s.PauseElapsed = c.pauseElapsed
	}
	if n <= 0 || c.adDuration <= 0 {
		return s
	}

	cycle := c.adDuration * time.Duration(n)
	var elapsed time.Duration
	if c.playing {
		elapsed = now.Sub(c.startTime) % cycle
		if elapsed < 0 {
			elapsed += cycle
		}
	} else {
		elapsed = c.pauseElapsed % cycle
	}
	s.Elapsed = elapsed
	s.Index = int(elapsed / c.adDuration)
	s.Remaining = c.adDuration - elapsed%c.adDuration
	return s
}

// Toggle flips between play and pause without moving the instantaneous
// rotation position, and reports the resulting playing state.
func (c *Clock) Toggle(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.pauseElapsed = c.snapshotLocked(n).Elapsed
		c.playing = false
	} else {
		c.startTime = c.clk.Now().Add(-c.pauseElapsed)
		c.playing = true
	}
	return c.playing
}

func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Clock) AdDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adDuration
}

// SetAdDuration changes the per-ad duration. Position is not preserved
// across a duration change; the next snapshot simply reinterprets the
// elapsed offset.
func (c *Clock) SetAdDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adDuration = d
}
