package client

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/adsync/internal/config"
)

// testSupervisor wires a supervisor to an in-memory dialer. Each dial hands
// back one side of a pipe and drains the other so sends never block; the
// server side is delivered on conns so tests can kill connections.
func testSupervisor(t *testing.T) (*Supervisor, *atomic.Int32, chan net.Conn) {
	t.Helper()
	cache, err := NewMediaCache(t.TempDir())
	require.NoError(t, err)

	clk := clockwork.NewRealClock()
	eng := NewEngine("test-client", 0, LogSink{Log: zerolog.Nop()}, cache, clk, zerolog.Nop())

	cfg := config.DefaultClient()
	cfg.ReconnectInterval = config.Duration(20 * time.Millisecond)
	cfg.DriftCheckInterval = 0

	sup := NewSupervisor(cfg, eng, clk, zerolog.Nop())

	var dials atomic.Int32
	conns := make(chan net.Conn, 4)
	sup.dial = func() (net.Conn, error) {
		dials.Add(1)
		local, remote := net.Pipe()
		go func() {
			buf := make([]byte, 4096)
			for {
				if _, err := remote.Read(buf); err != nil {
					return
				}
			}
		}()
		conns <- remote
		return local, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sup.Start(ctx)
	return sup, &dials, conns
}

func (s *Supervisor) channel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil
}

func TestConnectLoopEstablishesOneConnection(t *testing.T) {
	sup, dials, _ := testSupervisor(t)

	require.Eventually(t, sup.channel, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
	assert.True(t, sup.eng.Connected())
}

func TestStaleReconnectDoesNotStackConnections(t *testing.T) {
	sup, dials, _ := testSupervisor(t)
	require.Eventually(t, sup.channel, time.Second, 5*time.Millisecond)

	// A delayed reconnect firing while a connection is already installed
	// must not dial again and displace the live channel.
	sup.Reconnect()
	sup.Reconnect()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), dials.Load())
	assert.True(t, sup.channel())
}

func TestConnectionLossTriggersRedial(t *testing.T) {
	sup, dials, conns := testSupervisor(t)
	require.Eventually(t, sup.channel, time.Second, 5*time.Millisecond)

	// Kill the server side; the receive loop clears the channel and a
	// single fresh connection comes up after the retry interval.
	(<-conns).Close()
	require.Eventually(t, func() bool {
		return dials.Load() == 2 && sup.channel()
	}, time.Second, 5*time.Millisecond)
	assert.True(t, sup.eng.Connected())
}
