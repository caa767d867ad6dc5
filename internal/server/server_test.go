package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/adsync/internal/catalog"
	"github.com/mcdev12/adsync/internal/config"
	"github.com/mcdev12/adsync/internal/playback"
	"github.com/mcdev12/adsync/internal/protocol"
)

func startServer(t *testing.T) (*Server, net.Addr) {
	t.Helper()
	cat, err := catalog.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	cfg := config.DefaultServer()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	clk := clockwork.NewRealClock()
	srv := New(cfg, cat, playback.NewClock(clk, 10*time.Second), clk, zerolog.Nop())
	addr, err := srv.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx) }()
	t.Cleanup(cancel)
	return srv, addr
}

func dialServer(t *testing.T, addr net.Addr) *protocol.Channel {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ch := protocol.NewChannel(conn)
	require.NoError(t, ch.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ch
}

func TestInitialPushOnConnect(t *testing.T) {
	_, addr := startServer(t)
	ch := dialServer(t, addr)

	m, err := ch.Next()
	require.NoError(t, err)
	sync, ok := m.(protocol.Sync)
	require.True(t, ok, "first push should be a sync, got %T", m)
	assert.True(t, sync.IsPlaying)
	assert.Equal(t, float64(10), sync.AdDuration)
	require.NotNil(t, sync.StartTime)
	assert.Nil(t, sync.PauseTime)

	m, err = ch.Next()
	require.NoError(t, err)
	adList, ok := m.(protocol.AdList)
	require.True(t, ok, "second push should be the ad list, got %T", m)
	assert.Len(t, adList.Ads, 3)
}

func TestGetSyncBindsClientID(t *testing.T) {
	srv, addr := startServer(t)
	ch := dialServer(t, addr)

	// Skip the initial push.
	for i := 0; i < 2; i++ {
		_, err := ch.Next()
		require.NoError(t, err)
	}

	require.NoError(t, ch.Send(protocol.GetSync{ClientID: "display-7"}))
	m, err := ch.Next()
	require.NoError(t, err)
	require.IsType(t, protocol.Sync{}, m)

	require.Eventually(t, func() bool {
		sessions := srv.Registry().Snapshot()
		return len(sessions) == 1 && sessions[0].ClientID() == "display-7"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGetFileTransfersBytes(t *testing.T) {
	srv, addr := startServer(t)
	content := []byte("fake image bytes")
	require.NoError(t, os.WriteFile(filepath.Join(srv.Catalog().Dir(), "promo.jpg"), content, 0o644))

	ch := dialServer(t, addr)
	for i := 0; i < 2; i++ {
		_, err := ch.Next()
		require.NoError(t, err)
	}

	require.NoError(t, ch.Send(protocol.GetFile{ClientID: "display-7", Filename: "promo.jpg"}))
	m, err := ch.Next()
	require.NoError(t, err)
	ft, ok := m.(protocol.FileTransfer)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, "promo.jpg", ft.Filename)
	assert.Equal(t, content, ft.Content)
}

func TestMalformedFrameKeepsSessionOpen(t *testing.T) {
	_, addr := startServer(t)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	ch := protocol.NewChannel(conn)
	require.NoError(t, ch.SetReadDeadline(time.Now().Add(5*time.Second)))

	for i := 0; i < 2; i++ {
		_, err := ch.Next()
		require.NoError(t, err)
	}

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"command":"self_destruct"}` + "\n"))
	require.NoError(t, err)

	// Connection survives both; a real request still gets answered.
	require.NoError(t, ch.Send(protocol.GetAds{ClientID: "display-7"}))
	m, err := ch.Next()
	require.NoError(t, err)
	require.IsType(t, protocol.AdList{}, m)
}

func TestToggleBroadcastsPausedSync(t *testing.T) {
	srv, addr := startServer(t)
	ch := dialServer(t, addr)
	for i := 0; i < 2; i++ {
		_, err := ch.Next()
		require.NoError(t, err)
	}

	require.False(t, srv.TogglePlayPause())

	m, err := ch.Next()
	require.NoError(t, err)
	sync, ok := m.(protocol.Sync)
	require.True(t, ok, "got %T", m)
	assert.False(t, sync.IsPlaying)
	require.NotNil(t, sync.PauseTime)
	assert.Nil(t, sync.StartTime)
}

func TestBroadcastEvictsDeadSession(t *testing.T) {
	srv, addr := startServer(t)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, 2*time.Second, 20*time.Millisecond)
	conn.Close()

	// Writes to the closed connection fail and the session is evicted.
	require.Eventually(t, func() bool {
		srv.BroadcastAdList()
		return srv.Registry().Len() == 0
	}, 2*time.Second, 50*time.Millisecond)
}
