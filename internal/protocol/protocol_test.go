package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequests(t *testing.T) {
	m, err := Decode([]byte(`{"command":"get_sync","client_id":"display-3"}`))
	require.NoError(t, err)
	require.Equal(t, GetSync{ClientID: "display-3"}, m)

	m, err = Decode([]byte(`{"command":"get_file","client_id":"display-3","filename":"promo.jpg"}`))
	require.NoError(t, err)
	require.Equal(t, GetFile{ClientID: "display-3", Filename: "promo.jpg"}, m)
}

func TestSyncRoundTrip(t *testing.T) {
	start := 1700000000.25
	in := Sync{
		Timestamp:      1700000023.5,
		ServerTime:     1700000023.5,
		IsPlaying:      true,
		CurrentAdIndex: 2,
		RemainingTime:  7,
		AdDuration:     10,
		ElapsedTime:    23.25,
		StartTime:      &start,
	}
	b, err := in.encode()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"command":"sync"`)
	assert.Contains(t, string(b), `"pause_time":null`)

	out, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeMalformedIsNonFatal(t *testing.T) {
	_, err := Decode([]byte(`{"command":"sync","is_playing":`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"command":"reboot"}`))
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestChannelReassemblesPartialFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		// One frame split across writes, preceded by a probe and an empty
		// frame, followed by a second complete frame.
		chunks := []string{"\n", "  \n", `{"command":"get_ads",`, `"client_id":"a"}` + "\n", `{"command":"get_sync","client_id":"b"}` + "\n"}
		for _, c := range chunks {
			if _, err := client.Write([]byte(c)); err != nil {
				return
			}
		}
	}()

	ch := NewChannel(server)
	m, err := ch.Next()
	require.NoError(t, err)
	require.Equal(t, GetAds{ClientID: "a"}, m)

	m, err = ch.Next()
	require.NoError(t, err)
	require.Equal(t, GetSync{ClientID: "b"}, m)
}

func TestChannelMalformedFrameKeepsConnection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("not json\n"))
		client.Write([]byte(`{"command":"get_ads","client_id":"a"}` + "\n"))
	}()

	ch := NewChannel(server)
	_, err := ch.Next()
	require.ErrorIs(t, err, ErrMalformed)

	m, err := ch.Next()
	require.NoError(t, err)
	require.Equal(t, GetAds{ClientID: "a"}, m)
}

func TestUnixSecondsRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 250_000_000)
	got := TimeFromUnix(UnixSeconds(now))
	assert.WithinDuration(t, now, got, time.Microsecond)
}
