package client

import "github.com/rs/zerolog"

// DisplaySink is the opaque rendering surface: it accepts a media reference
// and a title whenever the rotation index changes. Actual image decoding
// and window management live behind this interface.
type DisplaySink interface {
	Show(title, path string)
}

// LogSink is the default sink; it records what would be displayed.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Show(title, path string) {
	s.Log.Info().Str("title", title).Str("path", path).Msg("displaying ad")
}
