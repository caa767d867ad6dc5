package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed reports a frame that could not be decoded as JSON. The
// connection it arrived on is still usable; callers log and move on.
var ErrMalformed = errors.New("malformed frame")

// ErrUnknownCommand reports a well-formed frame carrying a command outside
// the closed set. Same handling as ErrMalformed.
var ErrUnknownCommand = errors.New("unknown command")

// Ad is one catalog entry as it appears on the wire and in ad_list.json.
// Identity is ID; Path may reference a file that is not available locally.
type Ad struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Path    string `json:"path"`
}

// Message is a decoded protocol frame. The implementations below are the
// complete set; nothing outside this package can add one.
type Message interface {
	Kind() Kind
	encode() ([]byte, error)
}

// GetSync asks the server for a fresh sync snapshot.
type GetSync struct {
	ClientID string `json:"client_id"`
}

// GetAds asks the server for the current ad list.
type GetAds struct {
	ClientID string `json:"client_id"`
}

// GetFile asks the server for the bytes of one media file.
type GetFile struct {
	ClientID string `json:"client_id"`
	Filename string `json:"filename"`
}

// Sync is a point-in-time projection of the server's playback state plus
// transmission timestamps. Timestamp and ServerTime carry the same value;
// both are kept because the client's delay estimate reads them separately.
// Exactly one of StartTime/PauseTime is non-nil depending on IsPlaying.
type Sync struct {
	Timestamp      float64  `json:"timestamp"`
	ServerTime     float64  `json:"server_time"`
	IsPlaying      bool     `json:"is_playing"`
	CurrentAdIndex int      `json:"current_ad_index"`
	RemainingTime  float64  `json:"remaining_time"`
	AdDuration     float64  `json:"ad_duration"`
	ElapsedTime    float64  `json:"elapsed_time"`
	StartTime      *float64 `json:"start_time"`
	PauseTime      *float64 `json:"pause_time"`
}

// AdList is the full ordered catalog pushed or returned by the server.
type AdList struct {
	Ads []Ad `json:"ads"`
}

// FileTransfer carries the bytes of one media file. Content is base64 on
// the wire via the standard []byte JSON encoding.
type FileTransfer struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

func (GetSync) Kind() Kind      { return KindGetSync }
func (GetAds) Kind() Kind       { return KindGetAds }
func (GetFile) Kind() Kind      { return KindGetFile }
func (Sync) Kind() Kind         { return KindSync }
func (AdList) Kind() Kind       { return KindAdList }
func (FileTransfer) Kind() Kind { return KindFileTransfer }

func (m GetSync) encode() ([]byte, error) {
	return json.Marshal(struct {
		Command string `json:"command"`
		GetSync
	}{cmdGetSync, m})
}

func (m GetAds) encode() ([]byte, error) {
	return json.Marshal(struct {
		Command string `json:"command"`
		GetAds
	}{cmdGetAds, m})
}

func (m GetFile) encode() ([]byte, error) {
	return json.Marshal(struct {
		Command string `json:"command"`
		GetFile
	}{cmdGetFile, m})
}

func (m Sync) encode() ([]byte, error) {
	return json.Marshal(struct {
		Command string `json:"command"`
		Sync
	}{cmdSync, m})
}

func (m AdList) encode() ([]byte, error) {
	return json.Marshal(struct {
		Command string `json:"command"`
		AdList
	}{cmdAdList, m})
}

func (m FileTransfer) encode() ([]byte, error) {
	return json.Marshal(struct {
		Command string `json:"command"`
		FileTransfer
	}{cmdFileTransfer, m})
}

// Decode parses one complete frame into its typed message.
func Decode(frame []byte) (Message, error) {
	var env struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	malformed := func(err error) error {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Command, err)
	}

	switch kindOf(env.Command) {
	case KindGetSync:
		var m GetSync
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	case KindGetAds:
		var m GetAds
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	case KindGetFile:
		var m GetFile
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	case KindSync:
		var m Sync
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	case KindAdList:
		var m AdList
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	case KindFileTransfer:
		var m FileTransfer
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, malformed(err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, env.Command)
	}
}

// UnixSeconds converts t to the wire representation: float seconds since
// the Unix epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// TimeFromUnix is the inverse of UnixSeconds.
func TimeFromUnix(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}

// DurationFromSeconds converts a wire duration to a time.Duration.
func DurationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
