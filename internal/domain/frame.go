package domain

import (
	"fmt"
	"time"
)

// MediaKind distinguishes video from audio tracks.
type MediaKind int

const (
	KindVideo MediaKind = iota
	KindAudio
)

func (k MediaKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

func (k MediaKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseMediaKind accepts the command names used by the presentation layer.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch s {
	case "video", "webcam", "camera":
		return KindVideo, true
	case "audio", "microphone", "mic":
		return KindAudio, true
	}
	return 0, false
}

// PixelFormat identifies the sample representation handed to a render sink.
type PixelFormat string

const (
	FormatH264 PixelFormat = "h264" // Annex-B access unit
	FormatOpus PixelFormat = "opus"
	FormatPCMU PixelFormat = "pcmu"
)

// MediaFrame is one sample received from the transport. It is never retained
// past the push to the render sink.
type MediaFrame struct {
	Kind      MediaKind
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Duration
	Keyframe  bool
	Data      []byte
}

func (k *MediaKind) UnmarshalText(b []byte) error {
	kind, ok := ParseMediaKind(string(b))
	if !ok {
		return fmt.Errorf("unknown media kind %q", b)
	}
	*k = kind
	return nil
}
