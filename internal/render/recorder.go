package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
)

// rtpWriter is implemented by the pion media writers.
type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// Recording is one open diagnostic file fed with raw RTP packets.
type Recording struct {
	Path string

	mu     sync.Mutex
	w      rtpWriter
	closed bool
}

// WriteRTP appends a packet to the recording.
func (r *Recording) WriteRTP(pkt *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}
	return r.w.WriteRTP(pkt)
}

// Close flushes and closes the file. Safe to call more than once.
func (r *Recording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.w.Close()
}

// Recorder writes every received track to a file under Dir: H264 as a raw
// .h264 stream, Opus as .ogg. Other codecs are not recorded.
type Recorder struct {
	Dir string
	now func() time.Time

	mu         sync.Mutex
	recordings []*Recording
	log        zerolog.Logger
}

// NewRecorder creates a recorder writing into dir, creating it if needed.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{Dir: dir, now: time.Now, log: logging.Component("render")}, nil
}

// Open starts a recording for a track. It returns nil when the codec is not
// recordable or the file could not be created.
func (r *Recorder) Open(kind domain.MediaKind, mime string) *Recording {
	stamp := r.now().Format("20060102-150405.000")

	var (
		w    rtpWriter
		path string
		err  error
	)
	switch strings.ToLower(mime) {
	case strings.ToLower(pion.MimeTypeH264):
		path = filepath.Join(r.Dir, fmt.Sprintf("%s-%s.h264", kind, stamp))
		w, err = h264writer.New(path)
	case strings.ToLower(pion.MimeTypeOpus):
		path = filepath.Join(r.Dir, fmt.Sprintf("%s-%s.ogg", kind, stamp))
		w, err = oggwriter.New(path, 48000, 2)
	default:
		r.log.Debug().Str("codec", mime).Msg("codec not recordable")
		return nil
	}
	if err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("open recording")
		return nil
	}

	rec := &Recording{Path: path, w: w}
	r.mu.Lock()
	r.recordings = append(r.recordings, rec)
	r.mu.Unlock()

	r.log.Info().Str("path", path).Msg("recording track")
	return rec
}

// Close closes every recording opened so far.
func (r *Recorder) Close() error {
	r.mu.Lock()
	recs := r.recordings
	r.recordings = nil
	r.mu.Unlock()

	var errs []error
	for _, rec := range recs {
		if err := rec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", rec.Path, err))
		}
	}
	return errors.Join(errs...)
}
