package domaintest

import (
	"errors"
	"sync"
	"time"

	"pixelstreamer/native/internal/domain"
)

// Receive is one scripted ReceiveNext result.
type Receive struct {
	Frame *domain.MediaFrame
	Err   error
}

// Track replays scripted results, then reports domain.ErrTransportClosed.
// If Hold is set, it blocks after the script until Hold is closed.
type Track struct {
	TrackID   string
	MediaKind domain.MediaKind
	Script    []Receive
	Hold      chan struct{}

	mu    sync.Mutex
	calls int
}

func (t *Track) ID() string              { return t.TrackID }
func (t *Track) Kind() domain.MediaKind { return t.MediaKind }

func (t *Track) ReceiveNext(timeout time.Duration) (*domain.MediaFrame, error) {
	t.mu.Lock()
	t.calls++
	if len(t.Script) > 0 {
		r := t.Script[0]
		t.Script = t.Script[1:]
		t.mu.Unlock()
		return r.Frame, r.Err
	}
	hold := t.Hold
	t.mu.Unlock()

	if hold != nil {
		<-hold
	}
	return nil, domain.ErrTransportClosed
}

// Calls returns how many times ReceiveNext was invoked.
func (t *Track) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Presented is one frame handed to a Sink.
type Presented struct {
	Data   []byte
	Width  int
	Height int
	Format domain.PixelFormat
}

// Sink records presented frames. FailEvery makes every n-th push fail.
type Sink struct {
	Formats   []domain.PixelFormat
	FailEvery int

	mu     sync.Mutex
	pushes int
	Frames []Presented
}

var errPush = errors.New("sink rejected frame")

func (s *Sink) Supports(format domain.PixelFormat) bool {
	if len(s.Formats) == 0 {
		return true
	}
	for _, f := range s.Formats {
		if f == format {
			return true
		}
	}
	return false
}

func (s *Sink) Present(data []byte, width, height int, format domain.PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes++
	if s.FailEvery > 0 && s.pushes%s.FailEvery == 0 {
		return errPush
	}
	s.Frames = append(s.Frames, Presented{Data: data, Width: width, Height: height, Format: format})
	return nil
}

// PresentedFrames returns a copy of the recorded frames.
func (s *Sink) PresentedFrames() []Presented {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Presented(nil), s.Frames...)
}
