// Package ingest moves frames from inbound tracks to the render sink.
package ingest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/rs/zerolog"
)

const (
	// DefaultReceiveTimeout bounds each wait for the next frame.
	DefaultReceiveTimeout = 5 * time.Second

	// maxConsecutiveErrors stops a track that keeps failing without ever
	// reporting transport loss.
	maxConsecutiveErrors = 100
)

// Stats counts what a pipeline has done since it was created.
type Stats struct {
	Received  uint64
	Presented uint64
	Dropped   uint64
	Timeouts  uint64
	Errors    uint64
}

// Pipeline forwards frames from any number of tracks to one sink. Each frame
// is pushed independently; a failed push only loses that frame.
type Pipeline struct {
	sink    domain.RenderSink
	timeout time.Duration
	log     zerolog.Logger

	video atomic.Bool
	audio atomic.Bool

	received  atomic.Uint64
	presented atomic.Uint64
	dropped   atomic.Uint64
	timeouts  atomic.Uint64
	failed    atomic.Uint64
}

// New creates a pipeline pushing into sink. A zero timeout uses
// DefaultReceiveTimeout.
func New(sink domain.RenderSink, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	p := &Pipeline{
		sink:    sink,
		timeout: timeout,
		log:     logging.Component("ingest"),
	}
	p.video.Store(true)
	p.audio.Store(true)
	return p
}

// SetEnabled switches rendering of a media kind on or off.
func (p *Pipeline) SetEnabled(kind domain.MediaKind, enabled bool) {
	switch kind {
	case domain.KindVideo:
		p.video.Store(enabled)
	case domain.KindAudio:
		p.audio.Store(enabled)
	}
}

// Toggle flips a media kind and returns its new state.
func (p *Pipeline) Toggle(kind domain.MediaKind) bool {
	flag := p.flag(kind)
	if flag == nil {
		return false
	}
	for {
		cur := flag.Load()
		if flag.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

// Enabled reports whether frames of kind are rendered.
func (p *Pipeline) Enabled(kind domain.MediaKind) bool {
	flag := p.flag(kind)
	return flag != nil && flag.Load()
}

func (p *Pipeline) flag(kind domain.MediaKind) *atomic.Bool {
	switch kind {
	case domain.KindVideo:
		return &p.video
	case domain.KindAudio:
		return &p.audio
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Presented: p.presented.Load(),
		Dropped:   p.dropped.Load(),
		Timeouts:  p.timeouts.Load(),
		Errors:    p.failed.Load(),
	}
}

// Ingest reads track until ctx is cancelled or the transport goes away. No
// push starts after ctx is done.
func (p *Pipeline) Ingest(ctx context.Context, track domain.Track) {
	log := p.log.With().Str("track", track.ID()).Str("kind", track.Kind().String()).Logger()
	log.Info().Msg("ingestion started")
	defer log.Info().Msg("ingestion stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := track.ReceiveNext(p.timeout)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrFrameTimeout):
				p.timeouts.Add(1)
				log.Debug().Msg("timeout waiting for frame, continuing")
				continue
			case TransportGone(err):
				log.Info().Err(err).Msg("track ended")
				return
			}

			p.failed.Add(1)
			failures++
			log.Warn().Err(err).Msg("receive frame")
			if failures >= maxConsecutiveErrors {
				log.Error().Int("failures", failures).Msg("giving up on track")
				return
			}
			continue
		}
		failures = 0
		p.received.Add(1)

		if ctx.Err() != nil {
			return
		}
		p.forward(log, frame)
	}
}

func (p *Pipeline) forward(log zerolog.Logger, frame *domain.MediaFrame) {
	if frame == nil || len(frame.Data) == 0 {
		p.dropped.Add(1)
		return
	}
	if !p.Enabled(frame.Kind) {
		p.dropped.Add(1)
		return
	}
	if !p.sink.Supports(frame.Format) {
		p.dropped.Add(1)
		log.Debug().Str("format", string(frame.Format)).Msg("unsupported frame format")
		return
	}

	if err := p.sink.Present(frame.Data, frame.Width, frame.Height, frame.Format); err != nil {
		p.dropped.Add(1)
		log.Warn().Err(err).Msg("present frame")
		return
	}
	p.presented.Add(1)
}

// TransportGone reports whether err means the underlying connection is
// closed for good.
func TransportGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrTransportClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") && (strings.Contains(msg, "closed") || strings.Contains(msg, "reset"))
}
