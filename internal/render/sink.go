// Package render holds the local outputs for received media.
package render

import (
	"fmt"
	"io"
	"sync"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/rs/zerolog"
)

// AnnexBSink writes H264 access units as a raw Annex-B byte stream, suitable
// for piping into ffplay or ffmpeg.
type AnnexBSink struct {
	mu sync.Mutex
	w  io.Writer

	lastW, lastH int
	log          zerolog.Logger
}

// NewAnnexBSink creates a sink writing to w.
func NewAnnexBSink(w io.Writer) *AnnexBSink {
	return &AnnexBSink{w: w, log: logging.Component("render")}
}

func (s *AnnexBSink) Supports(format domain.PixelFormat) bool {
	return format == domain.FormatH264
}

// Present writes one access unit. Frames already carry start codes.
func (s *AnnexBSink) Present(data []byte, width, height int, format domain.PixelFormat) error {
	if !s.Supports(format) {
		return fmt.Errorf("annex-b sink: unsupported format %q", format)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if width > 0 && (width != s.lastW || height != s.lastH) {
		s.log.Info().Int("width", width).Int("height", height).Msg("video size")
		s.lastW, s.lastH = width, height
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write access unit: %w", err)
	}
	return nil
}

// Router sends each frame to the first sink that supports its format.
type Router struct {
	sinks []domain.RenderSink
}

// NewRouter creates a router over sinks, in priority order.
func NewRouter(sinks ...domain.RenderSink) *Router {
	return &Router{sinks: sinks}
}

func (r *Router) Supports(format domain.PixelFormat) bool {
	return r.route(format) != nil
}

func (r *Router) Present(data []byte, width, height int, format domain.PixelFormat) error {
	sink := r.route(format)
	if sink == nil {
		return fmt.Errorf("no sink for format %q", format)
	}
	return sink.Present(data, width, height, format)
}

func (r *Router) route(format domain.PixelFormat) domain.RenderSink {
	for _, s := range r.sinks {
		if s.Supports(format) {
			return s
		}
	}
	return nil
}
