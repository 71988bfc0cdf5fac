package webrtc

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"pixelstreamer/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// rtpSource is the part of *pion.TrackRemote the reader needs.
type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	SetReadDeadline(t time.Time) error
}

// PacketTap receives every RTP packet read from a track. Used for diagnostic
// recordings.
type PacketTap interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Track adapts an inbound pion track to domain.Track. Video is assembled
// into Annex-B access units; audio packets are passed through one per frame.
type Track struct {
	src       rtpSource
	id        string
	kind      domain.MediaKind
	format    domain.PixelFormat
	clockRate uint32
	tap       PacketTap

	h264    *h264Unpacker
	pending [][]byte
	pendTS  uint32
	hasPend bool
	key     bool
	// ready holds completed frames not yet returned, oldest first.
	ready []*domain.MediaFrame

	baseTS  uint32
	hasBase bool
	width   int
	height  int
}

func newTrack(src rtpSource, id string, kind domain.MediaKind, mime string, clockRate uint32) *Track {
	t := &Track{
		src:       src,
		id:        id,
		kind:      kind,
		format:    formatForMime(mime),
		clockRate: clockRate,
	}
	if t.format == domain.FormatH264 {
		t.h264 = &h264Unpacker{}
	}
	return t
}

func formatForMime(mime string) domain.PixelFormat {
	switch strings.ToLower(mime) {
	case strings.ToLower(pion.MimeTypeH264):
		return domain.FormatH264
	case strings.ToLower(pion.MimeTypeOpus):
		return domain.FormatOpus
	case strings.ToLower(pion.MimeTypePCMU):
		return domain.FormatPCMU
	default:
		return domain.PixelFormat(strings.ToLower(mime))
	}
}

// SetTap installs a packet tap. It must be called before the first read.
func (t *Track) SetTap(tap PacketTap) {
	t.tap = tap
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() domain.MediaKind { return t.kind }

// ReceiveNext returns the next complete frame, reading packets until one is
// available or the timeout elapses.
func (t *Track) ReceiveNext(timeout time.Duration) (*domain.MediaFrame, error) {
	if frame := t.next(); frame != nil {
		return frame, nil
	}
	if err := t.src.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, classifyReadError(err)
	}

	for {
		pkt, _, err := t.src.ReadRTP()
		if err != nil {
			return nil, classifyReadError(err)
		}
		if t.tap != nil {
			if err := t.tap.WriteRTP(pkt); err != nil {
				t.tap = nil
			}
		}
		t.push(pkt)
		if frame := t.next(); frame != nil {
			return frame, nil
		}
	}
}

func (t *Track) next() *domain.MediaFrame {
	if len(t.ready) == 0 {
		return nil
	}
	frame := t.ready[0]
	t.ready[0] = nil
	t.ready = t.ready[1:]
	return frame
}

// push feeds one packet. A single packet can complete two frames: the one a
// timestamp change closes and its own, when it carries the marker.
func (t *Track) push(pkt *rtp.Packet) {
	if !t.hasBase {
		t.baseTS = pkt.Timestamp
		t.hasBase = true
	}
	if t.h264 == nil {
		if len(pkt.Payload) > 0 {
			t.ready = append(t.ready, &domain.MediaFrame{
				Kind:      t.kind,
				Format:    t.format,
				Timestamp: t.pts(pkt.Timestamp),
				Data:      append([]byte(nil), pkt.Payload...),
			})
		}
		return
	}

	// A timestamp change without a marker closes the previous access unit.
	if t.hasPend && pkt.Timestamp != t.pendTS {
		t.ready = append(t.ready, t.flush())
	}

	for _, nalu := range t.h264.unpack(pkt) {
		switch nalType(nalu[0]) {
		case nalIDR:
			t.key = true
		case nalSPS:
			if w, h, err := parseSPSResolution(nalu); err == nil {
				t.width, t.height = w, h
			}
		}
		t.pending = append(t.pending, nalu)
		t.pendTS = pkt.Timestamp
		t.hasPend = true
	}

	if pkt.Marker && t.hasPend {
		t.ready = append(t.ready, t.flush())
	}
}

func (t *Track) flush() *domain.MediaFrame {
	size := 0
	for _, n := range t.pending {
		size += len(annexBStartCode) + len(n)
	}
	data := make([]byte, 0, size)
	for _, n := range t.pending {
		data = append(data, annexBStartCode...)
		data = append(data, n...)
	}

	frame := &domain.MediaFrame{
		Kind:      t.kind,
		Width:     t.width,
		Height:    t.height,
		Format:    t.format,
		Timestamp: t.pts(t.pendTS),
		Keyframe:  t.key,
		Data:      data,
	}
	t.pending = t.pending[:0]
	t.hasPend = false
	t.key = false
	return frame
}

func (t *Track) pts(ts uint32) time.Duration {
	if t.clockRate == 0 {
		return 0
	}
	delta := ts - t.baseTS
	return time.Duration(uint64(delta) * uint64(time.Second) / uint64(t.clockRate))
}

func classifyReadError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.ErrFrameTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrFrameTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return errors.Join(domain.ErrTransportClosed, err)
	}
	return err
}
