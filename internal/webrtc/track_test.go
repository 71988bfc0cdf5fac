package webrtc

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"pixelstreamer/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRead struct {
	pkt *rtp.Packet
	err error
}

type fakeSource struct {
	mu       sync.Mutex
	reads    []fakeRead
	deadline time.Time
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reads) == 0 {
		return nil, nil, io.EOF
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	return r.pkt, nil, r.err
}

func (s *fakeSource) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = t
	return nil
}

func pkt(seq uint16, ts uint32, marker bool, payload ...byte) fakeRead {
	return fakeRead{pkt: &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Timestamp: ts, Marker: marker},
		Payload: payload,
	}}
}

type recordingTap struct {
	packets []*rtp.Packet
	err     error
}

func (r *recordingTap) WriteRTP(p *rtp.Packet) error {
	r.packets = append(r.packets, p)
	return r.err
}

func TestTrack_AssemblesAccessUnitOnMarker(t *testing.T) {
	src := &fakeSource{reads: []fakeRead{
		pkt(1, 9000, false, 0x67, 0xAA),
		pkt(2, 9000, false, 0x68, 0xBB),
		pkt(3, 9000, true, 0x65, 0xCC, 0xDD),
	}}
	tr := newTrack(src, "v0", domain.KindVideo, pion.MimeTypeH264, 90000)

	frame, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)

	want := []byte{
		0, 0, 0, 1, 0x67, 0xAA,
		0, 0, 0, 1, 0x68, 0xBB,
		0, 0, 0, 1, 0x65, 0xCC, 0xDD,
	}
	assert.Equal(t, want, frame.Data)
	assert.True(t, frame.Keyframe)
	assert.Equal(t, domain.FormatH264, frame.Format)
	assert.Equal(t, domain.KindVideo, frame.Kind)
	assert.Equal(t, time.Duration(0), frame.Timestamp)
	assert.False(t, src.deadline.IsZero(), "read deadline set")
}

func TestTrack_TimestampChangeClosesAccessUnit(t *testing.T) {
	src := &fakeSource{reads: []fakeRead{
		pkt(1, 0, false, 0x41, 0x01),
		pkt(2, 3000, true, 0x41, 0x02),
	}}
	tr := newTrack(src, "v0", domain.KindVideo, pion.MimeTypeH264, 90000)

	first, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x41, 0x01}, first.Data)
	assert.False(t, first.Keyframe)

	second, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x41, 0x02}, second.Data)
	assert.Equal(t, 3000*time.Second/90000, second.Timestamp)
}

func TestTrack_MarkerAfterTimestampChangeIsNotHeldBack(t *testing.T) {
	src := &fakeSource{reads: []fakeRead{
		pkt(1, 9000, false, 0x65, 0x01),
		pkt(2, 12000, true, 0x41, 0x02),
	}}
	tr := newTrack(src, "v0", domain.KindVideo, pion.MimeTypeH264, 90000)

	first, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65, 0x01}, first.Data)
	assert.True(t, first.Keyframe)

	// The second access unit completed on the same packet; it is returned
	// without another read, before the source reports EOF.
	src.deadline = time.Time{}
	second, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x41, 0x02}, second.Data)
	assert.False(t, second.Keyframe)
	assert.True(t, src.deadline.IsZero(), "no read for a queued frame")

	_, err = tr.ReceiveNext(time.Second)
	assert.ErrorIs(t, err, domain.ErrTransportClosed)
}

func TestTrack_FragmentGapDropsOnlyThatNAL(t *testing.T) {
	frags := fuA([]byte{0xAA}, []byte{0xBB}, []byte{0xCC})
	src := &fakeSource{reads: []fakeRead{
		pkt(10, 0, false, 0x67, 0x42),
		pkt(11, 0, false, frags[0]...),
		pkt(13, 0, false, frags[2]...), // 12 lost
		pkt(14, 0, true, 0x68, 0xCE),
	}}
	tr := newTrack(src, "v0", domain.KindVideo, pion.MimeTypeH264, 90000)

	frame, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xCE}, frame.Data)
	assert.False(t, frame.Keyframe)
	assert.Equal(t, 1, tr.h264.dropped)
}

func TestTrack_SPSSetsFrameSize(t *testing.T) {
	sps := buildSPS(spsParams{profile: 66, widthMbs: 80, heightMbs: 45})
	src := &fakeSource{reads: []fakeRead{
		pkt(1, 0, false, sps...),
		pkt(2, 0, true, 0x65, 0x01),
	}}
	tr := newTrack(src, "v0", domain.KindVideo, pion.MimeTypeH264, 90000)

	frame, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1280, frame.Width)
	assert.Equal(t, 720, frame.Height)
}

func TestTrack_AudioPassthrough(t *testing.T) {
	src := &fakeSource{reads: []fakeRead{
		pkt(1, 48000, true),
		pkt(2, 48960, true, 0xF8, 0xFF),
	}}
	tr := newTrack(src, "a0", domain.KindAudio, pion.MimeTypeOpus, 48000)

	frame, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.FormatOpus, frame.Format)
	assert.Equal(t, []byte{0xF8, 0xFF}, frame.Data)
	assert.Equal(t, 20*time.Millisecond, frame.Timestamp)
}

func TestTrack_TapSeesEveryPacketUntilItFails(t *testing.T) {
	src := &fakeSource{reads: []fakeRead{
		pkt(1, 0, true, 0x01),
		pkt(2, 960, true, 0x02),
	}}
	tap := &recordingTap{err: errors.New("disk full")}
	tr := newTrack(src, "a0", domain.KindAudio, pion.MimeTypePCMU, 8000)
	tr.SetTap(tap)

	_, err := tr.ReceiveNext(time.Second)
	require.NoError(t, err)
	_, err = tr.ReceiveNext(time.Second)
	require.NoError(t, err)

	assert.Len(t, tap.packets, 1, "failed tap is detached")
}

func TestTrack_ReadErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", os.ErrDeadlineExceeded, domain.ErrFrameTimeout},
		{"eof", io.EOF, domain.ErrTransportClosed},
		{"closed pipe", io.ErrClosedPipe, domain.ErrTransportClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{reads: []fakeRead{{err: tt.err}}}
			tr := newTrack(src, "v0", domain.KindVideo, pion.MimeTypeH264, 90000)

			_, err := tr.ReceiveNext(time.Second)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMapState(t *testing.T) {
	_, ok := mapState(pion.PeerConnectionStateNew)
	assert.False(t, ok)

	tests := map[pion.PeerConnectionState]domain.ConnectionState{
		pion.PeerConnectionStateConnecting:   domain.StateConnecting,
		pion.PeerConnectionStateConnected:    domain.StateConnected,
		pion.PeerConnectionStateDisconnected: domain.StateDisconnected,
		pion.PeerConnectionStateFailed:       domain.StateFailed,
		pion.PeerConnectionStateClosed:       domain.StateClosed,
	}
	for in, want := range tests {
		got, ok := mapState(in)
		assert.True(t, ok, in.String())
		assert.Equal(t, want, got, in.String())
	}
}

func TestFormatForMime(t *testing.T) {
	assert.Equal(t, domain.FormatH264, formatForMime("video/h264"))
	assert.Equal(t, domain.FormatOpus, formatForMime(pion.MimeTypeOpus))
	assert.Equal(t, domain.FormatPCMU, formatForMime(pion.MimeTypePCMU))
	assert.Equal(t, domain.PixelFormat("video/vp8"), formatForMime("video/VP8"))
}
