package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Config describes how peers are built.
type Config struct {
	ICEServers []string
	// Taps, when set, returns a packet tap for a new track (or nil).
	Taps func(kind domain.MediaKind, mime string) PacketTap
}

// Factory builds answering peers. It implements domain.PeerFactory.
type Factory struct {
	cfg Config
	api *pion.API
}

// NewFactory registers the codecs the streamer can receive and the
// interceptors a receiver needs.
func NewFactory(cfg Config) (*Factory, error) {
	m := &pion.MediaEngine{}

	videoCodecs := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
			},
			PayloadType: 127,
		},
	}
	for _, c := range videoCodecs {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register H264: %w", err)
		}
	}

	audioCodecs := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:  pion.MimeTypePCMU,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 0,
		},
	}
	for _, c := range audioCodecs {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	receiver, err := report.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create receiver report: %w", err)
	}
	i.Add(receiver)

	return &Factory{
		cfg: cfg,
		api: pion.NewAPI(
			pion.WithMediaEngine(m),
			pion.WithInterceptorRegistry(i),
		),
	}, nil
}

// NewPeer creates a fresh peer connection.
func (f *Factory) NewPeer() (domain.Peer, error) {
	var servers []pion.ICEServer
	if len(f.cfg.ICEServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: f.cfg.ICEServers})
	}

	pc, err := f.api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:   pc,
		taps: f.cfg.Taps,
		log:  logging.Component("webrtc"),
	}
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debug().Str("state", state.String()).Msg("ICE connection state")
	})
	pc.OnICEGatheringStateChange(func(state pion.ICEGatheringState) {
		p.log.Debug().Str("state", state.String()).Msg("ICE gathering state")
	})
	return p, nil
}

// Peer wraps a Pion PeerConnection on the answering side.
type Peer struct {
	pc   *pion.PeerConnection
	taps func(kind domain.MediaKind, mime string) PacketTap
	log  zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// OnStateChange reports peer connection state changes mapped onto
// domain.ConnectionState. The initial "new" state is not reported.
func (p *Peer) OnStateChange(fn func(domain.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Info().Str("state", state.String()).Msg("peer connection state")
		if s, ok := mapState(state); ok {
			fn(s)
		}
	})
}

func mapState(state pion.PeerConnectionState) (domain.ConnectionState, bool) {
	switch state {
	case pion.PeerConnectionStateConnecting:
		return domain.StateConnecting, true
	case pion.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case pion.PeerConnectionStateDisconnected:
		return domain.StateDisconnected, true
	case pion.PeerConnectionStateFailed:
		return domain.StateFailed, true
	case pion.PeerConnectionStateClosed:
		return domain.StateClosed, true
	default:
		return 0, false
	}
}

// OnTrack hands every inbound track to fn as a domain.Track.
func (p *Peer) OnTrack(fn func(domain.Track)) {
	p.pc.OnTrack(func(remote *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := remote.Codec()
		p.log.Info().
			Str("kind", remote.Kind().String()).
			Str("codec", codec.MimeType).
			Uint8("pt", uint8(codec.PayloadType)).
			Msg("got track")

		kind := domain.KindVideo
		if remote.Kind() == pion.RTPCodecTypeAudio {
			kind = domain.KindAudio
		}
		id := remote.ID()
		if id == "" {
			id = fmt.Sprintf("%s-%d", kind, remote.SSRC())
		}

		t := newTrack(remote, id, kind, codec.MimeType, codec.ClockRate)
		if p.taps != nil {
			if tap := p.taps(kind, codec.MimeType); tap != nil {
				t.SetTap(tap)
			}
		}
		fn(t)
	})
}

// SetRemoteDescription applies the viewer's offer.
func (p *Peer) SetRemoteDescription(offer domain.SDPPayload) error {
	if offer.Type != "" && !strings.EqualFold(offer.Type, pion.SDPTypeOffer.String()) {
		return fmt.Errorf("set remote description: unexpected type %q", offer.Type)
	}
	desc := pion.SessionDescription{
		Type: pion.SDPTypeOffer,
		SDP:  offer.SDP,
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.log.Info().Msg("remote SDP offer set")
	return nil
}

// CreateAnswer creates the local answer.
func (p *Peer) CreateAnswer() (domain.SDPPayload, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetLocalDescription applies the answer and starts candidate gathering.
func (p *Peer) SetLocalDescription(answer domain.SDPPayload) error {
	desc := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  answer.SDP,
	}
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.log.Info().Msg("local SDP answer set")
	return nil
}

// LocalDescription waits for candidate gathering and returns the answer with
// all candidates inlined; the relay carries a single description.
func (p *Peer) LocalDescription(ctx context.Context) (domain.SDPPayload, error) {
	select {
	case <-pion.GatheringCompletePromise(p.pc):
	case <-ctx.Done():
		return domain.SDPPayload{}, fmt.Errorf("gather candidates: %w", ctx.Err())
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return domain.SDPPayload{}, fmt.Errorf("no local description")
	}
	return domain.SDPPayload{Type: local.Type.String(), SDP: local.SDP}, nil
}

// Close shuts down the PeerConnection. Safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
