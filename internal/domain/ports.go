package domain

import (
	"context"
	"errors"
	"time"
)

// ErrOfferNotReady is returned by Relay.LookupOffer while no offer is parked
// under the code.
var ErrOfferNotReady = errors.New("offer not ready")

// Relay is the HTTP contract of the signaling relay.
type Relay interface {
	GenerateCode(ctx context.Context) (string, error)
	DeleteCode(ctx context.Context, code string) error
	LookupOffer(ctx context.Context, code string) (*SDPPayload, error)
	SubmitAnswer(ctx context.Context, code string, answer SDPPayload) error
}

// Peer is the answering side of one peer connection.
type Peer interface {
	// OnStateChange and OnTrack must be registered before SetRemoteDescription.
	OnStateChange(fn func(ConnectionState))
	OnTrack(fn func(Track))
	SetRemoteDescription(offer SDPPayload) error
	CreateAnswer() (SDPPayload, error)
	SetLocalDescription(answer SDPPayload) error
	// LocalDescription blocks until candidate gathering is complete.
	LocalDescription(ctx context.Context) (SDPPayload, error)
	Close() error
}

// PeerFactory builds a fresh Peer for a session.
type PeerFactory interface {
	NewPeer() (Peer, error)
}

// Track is one inbound media track.
type Track interface {
	ID() string
	Kind() MediaKind
	// ReceiveNext returns ErrFrameTimeout when nothing arrived within timeout
	// and ErrTransportClosed once the connection is gone.
	ReceiveNext(timeout time.Duration) (*MediaFrame, error)
}

// RenderSink receives decoded frames.
type RenderSink interface {
	Present(data []byte, width, height int, format PixelFormat) error
	Supports(format PixelFormat) bool
}

// StatusObserver receives lifecycle notifications for the presentation layer.
type StatusObserver interface {
	OnConnectionState(state ConnectionState)
	OnCodeRequested()
	OnCodeIssued(code PairingCode)
	OnCodeRevoked(code PairingCode)
	OnCodeFailed(err error)
	OnPollExhausted(code PairingCode)
	OnWarning(err error)
	OnDeviceToggled(kind MediaKind, enabled bool)
}
