package domaintest

import (
	"context"
	"sync"

	"pixelstreamer/native/internal/domain"
)

// Peer is a scriptable domain.Peer. Emit and AddTrack drive the registered
// callbacks synchronously.
type Peer struct {
	RemoteErr error
	AnswerErr error
	LocalErr  error
	// Gather, when non-nil, stalls LocalDescription until it is closed.
	Gather chan struct{}

	mu      sync.Mutex
	stateFn func(domain.ConnectionState)
	trackFn func(domain.Track)
	remote  []domain.SDPPayload
	local   []domain.SDPPayload
	closes  int
}

func (p *Peer) OnStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateFn = fn
}

func (p *Peer) OnTrack(fn func(domain.Track)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackFn = fn
}

func (p *Peer) SetRemoteDescription(offer domain.SDPPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RemoteErr != nil {
		return p.RemoteErr
	}
	p.remote = append(p.remote, offer)
	return nil
}

func (p *Peer) CreateAnswer() (domain.SDPPayload, error) {
	if p.AnswerErr != nil {
		return domain.SDPPayload{}, p.AnswerErr
	}
	return domain.SDPPayload{Type: "answer", SDP: "v=0 answer"}, nil
}

func (p *Peer) SetLocalDescription(answer domain.SDPPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LocalErr != nil {
		return p.LocalErr
	}
	p.local = append(p.local, answer)
	return nil
}

func (p *Peer) LocalDescription(ctx context.Context) (domain.SDPPayload, error) {
	if p.Gather != nil {
		select {
		case <-p.Gather:
		case <-ctx.Done():
			return domain.SDPPayload{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.local) == 0 {
		return domain.SDPPayload{}, context.Canceled
	}
	d := p.local[len(p.local)-1]
	d.SDP += "\r\na=candidate:1 1 udp 1 127.0.0.1 5000 typ host"
	return d, nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Emit reports a transport state as the real peer connection would.
func (p *Peer) Emit(state domain.ConnectionState) {
	p.mu.Lock()
	fn := p.stateFn
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// AddTrack announces an inbound track.
func (p *Peer) AddTrack(t domain.Track) {
	p.mu.Lock()
	fn := p.trackFn
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// Closes returns how many times Close was called.
func (p *Peer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// RemoteDescriptions returns the offers applied so far.
func (p *Peer) RemoteDescriptions() []domain.SDPPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SDPPayload(nil), p.remote...)
}

// PeerFactory hands out Peers in order, then fresh default ones.
type PeerFactory struct {
	Peers []*Peer
	Err   error

	mu      sync.Mutex
	created []*Peer
}

func (f *PeerFactory) NewPeer() (domain.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var p *Peer
	if len(f.Peers) > 0 {
		p = f.Peers[0]
		f.Peers = f.Peers[1:]
	} else {
		p = &Peer{}
	}
	f.created = append(f.created, p)
	return p, nil
}

// Created returns every peer handed out.
func (f *PeerFactory) Created() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Peer(nil), f.created...)
}

// Last returns the most recently created peer, or nil.
func (f *PeerFactory) Last() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
