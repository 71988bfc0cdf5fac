// Package session answers one viewer offer and owns the resulting
// connection state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"
	"pixelstreamer/native/internal/poller"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ingester consumes one inbound track until ctx is cancelled or the track's
// transport goes away.
type Ingester interface {
	Ingest(ctx context.Context, track domain.Track)
}

// Deps are the collaborators of a Negotiator.
type Deps struct {
	Peers    domain.PeerFactory
	Relay    domain.Relay
	Observer domain.StatusObserver
	Ingester Ingester
}

// Option customizes a Negotiator.
type Option func(*Negotiator)

// WithAnswerRetry makes SubmitAnswer try up to attempts times, waiting a
// backoff draw between tries.
func WithAnswerRetry(attempts int, backoff poller.Backoff) Option {
	return func(n *Negotiator) {
		if attempts > 0 {
			n.answerAttempts = attempts
		}
		n.backoff = backoff
	}
}

// WithClock replaces the wall clock used between answer retries.
func WithClock(c poller.Clock) Option {
	return func(n *Negotiator) { n.clock = c }
}

type wallClock struct{}

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Negotiator answers one offer for one pairing code. It is the only writer
// of the session's ConnectionState.
type Negotiator struct {
	id   string
	code domain.PairingCode
	deps Deps
	log  zerolog.Logger

	answerAttempts int
	backoff        poller.Backoff
	clock          poller.Clock

	// notifyMu keeps state notifications in transition order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     domain.ConnectionState
	peer      domain.Peer
	remoteSet bool
	localSet  bool
	stopped   bool
	tracks    map[domain.Track]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce   sync.Once
	termOnce   sync.Once
	terminated chan struct{}
}

// New creates a negotiator for code in the idle state.
func New(code domain.PairingCode, deps Deps, opts ...Option) *Negotiator {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	n := &Negotiator{
		id:             id,
		code:           code,
		deps:           deps,
		log:            logging.Component("session").With().Str("session", id).Str("code", code.Value).Logger(),
		answerAttempts: 1,
		clock:          wallClock{},
		tracks:         make(map[domain.Track]struct{}),
		ctx:            ctx,
		cancel:         cancel,
		terminated:     make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// ID identifies the session in logs.
func (n *Negotiator) ID() string { return n.id }

// State returns the current connection state.
func (n *Negotiator) State() domain.ConnectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Terminated is closed once the session reaches failed or closed.
func (n *Negotiator) Terminated() <-chan struct{} {
	return n.terminated
}

// BeginAnswer answers offer: it builds the peer connection, applies the
// offer, creates and applies the answer, waits for candidate gathering and
// submits the answer to the relay. A nil or empty offer fails with
// domain.ErrMissingOffer before anything else happens.
//
// A failed submission is reported as a warning and does not fail the call;
// the transport's own state decides whether the session connects.
func (n *Negotiator) BeginAnswer(ctx context.Context, offer *domain.SDPPayload) error {
	if offer.Empty() {
		n.log.Warn().Msg("offer is empty")
		n.setState(domain.StateFailed)
		return fmt.Errorf("begin answer: %w", domain.ErrMissingOffer)
	}

	peer, err := n.preparePeer()
	if err != nil {
		if errors.Is(err, domain.ErrConnectionFailed) {
			n.log.Error().Err(err).Msg("create peer")
			n.transportState(domain.StateFailed)
		}
		return err
	}
	n.transportState(domain.StateConnecting)

	// Stop aborts the gathering wait as well as the caller's ctx.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(n.ctx, cancel)
	defer release()

	answer, err := n.negotiate(ctx, peer, *offer)
	if err != nil {
		if n.isStopped() {
			return fmt.Errorf("begin answer: %w", domain.ErrTransportClosed)
		}
		n.log.Error().Err(err).Msg("negotiation failed")
		n.transportState(domain.StateFailed)
		return fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
	}

	if err := n.SubmitAnswer(ctx, answer); err != nil {
		n.log.Warn().Err(err).Msg("answer not delivered, waiting on transport")
	}
	return nil
}

func (n *Negotiator) preparePeer() (domain.Peer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return nil, fmt.Errorf("begin answer: %w", domain.ErrTransportClosed)
	}
	if n.remoteSet {
		return nil, fmt.Errorf("begin answer: %w", domain.ErrSessionActive)
	}
	if n.peer == nil {
		peer, err := n.deps.Peers.NewPeer()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err)
		}
		peer.OnStateChange(n.transportState)
		peer.OnTrack(n.handleTrack)
		n.peer = peer
	}
	n.remoteSet = true
	return n.peer, nil
}

func (n *Negotiator) negotiate(ctx context.Context, peer domain.Peer, offer domain.SDPPayload) (domain.SDPPayload, error) {
	n.log.Info().Msg("applying offer")
	if err := peer.SetRemoteDescription(offer); err != nil {
		return domain.SDPPayload{}, err
	}

	answer, err := peer.CreateAnswer()
	if err != nil {
		return domain.SDPPayload{}, err
	}
	if !n.claim(&n.localSet) {
		return domain.SDPPayload{}, domain.ErrSessionActive
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, err
	}

	n.log.Info().Msg("gathering candidates")
	return peer.LocalDescription(ctx)
}

func (n *Negotiator) claim(flag *bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

// SubmitAnswer posts answer for this session's code. Failures wrap
// domain.ErrAnswerSubmissionFailed and are reported as warnings.
func (n *Negotiator) SubmitAnswer(ctx context.Context, answer domain.SDPPayload) error {
	var err error
retry:
	for attempt := 0; attempt < n.answerAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-n.clock.After(n.backoff.Delay(attempt)):
			case <-ctx.Done():
				err = errors.Join(err, ctx.Err())
				break retry
			}
		}

		err = n.deps.Relay.SubmitAnswer(ctx, n.code.Value, answer)
		if err == nil {
			n.log.Info().Int("attempt", attempt+1).Msg("answer submitted")
			return nil
		}
		n.log.Warn().Err(err).Int("attempt", attempt+1).Msg("submit answer")
	}

	if !errors.Is(err, domain.ErrAnswerSubmissionFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrAnswerSubmissionFailed, err)
	}
	n.deps.Observer.OnWarning(err)
	return err
}

// Stop closes the peer connection, stops ingestion and waits for every
// ingest task to return. Later transport events are ignored. Stop may be
// called from any goroutine and any number of times.
func (n *Negotiator) Stop() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.stopped = true
		peer := n.peer
		n.mu.Unlock()

		n.cancel()
		if peer != nil {
			if err := peer.Close(); err != nil {
				n.log.Warn().Err(err).Msg("close peer")
			}
		}
		n.wg.Wait()

		if n.State() != domain.StateIdle {
			n.setState(domain.StateClosed)
		}
		n.log.Info().Msg("session stopped")
	})
}

func (n *Negotiator) isStopped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}

// transportState applies a state change unless the session was stopped.
func (n *Negotiator) transportState(state domain.ConnectionState) {
	if n.isStopped() {
		n.log.Debug().Str("state", state.String()).Msg("ignoring state after stop")
		return
	}
	n.setState(state)
}

func (n *Negotiator) setState(next domain.ConnectionState) {
	n.notifyMu.Lock()
	defer n.notifyMu.Unlock()

	n.mu.Lock()
	prev := n.state
	if prev == next || prev == domain.StateClosed {
		n.mu.Unlock()
		return
	}
	n.state = next
	n.mu.Unlock()

	n.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("state")
	n.deps.Observer.OnConnectionState(next)
	if next.Terminal() {
		n.termOnce.Do(func() { close(n.terminated) })
	}
}

func (n *Negotiator) handleTrack(track domain.Track) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	if _, seen := n.tracks[track]; seen {
		n.mu.Unlock()
		return
	}
	n.tracks[track] = struct{}{}
	n.wg.Add(1)
	n.mu.Unlock()

	n.log.Info().Str("track", track.ID()).Str("kind", track.Kind().String()).Msg("starting ingest")
	go func() {
		defer n.wg.Done()
		n.deps.Ingester.Ingest(n.ctx, track)
		n.log.Info().Str("track", track.ID()).Msg("ingest finished")
	}()
}
