// Package streamer coordinates one pairing session at a time: issue a code,
// wait for the viewer's offer, answer it and render what arrives.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/ingest"
	"pixelstreamer/native/internal/logging"
	"pixelstreamer/native/internal/pairing"
	"pixelstreamer/native/internal/poller"
	"pixelstreamer/native/internal/session"

	"github.com/rs/zerolog"
)

// DefaultRevokeTimeout bounds the background code deletion after teardown.
const DefaultRevokeTimeout = 10 * time.Second

// Deps are the collaborators of a Streamer.
type Deps struct {
	Relay    domain.Relay
	Peers    domain.PeerFactory
	Observer domain.StatusObserver
	Pipeline *ingest.Pipeline
}

// Option customizes a Streamer.
type Option func(*Streamer)

// WithPollerOptions passes options to the offer poller.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(s *Streamer) { s.pollOpts = append(s.pollOpts, opts...) }
}

// WithSessionOptions passes options to every negotiator.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Streamer) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// WithRevokeTimeout bounds the background code deletion.
func WithRevokeTimeout(d time.Duration) Option {
	return func(s *Streamer) {
		if d > 0 {
			s.revokeTimeout = d
		}
	}
}

// Streamer implements status.Commander. Commands return immediately; the
// work runs on goroutines owned by the Streamer.
type Streamer struct {
	deps        Deps
	pairing     *pairing.Client
	poller      *poller.Poller
	pollOpts    []poller.Option
	sessionOpts []session.Option

	revokeTimeout time.Duration
	log           zerolog.Logger

	// cmdMu serializes Start and Stop.
	cmdMu sync.Mutex
	// toggleMu keeps device notifications in flip order.
	toggleMu sync.Mutex

	mu      sync.Mutex
	current *run
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// run is one generate → poll → negotiate attempt.
type run struct {
	code   domain.PairingCode
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	neg     *session.Negotiator
	stopped bool
}

// attach records the negotiator unless the run was already stopped.
func (r *run) attach(n *session.Negotiator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.neg = n
	return true
}

// stop stops the attached negotiator, if any, and blocks new attachments.
func (r *run) stop() {
	r.mu.Lock()
	r.stopped = true
	n := r.neg
	r.mu.Unlock()
	if n != nil {
		n.Stop()
	}
}

// New creates a Streamer. pollCfg zero fields take the poller defaults.
func New(deps Deps, pollCfg poller.Config, opts ...Option) *Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Streamer{
		deps:          deps,
		revokeTimeout: DefaultRevokeTimeout,
		log:           logging.Component("streamer"),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.pairing = pairing.NewClient(deps.Relay, deps.Observer)
	s.poller = poller.New(deps.Relay, pollCfg, s.pollOpts...)
	return s
}

// ActiveCode returns the code currently shown to the user.
func (s *Streamer) ActiveCode() (domain.PairingCode, bool) {
	return s.pairing.Active()
}

// GenerateCode tears down any current session and starts a new one.
func (s *Streamer) GenerateCode() {
	s.async("generate", func(ctx context.Context) error {
		_, err := s.Start(ctx)
		return err
	})
}

// DeleteCode tears down the current session and revokes its code.
func (s *Streamer) DeleteCode() {
	s.async("delete", func(ctx context.Context) error {
		s.Stop()
		return nil
	})
}

// ToggleDevice switches rendering of one media kind.
func (s *Streamer) ToggleDevice(kind domain.MediaKind) {
	s.toggleMu.Lock()
	defer s.toggleMu.Unlock()

	enabled := s.deps.Pipeline.Toggle(kind)
	s.log.Info().Str("kind", kind.String()).Bool("enabled", enabled).Msg("device toggled")
	s.deps.Observer.OnDeviceToggled(kind, enabled)
}

func (s *Streamer) async(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Debug().Str("command", name).Msg("ignoring command after shutdown")
		return
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()
		if err := fn(s.ctx); err != nil {
			s.log.Warn().Err(err).Str("command", name).Msg("command failed")
		}
	}()
}

// Start tears down the current session, issues a new code and begins
// waiting for an offer on a background goroutine. It returns once the code
// is issued.
func (s *Streamer) Start(ctx context.Context) (domain.PairingCode, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.teardown()

	code, err := s.pairing.Generate(ctx)
	if err != nil {
		return domain.PairingCode{}, err
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	r := &run{code: code, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		s.revoke(code)
		return domain.PairingCode{}, errors.New("streamer is shut down")
	}
	s.current = r
	s.mu.Unlock()

	go s.serve(runCtx, r)
	return code, nil
}

// Stop tears down the current session: the poll is cancelled, the peer
// connection and ingestion are stopped, and the code is revoked in the
// background. The local code is cleared before Stop returns.
func (s *Streamer) Stop() {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.teardown()
}

func (s *Streamer) teardown() {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r == nil {
		// A code can outlive its run when the run ended on its own.
		if code, ok := s.pairing.Active(); ok {
			s.revoke(code)
		}
		return
	}

	s.log.Info().Str("code", r.code.Value).Msg("tearing down session")
	// Stopping the negotiator first keeps a cancelled answer from being
	// reported as a failed connection.
	r.stop()
	r.cancel()
	<-r.done
	s.revoke(r.code)
}

func (s *Streamer) revoke(code domain.PairingCode) {
	ctx, cancel := context.WithTimeout(context.Background(), s.revokeTimeout)
	result := s.pairing.RevokeAsync(ctx, code)
	go func() {
		defer cancel()
		<-result
	}()
}

// serve drives one run until the session ends or the run is cancelled.
func (s *Streamer) serve(ctx context.Context, r *run) {
	defer close(r.done)
	log := s.log.With().Str("code", r.code.Value).Logger()

	outcome := <-s.poller.Poll(ctx, r.code)
	switch outcome.Kind {
	case poller.OutcomeCancelled:
		log.Info().Int("attempts", outcome.Attempts).Msg("poll cancelled")
		return
	case poller.OutcomeExhausted:
		log.Warn().Int("attempts", outcome.Attempts).Msg("no viewer joined")
		s.deps.Observer.OnPollExhausted(r.code)
		s.finish(r)
		return
	}

	neg := session.New(r.code, session.Deps{
		Peers:    s.deps.Peers,
		Relay:    s.deps.Relay,
		Observer: s.deps.Observer,
		Ingester: s.deps.Pipeline,
	}, s.sessionOpts...)
	if !r.attach(neg) {
		return
	}
	log = log.With().Str("session", neg.ID()).Logger()

	if err := neg.BeginAnswer(ctx, outcome.Offer); err != nil {
		log.Warn().Err(err).Msg("answer failed")
	}

	select {
	case <-neg.Terminated():
		log.Info().Str("state", neg.State().String()).Msg("session ended")
		neg.Stop()
		s.finish(r)
	case <-ctx.Done():
	}
}

// finish retires a run that ended on its own.
func (s *Streamer) finish(r *run) {
	s.mu.Lock()
	if s.current == r {
		s.current = nil
	}
	s.mu.Unlock()
	s.revoke(r.code)
}

// Shutdown stops the current session, rejects further commands and waits
// for every pending revoke and command to finish.
func (s *Streamer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for commands: %w", ctx.Err()))
	}
	if err := s.pairing.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for revokes: %w", err))
	}
	return errors.Join(errs...)
}
