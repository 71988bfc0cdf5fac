// Package poller waits for a viewer's offer to appear on the relay.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/rs/zerolog"
)

// Config bounds one poll.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns 30 attempts with a 1s base and a 30s cap.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 30,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Clock abstracts the backoff wait so tests can run without real timers.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OutcomeKind is the terminal result of a poll.
type OutcomeKind int

const (
	OutcomeOffer OutcomeKind = iota
	OutcomeExhausted
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOffer:
		return "offer"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is emitted once per poll.
type Outcome struct {
	Kind     OutcomeKind
	Offer    *domain.SDPPayload
	Attempts int
	// Err is domain.ErrOfferPollExhausted or domain.ErrOfferPollCancelled for
	// the non-offer outcomes.
	Err error
}

// Poller polls the relay's offer-lookup endpoint.
type Poller struct {
	relay   domain.Relay
	cfg     Config
	clock   Clock
	backoff Backoff
	log     zerolog.Logger
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock used for backoff waits.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithJitter replaces the random source used for backoff draws.
func WithJitter(fn func(n int64) int64) Option {
	return func(p *Poller) { p.backoff.Jitter = fn }
}

// New creates a Poller. Zero fields of cfg take their defaults.
func New(relay domain.Relay, cfg Config, opts ...Option) *Poller {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}

	p := &Poller{
		relay:   relay,
		cfg:     cfg,
		clock:   realClock{},
		backoff: Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		log:     logging.Component("poller"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Poll starts polling for code on its own goroutine. The returned channel
// yields exactly one Outcome and is then closed. Cancel ctx to stop early.
func (p *Poller) Poll(ctx context.Context, code domain.PairingCode) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		out <- p.run(ctx, code)
	}()
	return out
}

func (p *Poller) run(ctx context.Context, code domain.PairingCode) Outcome {
	log := p.log.With().Str("code", code.Value).Logger()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return p.cancelled(log, attempt)
		}

		offer, err := p.relay.LookupOffer(ctx, code.Value)
		if err == nil && !offer.Empty() {
			log.Info().Int("attempt", attempt).Msg("offer received")
			return Outcome{Kind: OutcomeOffer, Offer: offer, Attempts: attempt + 1}
		}
		if ctx.Err() != nil {
			return p.cancelled(log, attempt)
		}

		switch {
		case err == nil:
			log.Warn().Int("attempt", attempt).Msg("relay returned an empty offer")
		case errors.Is(err, domain.ErrOfferNotReady):
			log.Debug().Int("attempt", attempt).Msg("offer not ready")
		default:
			log.Warn().Err(err).Int("attempt", attempt).Msg("offer lookup")
		}

		attempt++
		if attempt >= p.cfg.MaxAttempts {
			log.Warn().Int("attempts", attempt).Msg("offer poll exhausted")
			return Outcome{
				Kind:     OutcomeExhausted,
				Attempts: attempt,
				Err:      fmt.Errorf("%w after %d attempts", domain.ErrOfferPollExhausted, attempt),
			}
		}

		delay := p.backoff.Delay(attempt)
		log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("waiting before next lookup")
		select {
		case <-ctx.Done():
			return p.cancelled(log, attempt)
		case <-p.clock.After(delay):
		}
	}
}

func (p *Poller) cancelled(log zerolog.Logger, attempts int) Outcome {
	log.Info().Int("attempts", attempts).Msg("offer poll cancelled")
	return Outcome{Kind: OutcomeCancelled, Attempts: attempts, Err: domain.ErrOfferPollCancelled}
}
