// Package pairing owns the lifecycle of the single active pairing code.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/rs/zerolog"
)

// Client issues and revokes pairing codes against the relay. At most one code
// is active at a time and every issued code is revoked exactly once.
type Client struct {
	relay domain.Relay
	obs   domain.StatusObserver
	now   func() time.Time
	log   zerolog.Logger

	// genMu serializes Generate calls.
	genMu sync.Mutex

	mu       sync.Mutex
	active   atomic.Pointer[domain.PairingCode]
	inflight map[string]chan struct{}
}

// NewClient creates a pairing client reporting to obs.
func NewClient(relay domain.Relay, obs domain.StatusObserver) *Client {
	return &Client{
		relay:    relay,
		obs:      obs,
		now:      time.Now,
		log:      logging.Component("pairing"),
		inflight: make(map[string]chan struct{}),
	}
}

// Active returns a snapshot of the current code.
func (c *Client) Active() (domain.PairingCode, bool) {
	p := c.active.Load()
	if p == nil {
		return domain.PairingCode{}, false
	}
	return *p, true
}

// Generate issues a new code. A code that is still active is revoked first,
// and Generate waits for every pending revoke before contacting the relay.
func (c *Client) Generate(ctx context.Context) (domain.PairingCode, error) {
	c.genMu.Lock()
	defer c.genMu.Unlock()

	if prior, ok := c.Active(); ok {
		c.log.Info().Str("code", prior.Value).Msg("revoking previous code before generating")
		_ = c.Revoke(ctx, prior)
	}
	if err := c.waitRevokes(ctx); err != nil {
		return domain.PairingCode{}, err
	}

	c.obs.OnCodeRequested()

	value, err := c.relay.GenerateCode(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrCodeGenerationFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrCodeGenerationFailed, err)
		}
		c.log.Warn().Err(err).Msg("generate code")
		c.obs.OnCodeFailed(err)
		return domain.PairingCode{}, err
	}
	if value == "" {
		err := fmt.Errorf("%w: empty code", domain.ErrCodeGenerationFailed)
		c.obs.OnCodeFailed(err)
		return domain.PairingCode{}, err
	}

	code := domain.PairingCode{Value: value, IssuedAt: c.now()}
	c.active.Store(&code)
	c.log.Info().Str("code", code.Value).Msg("code issued")
	c.obs.OnCodeIssued(code)
	return code, nil
}

// Revoke clears code locally and asks the relay to delete it. The local
// reference is gone before the relay is contacted, whatever the outcome.
// Revoking a code that is not active is a no-op. A non-nil error wraps
// domain.ErrCodeDeletionFailed and is informational only.
func (c *Client) Revoke(ctx context.Context, code domain.PairingCode) error {
	done, ok := c.detach(code)
	if !ok {
		return nil
	}
	return c.remove(ctx, code, done)
}

// RevokeAsync clears code locally before returning and deletes it on the
// relay in the background. The channel yields the Revoke result, then closes.
func (c *Client) RevokeAsync(ctx context.Context, code domain.PairingCode) <-chan error {
	out := make(chan error, 1)
	done, ok := c.detach(code)
	if !ok {
		out <- nil
		close(out)
		return out
	}

	go func() {
		defer close(out)
		out <- c.remove(ctx, code, done)
	}()
	return out
}

func (c *Client) remove(ctx context.Context, code domain.PairingCode, done chan struct{}) error {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, code.Value)
		c.mu.Unlock()
		close(done)
	}()

	err := c.relay.DeleteCode(ctx, code.Value)
	if err != nil {
		if !errors.Is(err, domain.ErrCodeDeletionFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrCodeDeletionFailed, err)
		}
		c.log.Warn().Err(err).Str("code", code.Value).Msg("delete code")
		c.obs.OnWarning(err)
	} else {
		c.log.Info().Str("code", code.Value).Msg("code revoked")
	}
	c.obs.OnCodeRevoked(code)
	return err
}

// Wait blocks until every pending revoke has finished or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	return c.waitRevokes(ctx)
}

// RevokeActive revokes whatever code is currently active.
func (c *Client) RevokeActive(ctx context.Context) error {
	code, ok := c.Active()
	if !ok {
		return nil
	}
	return c.Revoke(ctx, code)
}

// Close revokes the active code and waits for all pending revokes. It is the
// clean-shutdown path.
func (c *Client) Close(ctx context.Context) error {
	_ = c.RevokeActive(ctx)
	return c.waitRevokes(ctx)
}

func (c *Client) detach(code domain.PairingCode) (chan struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.active.Load()
	if cur == nil || cur.Value != code.Value {
		return nil, false
	}
	c.active.Store(nil)

	done := make(chan struct{})
	c.inflight[code.Value] = done
	return done, true
}

func (c *Client) waitRevokes(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]chan struct{}, 0, len(c.inflight))
	for _, ch := range c.inflight {
		pending = append(pending, ch)
	}
	c.mu.Unlock()

	for _, ch := range pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
