package streamer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/domain/domaintest"
	"pixelstreamer/native/internal/ingest"
	"pixelstreamer/native/internal/poller"
	"pixelstreamer/native/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// stuckClock never fires, so a poll waits after its first lookup until
// cancelled.
type stuckClock struct{}

func (stuckClock) After(time.Duration) <-chan time.Time { return nil }

var viewerOffer = &domain.SDPPayload{Type: "offer", SDP: "v=0 viewer"}

type harness struct {
	relay *domaintest.Relay
	hub   *status.Hub
	peers *domaintest.PeerFactory
	sink  *domaintest.Sink
	s     *Streamer
}

func newHarness(t *testing.T, relay *domaintest.Relay, cfg poller.Config, clock ...poller.Clock) *harness {
	t.Helper()
	var c poller.Clock = instantClock{}
	if len(clock) > 0 {
		c = clock[0]
	}
	h := &harness{
		relay: relay,
		hub:   status.NewHub(),
		peers: &domaintest.PeerFactory{},
		sink:  &domaintest.Sink{},
	}
	h.s = New(Deps{
		Relay:    relay,
		Peers:    h.peers,
		Observer: h.hub,
		Pipeline: ingest.New(h.sink, 50*time.Millisecond),
	}, cfg, WithPollerOptions(
		poller.WithClock(c),
		poller.WithJitter(func(int64) int64 { return 0 }),
	))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.s.Shutdown(ctx)
	})
	return h
}

func (h *harness) waitForAnswer(t *testing.T) *domaintest.Peer {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.relay.SubmittedAnswers()) == 1
	}, 2*time.Second, time.Millisecond)
	peer := h.peers.Last()
	require.NotNil(t, peer)
	return peer
}

func notReady(n int) []domaintest.Lookup {
	out := make([]domaintest.Lookup, n)
	for i := range out {
		out[i] = domaintest.Lookup{Err: domain.ErrOfferNotReady}
	}
	return out
}

func TestScenario_PairAndConnect(t *testing.T) {
	relay := &domaintest.Relay{
		Codes:   []string{"AB12"},
		Lookups: append(notReady(3), domaintest.Lookup{Offer: viewerOffer}),
	}
	h := newHarness(t, relay, poller.Config{})

	code, err := h.s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AB12", code.Value)
	assert.Equal(t, "AB12", h.hub.Snapshot().CodeText)

	peer := h.waitForAnswer(t)
	assert.Equal(t, 4, relay.LookupCount())
	assert.Equal(t, "AB12", relay.SubmittedAnswers()[0].Code)
	assert.Equal(t, []domain.SDPPayload{*viewerOffer}, peer.RemoteDescriptions())

	peer.Emit(domain.StateConnecting)
	peer.Emit(domain.StateConnected)

	snap := h.hub.Snapshot()
	assert.Equal(t, domain.StateConnected, snap.State)
	assert.Equal(t, domain.LifecycleActive, snap.ConnectionLifecycle)
}

func TestScenario_GenerationRetry(t *testing.T) {
	relay := &domaintest.Relay{GenerateErr: errors.New("network unreachable")}
	h := newHarness(t, relay, poller.Config{}, stuckClock{})

	_, err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrCodeGenerationFailed)

	snap := h.hub.Snapshot()
	assert.Equal(t, domain.GenerationFailedText, snap.CodeText)
	assert.Equal(t, domain.LifecycleFailed, snap.CodeLifecycle)

	relay.GenerateErr = nil
	relay.Codes = []string{"CD34"}

	code, err := h.s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CD34", code.Value)
	assert.Equal(t, "CD34", h.hub.Snapshot().CodeText)
	assert.Equal(t, domain.LifecycleActive, h.hub.Snapshot().CodeLifecycle)
}

func TestScenario_TeardownRevokesAndCloses(t *testing.T) {
	for name, deleteErr := range map[string]error{
		"relay ok":   nil,
		"relay down": errors.New("connection refused"),
	} {
		t.Run(name, func(t *testing.T) {
			block := make(chan struct{})
			relay := &domaintest.Relay{
				Codes:       []string{"EF56"},
				Lookups:     []domaintest.Lookup{{Offer: viewerOffer}},
				DeleteErr:   deleteErr,
				BlockDelete: block,
			}
			h := newHarness(t, relay, poller.Config{})

			_, err := h.s.Start(context.Background())
			require.NoError(t, err)
			peer := h.waitForAnswer(t)
			peer.Emit(domain.StateConnected)

			stopped := make(chan struct{})
			go func() {
				h.s.Stop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(time.Second):
				t.Fatal("teardown blocked on the relay")
			}

			assert.Equal(t, 1, peer.Closes())
			_, active := h.s.ActiveCode()
			assert.False(t, active)
			require.Eventually(t, func() bool {
				return len(relay.DeletedCodes()) == 1
			}, time.Second, time.Millisecond)
			assert.Equal(t, []string{"EF56"}, relay.DeletedCodes())

			close(block)
			require.NoError(t, h.s.Shutdown(context.Background()))
			assert.Equal(t, []string{"EF56"}, relay.DeletedCodes(), "no double revoke")
			assert.Equal(t, domain.StateClosed, h.hub.Snapshot().State)
		})
	}
}

func TestPollExhaustion_RevokesCode(t *testing.T) {
	relay := &domaintest.Relay{Codes: []string{"GH78"}}
	h := newHarness(t, relay, poller.Config{MaxAttempts: 3})

	_, err := h.s.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(relay.DeletedCodes()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, relay.LookupCount())
	assert.Empty(t, h.peers.Created())

	require.Eventually(t, func() bool {
		return h.hub.Snapshot().CodeLifecycle == domain.LifecycleNever
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.LifecycleFailed, h.hub.Snapshot().ConnectionLifecycle)
}

func TestTransportFailure_EndsSession(t *testing.T) {
	relay := &domaintest.Relay{
		Codes:   []string{"JK90"},
		Lookups: []domaintest.Lookup{{Offer: viewerOffer}},
	}
	h := newHarness(t, relay, poller.Config{})

	_, err := h.s.Start(context.Background())
	require.NoError(t, err)
	peer := h.waitForAnswer(t)

	peer.Emit(domain.StateConnected)
	peer.Emit(domain.StateFailed)

	require.Eventually(t, func() bool {
		return len(relay.DeletedCodes()) == 1 && peer.Closes() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.LifecycleFailed, h.hub.Snapshot().ConnectionLifecycle)

	// A later teardown has nothing left to revoke.
	h.s.Stop()
	assert.Equal(t, []string{"JK90"}, relay.DeletedCodes())
}

func TestPeerCreationFailure_EndsSession(t *testing.T) {
	relay := &domaintest.Relay{
		Codes:   []string{"LM12"},
		Lookups: []domaintest.Lookup{{Offer: viewerOffer}},
	}
	h := newHarness(t, relay, poller.Config{})
	h.peers.Err = errors.New("ice agent init failed")

	_, err := h.s.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(relay.DeletedCodes()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"LM12"}, relay.DeletedCodes())
	assert.Empty(t, relay.SubmittedAnswers())

	require.Eventually(t, func() bool {
		_, active := h.s.ActiveCode()
		return !active && h.hub.Snapshot().CodeLifecycle == domain.LifecycleNever
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.LifecycleFailed, h.hub.Snapshot().ConnectionLifecycle)
}

func TestGenerateCode_ReplacesActiveCode(t *testing.T) {
	relay := &domaintest.Relay{Codes: []string{"AB12", "CD34"}}
	h := newHarness(t, relay, poller.Config{}, stuckClock{})

	h.s.GenerateCode()
	require.Eventually(t, func() bool {
		code, ok := h.s.ActiveCode()
		return ok && code.Value == "AB12"
	}, time.Second, time.Millisecond)

	h.s.GenerateCode()
	require.Eventually(t, func() bool {
		code, ok := h.s.ActiveCode()
		return ok && code.Value == "CD34"
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return len(relay.DeletedCodes()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"AB12"}, relay.DeletedCodes())

	h.s.DeleteCode()
	require.Eventually(t, func() bool {
		return len(relay.DeletedCodes()) == 2
	}, time.Second, time.Millisecond)
}

func TestToggleDevice(t *testing.T) {
	h := newHarness(t, &domaintest.Relay{}, poller.Config{})

	h.s.ToggleDevice(domain.KindVideo)
	assert.False(t, h.hub.Snapshot().VideoEnabled)
	assert.True(t, h.hub.Snapshot().AudioEnabled)

	h.s.ToggleDevice(domain.KindVideo)
	assert.True(t, h.hub.Snapshot().VideoEnabled)
}

func TestToggleDevice_ConcurrentTogglesAgree(t *testing.T) {
	h := newHarness(t, &domaintest.Relay{}, poller.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 51; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.s.ToggleDevice(domain.KindAudio)
		}()
	}
	wg.Wait()

	assert.False(t, h.s.deps.Pipeline.Enabled(domain.KindAudio), "odd number of toggles")
	assert.Equal(t, h.s.deps.Pipeline.Enabled(domain.KindAudio), h.hub.Snapshot().AudioEnabled)
}

func TestShutdown_RejectsCommands(t *testing.T) {
	relay := &domaintest.Relay{Codes: []string{"AB12"}}
	h := newHarness(t, relay, poller.Config{})

	require.NoError(t, h.s.Shutdown(context.Background()))
	h.s.GenerateCode()

	time.Sleep(20 * time.Millisecond)
	_, ok := h.s.ActiveCode()
	assert.False(t, ok)
}
