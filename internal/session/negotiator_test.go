package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/domain/domaintest"
	"pixelstreamer/native/internal/poller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOffer = &domain.SDPPayload{Type: "offer", SDP: "v=0 offer"}

// blockingIngester runs until its context is cancelled.
type blockingIngester struct {
	mu      sync.Mutex
	started []domain.Track
}

func (b *blockingIngester) Ingest(ctx context.Context, track domain.Track) {
	b.mu.Lock()
	b.started = append(b.started, track)
	b.mu.Unlock()
	<-ctx.Done()
}

func (b *blockingIngester) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.started)
}

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type fixture struct {
	relay    *domaintest.Relay
	obs      *domaintest.Observer
	peers    *domaintest.PeerFactory
	ingester *blockingIngester
}

func newFixture() *fixture {
	return &fixture{
		relay:    &domaintest.Relay{},
		obs:      &domaintest.Observer{},
		peers:    &domaintest.PeerFactory{},
		ingester: &blockingIngester{},
	}
}

func (f *fixture) negotiator(opts ...Option) *Negotiator {
	return New(domain.PairingCode{Value: "AB12"}, Deps{
		Peers:    f.peers,
		Relay:    f.relay,
		Observer: f.obs,
		Ingester: f.ingester,
	}, opts...)
}

func TestBeginAnswer_MissingOffer(t *testing.T) {
	for name, offer := range map[string]*domain.SDPPayload{
		"nil":   nil,
		"empty": {Type: "offer"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			n := f.negotiator()

			err := n.BeginAnswer(context.Background(), offer)
			assert.ErrorIs(t, err, domain.ErrMissingOffer)
			assert.Equal(t, domain.StateFailed, n.State())
			assert.Empty(t, f.relay.SubmittedAnswers())
			assert.Equal(t, 0, f.relay.LookupCount())
			assert.Empty(t, f.peers.Created())

			select {
			case <-n.Terminated():
			default:
				t.Fatal("failed session not terminated")
			}
		})
	}
}

func TestBeginAnswer_SubmitsGatheredAnswer(t *testing.T) {
	f := newFixture()
	n := f.negotiator()

	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))

	peer := f.peers.Last()
	require.NotNil(t, peer)
	assert.Equal(t, []domain.SDPPayload{*testOffer}, peer.RemoteDescriptions())

	answers := f.relay.SubmittedAnswers()
	require.Len(t, answers, 1)
	assert.Equal(t, "AB12", answers[0].Code)
	assert.Equal(t, "answer", answers[0].Answer.Type)
	assert.Contains(t, answers[0].Answer.SDP, "a=candidate", "answer carries gathered candidates")
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting}, f.obs.StateLog())
}

func TestBeginAnswer_SecondCallRejected(t *testing.T) {
	f := newFixture()
	n := f.negotiator()

	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))
	err := n.BeginAnswer(context.Background(), testOffer)
	assert.ErrorIs(t, err, domain.ErrSessionActive)
	assert.Len(t, f.peers.Last().RemoteDescriptions(), 1, "remote description set once")
}

func TestBeginAnswer_RemoteDescriptionFailure(t *testing.T) {
	f := newFixture()
	f.peers.Peers = []*domaintest.Peer{{RemoteErr: errors.New("bad sdp")}}
	n := f.negotiator()

	err := n.BeginAnswer(context.Background(), testOffer)
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.Equal(t, domain.StateFailed, n.State())
	assert.Empty(t, f.relay.SubmittedAnswers())
}

func TestBeginAnswer_PeerCreationFailureFailsSession(t *testing.T) {
	f := newFixture()
	f.peers.Err = errors.New("ice agent init failed")
	n := f.negotiator()

	err := n.BeginAnswer(context.Background(), testOffer)
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.Equal(t, domain.StateFailed, n.State())
	assert.Equal(t, []domain.ConnectionState{domain.StateFailed}, f.obs.StateLog())
	assert.Empty(t, f.relay.SubmittedAnswers())

	select {
	case <-n.Terminated():
	default:
		t.Fatal("failed session not terminated")
	}
}

func TestBeginAnswer_RejectionsLeaveStateAlone(t *testing.T) {
	f := newFixture()
	n := f.negotiator()
	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))
	f.peers.Last().Emit(domain.StateConnected)

	assert.ErrorIs(t, n.BeginAnswer(context.Background(), testOffer), domain.ErrSessionActive)
	assert.Equal(t, domain.StateConnected, n.State())

	n.Stop()
	assert.ErrorIs(t, n.BeginAnswer(context.Background(), testOffer), domain.ErrTransportClosed)
	assert.Equal(t, domain.StateClosed, n.State())
}

func TestSubmitAnswer_FailureIsWarning(t *testing.T) {
	f := newFixture()
	f.relay.AnswerErr = errors.New("http 503")
	n := f.negotiator()

	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))
	assert.Equal(t, 1, f.obs.WarningCount())
	assert.ErrorIs(t, f.obs.Warnings[0], domain.ErrAnswerSubmissionFailed)
	assert.Equal(t, domain.StateConnecting, n.State(), "submission failure does not fail the session")

	f.peers.Last().Emit(domain.StateConnected)
	assert.Equal(t, domain.StateConnected, n.State())
}

func TestSubmitAnswer_Retries(t *testing.T) {
	f := newFixture()
	f.relay.AnswerErr = errors.New("http 503")
	n := f.negotiator(
		WithAnswerRetry(3, poller.Backoff{Base: time.Second, Max: 30 * time.Second}),
		WithClock(instantClock{}),
	)

	err := n.SubmitAnswer(context.Background(), domain.SDPPayload{Type: "answer", SDP: "x"})
	assert.ErrorIs(t, err, domain.ErrAnswerSubmissionFailed)
	assert.Len(t, f.relay.SubmittedAnswers(), 3)
	assert.Equal(t, 1, f.obs.WarningCount())
}

func TestStateChanges_DuplicatesSuppressed(t *testing.T) {
	f := newFixture()
	n := f.negotiator()
	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))

	peer := f.peers.Last()
	for _, s := range []domain.ConnectionState{
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateConnected,
		domain.StateFailed,
	} {
		peer.Emit(s)
	}

	assert.Equal(t, []domain.ConnectionState{
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateFailed,
	}, f.obs.StateLog())
	<-n.Terminated()
}

func TestStop_Twice(t *testing.T) {
	f := newFixture()
	n := f.negotiator()
	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))
	f.peers.Last().Emit(domain.StateConnected)

	n.Stop()
	n.Stop()

	assert.Equal(t, 1, f.peers.Last().Closes())
	assert.Equal(t, domain.StateClosed, n.State())
	assert.Equal(t, []domain.ConnectionState{
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateClosed,
	}, f.obs.StateLog())
}

func TestStop_BeforeBegin(t *testing.T) {
	f := newFixture()
	n := f.negotiator()

	n.Stop()
	assert.Equal(t, domain.StateIdle, n.State())
	assert.Empty(t, f.obs.StateLog())

	err := n.BeginAnswer(context.Background(), testOffer)
	assert.ErrorIs(t, err, domain.ErrTransportClosed)
}

func TestStop_IgnoresLaterTransportEvents(t *testing.T) {
	f := newFixture()
	n := f.negotiator()
	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))

	n.Stop()
	f.peers.Last().Emit(domain.StateFailed)

	assert.Equal(t, domain.StateClosed, n.State())
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateClosed}, f.obs.StateLog())
}

func TestStop_AbortsGathering(t *testing.T) {
	f := newFixture()
	f.peers.Peers = []*domaintest.Peer{{Gather: make(chan struct{})}}
	n := f.negotiator()

	done := make(chan error, 1)
	go func() { done <- n.BeginAnswer(context.Background(), testOffer) }()

	require.Eventually(t, func() bool { return n.State() == domain.StateConnecting }, time.Second, time.Millisecond)
	n.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("BeginAnswer still blocked after Stop")
	}
	assert.Empty(t, f.relay.SubmittedAnswers())
}

func TestTracks_OneIngestPerTrack(t *testing.T) {
	f := newFixture()
	n := f.negotiator()
	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))

	video := &domaintest.Track{TrackID: "v", MediaKind: domain.KindVideo}
	audio := &domaintest.Track{TrackID: "a", MediaKind: domain.KindAudio}
	peer := f.peers.Last()
	peer.AddTrack(video)
	peer.AddTrack(video)
	peer.AddTrack(audio)

	require.Eventually(t, func() bool { return f.ingester.count() == 2 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		n.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not wait out ingestion")
	}

	peer.AddTrack(&domaintest.Track{TrackID: "late", MediaKind: domain.KindVideo})
	assert.Equal(t, 2, f.ingester.count())
}

func TestStop_DuringStateCallback(t *testing.T) {
	f := newFixture()
	n := f.negotiator()
	require.NoError(t, n.BeginAnswer(context.Background(), testOffer))
	peer := f.peers.Last()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			peer.Emit(domain.StateConnected)
			peer.Emit(domain.StateDisconnected)
		}()
		go func() {
			defer wg.Done()
			n.Stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock between Stop and state callbacks")
	}

	log := f.obs.StateLog()
	assert.Equal(t, domain.StateClosed, log[len(log)-1])
}
