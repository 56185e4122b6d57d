package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/events"
	"github.com/aman-churiwal/fx-gateway/internal/keyring"
	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	results map[string]error
	rate    float64
	block   chan struct{}
	calls   []provider.Request
}

func (f *scriptedFetcher) FetchRate(ctx context.Context, req provider.Request) (float64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	err := f.results[req.Pair()]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, &provider.Error{Pair: req.Pair(), Err: ctx.Err()}
		}
	}
	if err != nil {
		return 0, err
	}
	return f.rate, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingStore struct {
	mu          sync.Mutex
	latest      []models.LatestRate
	history     []models.RateHistory
	failLatest  bool
	failHistory bool
}

func (s *recordingStore) UpsertLatest(_ context.Context, r *models.LatestRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLatest {
		return errors.New("latest write failed")
	}
	s.latest = append(s.latest, *r)
	return nil
}

func (s *recordingStore) AppendHistory(_ context.Context, r *models.RateHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHistory {
		return errors.New("history write failed")
	}
	s.history = append(s.history, *r)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.RateUpdated
}

func (c *capturePublisher) PublishRateUpdated(_ context.Context, evs ...events.RateUpdated) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evs...)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

var testPairs = []Pair{{"USD", "EUR"}, {"USD", "GBP"}, {"USD", "JPY"}}

func newPoller(t *testing.T, f provider.Fetcher, s Store, pub events.Publisher, interval time.Duration) *Poller {
	t.Helper()
	keys, err := keyring.New([]string{"k1", "k2", "k3"}, 2)
	require.NoError(t, err)

	p := New(Config{Pairs: testPairs, Interval: interval, CallTimeout: time.Second}, f, keys, s, pub,
		metrics.NewNop(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return p
}

func TestTick_OnePairFailingDoesNotStopOthers(t *testing.T) {
	f := &scriptedFetcher{rate: 0.5, results: map[string]error{"USD/GBP": errors.New("upstream 500")}}
	store := &recordingStore{}
	pub := &capturePublisher{}
	p := newPoller(t, f, store, pub, time.Hour)

	p.Tick(context.Background())

	require.Len(t, store.latest, 2)
	require.Len(t, store.history, 2)
	assert.Equal(t, "EUR", store.latest[0].Target)
	assert.Equal(t, "JPY", store.latest[1].Target)
	assert.Equal(t, store.latest[0].UpdatedAt, store.history[0].Timestamp)
	assert.Len(t, pub.events, 2)

	st := p.Status()
	assert.Equal(t, 2, st.LastTickOK)
	assert.Equal(t, 1, st.LastTickFailed)
	assert.Equal(t, uint64(1), st.Ticks)
}

func TestTick_RotatesKeysAcrossPairs(t *testing.T) {
	f := &scriptedFetcher{rate: 1}
	p := newPoller(t, f, &recordingStore{}, nil, time.Hour)

	p.Tick(context.Background())
	p.Tick(context.Background())

	var keys []string
	for _, c := range f.calls {
		keys = append(keys, c.APIKey)
	}
	assert.Equal(t, []string{"k1", "k1", "k2", "k2", "k3", "k3"}, keys)
}

func TestTick_InvalidRateSkipsPersistence(t *testing.T) {
	bad := &provider.Error{Pair: "USD/EUR", Raw: `{"rate":"oops"}`, Err: provider.ErrInvalidRate}
	f := &scriptedFetcher{rate: 1, results: map[string]error{"USD/EUR": bad}}
	store := &recordingStore{}
	p := newPoller(t, f, store, nil, time.Hour)

	p.Tick(context.Background())

	for _, r := range store.latest {
		assert.NotEqual(t, "EUR", r.Target)
	}
	assert.Len(t, store.history, 2)
}

func TestTick_HistoryWrittenEvenWhenLatestFails(t *testing.T) {
	store := &recordingStore{failLatest: true}
	p := newPoller(t, &scriptedFetcher{rate: 2}, store, nil, time.Hour)

	p.Tick(context.Background())

	assert.Empty(t, store.latest)
	assert.Len(t, store.history, 3)
	assert.Equal(t, 3, p.Status().LastTickOK)
}

func TestTick_OverlappingTickIsSkipped(t *testing.T) {
	f := &scriptedFetcher{rate: 1, block: make(chan struct{})}
	p := newPoller(t, f, &recordingStore{}, nil, time.Hour)

	done := make(chan struct{})
	go func() {
		p.Tick(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, 5*time.Millisecond)

	p.Tick(context.Background())
	assert.Equal(t, 1, f.callCount(), "second tick must not start while the first is running")

	close(f.block)
	<-done
	assert.Equal(t, 3, f.callCount())
}

func TestStart_RunsImmediatelyAndStopWaits(t *testing.T) {
	f := &scriptedFetcher{rate: 1}
	store := &recordingStore{}
	p := newPoller(t, f, store, nil, time.Hour)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Status().Ticks == 1 }, 2*time.Second, 10*time.Millisecond)

	st := p.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.NextRunAt)

	p.Stop()
	assert.False(t, p.Status().Running)
	assert.Len(t, store.history, 3)
}

func TestStart_CancelAbandonsInFlightCalls(t *testing.T) {
	f := &scriptedFetcher{rate: 1, block: make(chan struct{})}
	store := &recordingStore{}
	p := newPoller(t, f, store, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !p.Status().Running }, 2*time.Second, 10*time.Millisecond)
	p.Stop()

	assert.Equal(t, 1, f.callCount(), "remaining pairs are not attempted after cancellation")
	assert.Empty(t, store.history)
}

func TestStart_RejectsNonPositiveInterval(t *testing.T) {
	p := newPoller(t, &scriptedFetcher{}, &recordingStore{}, nil, 0)
	assert.Error(t, p.Start(context.Background()))
}
