package rates

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

var testPlan = models.Plan{Name: "free", DailyLimit: 10, MinIntervalMinutes: 5, UpdateIntervalMinutes: 30, HistoryDays: 7}

func newResolver(store Store, f provider.Fetcher) *Resolver {
	return NewResolver(store, f, fixedKey("key-1"), Options{}, metrics.NewNop(),
		noop.NewTracerProvider().Tracer("test"), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func at(h, m int) time.Time {
	return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
}

func TestResolve_WorkedExample(t *testing.T) {
	store := newMemStore()
	f := &stubFetcher{rates: []float64{0.92, 0.93}}
	r := newResolver(store, f)
	ctx := context.Background()

	q, err := r.Resolve(ctx, "USD", "EUR", testPlan, at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, q.Source)
	assert.InDelta(t, 0.92, q.Rate, 1e-9)
	assert.Equal(t, at(10, 0), q.Timestamp)
	assert.Equal(t, 1, store.historyLen())
	assert.Equal(t, at(10, 0), store.latest["USD/EUR"].UpdatedAt)

	q, err = r.Resolve(ctx, "USD", "EUR", testPlan, at(10, 20))
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, q.Source)
	assert.InDelta(t, 0.92, q.Rate, 1e-9)
	assert.Equal(t, at(10, 0), q.Timestamp)
	assert.Equal(t, 1, store.historyLen())

	q, err = r.Resolve(ctx, "USD", "EUR", testPlan, at(10, 35))
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, q.Source)
	assert.InDelta(t, 0.93, q.Rate, 1e-9)
	assert.Equal(t, 2, store.historyLen())

	require.Len(t, f.calls, 2)
	assert.Equal(t, "key-1", f.calls[0].APIKey)
	assert.True(t, f.calls[0].Date.IsZero())
}

func TestResolve_ExactIntervalBoundaryIsStale(t *testing.T) {
	store := newMemStore()
	store.history = append(store.history, models.RateHistory{Base: "USD", Target: "EUR", Rate: 0.9, Timestamp: at(10, 0)})
	f := &stubFetcher{rates: []float64{0.91}}

	q, err := newResolver(store, f).Resolve(context.Background(), "USD", "EUR", testPlan, at(10, 30))
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, q.Source)
}

func TestResolve_ProviderFailure(t *testing.T) {
	store := newMemStore()
	f := &stubFetcher{err: &provider.Error{Pair: "USD/EUR", Message: "You have run out of API credits", Err: errors.New("provider reported an error")}}

	_, err := newResolver(store, f).Resolve(context.Background(), "USD", "EUR", testPlan, at(10, 0))

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeUpstreamFetchFailed, appErr.Code)
	assert.Equal(t, "You have run out of API credits", appErr.Details)
	assert.Equal(t, 0, store.historyLen())
}

func TestResolve_StaleCacheIsNotServedWhenProviderFails(t *testing.T) {
	store := newMemStore()
	store.history = append(store.history, models.RateHistory{Base: "USD", Target: "EUR", Rate: 0.9, Timestamp: at(8, 0)})
	f := &stubFetcher{err: errors.New("boom")}

	_, err := newResolver(store, f).Resolve(context.Background(), "USD", "EUR", testPlan, at(10, 0))
	assert.True(t, apperr.IsCode(err, apperr.CodeUpstreamFetchFailed))
}

func TestResolve_WriteBackFailureStillReturnsRate(t *testing.T) {
	store := newMemStore()
	store.failWrite = true
	f := &stubFetcher{rates: []float64{1.25}}

	q, err := newResolver(store, f).Resolve(context.Background(), "EUR", "USD", testPlan, at(10, 0))
	require.NoError(t, err)
	assert.InDelta(t, 1.25, q.Rate, 1e-9)
	assert.Equal(t, models.SourceLive, q.Source)
}

func TestResolveHistorical_Window(t *testing.T) {
	store := newMemStore()
	f := &stubFetcher{rates: []float64{0.88}}
	r := newResolver(store, f)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	_, err := r.ResolveHistorical(context.Background(), "USD", "EUR", now.AddDate(0, 0, -8), testPlan, now)
	assert.True(t, apperr.IsCode(err, apperr.CodeHistoryWindowExceeded))
	assert.Empty(t, f.calls)

	q, err := r.ResolveHistorical(context.Background(), "USD", "EUR", time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC), testPlan, now)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, q.Source)
	assert.Equal(t, now, q.Timestamp)

	require.Len(t, f.calls, 1)
	assert.Equal(t, time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC), f.calls[0].Date)
	assert.Empty(t, store.latest, "historical fetch must not touch latest_rate")
	assert.Equal(t, 1, store.historyLen())
}

func TestResolveHistorical_CacheHitOnSameDate(t *testing.T) {
	store := newMemStore()
	store.history = append(store.history,
		models.RateHistory{Base: "USD", Target: "EUR", Rate: 0.90, Timestamp: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)},
		models.RateHistory{Base: "USD", Target: "EUR", Rate: 0.91, Timestamp: time.Date(2024, 5, 10, 11, 50, 0, 0, time.UTC)},
		models.RateHistory{Base: "USD", Target: "EUR", Rate: 0.99, Timestamp: time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)},
	)
	f := &stubFetcher{}
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	q, err := newResolver(store, f).ResolveHistorical(context.Background(), "USD", "EUR", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), testPlan, now)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, q.Source)
	assert.InDelta(t, 0.91, q.Rate, 1e-9)
	assert.Empty(t, f.calls)
}

func TestResolveRange_AscendingWithCount(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	start := time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC)
	for _, off := range []int{90, 0, 30, 60} {
		store.history = append(store.history, models.RateHistory{Base: "USD", Target: "EUR", Rate: float64(off), Timestamp: start.Add(time.Duration(off) * time.Minute)})
	}
	f := &stubFetcher{}

	rg, err := newResolver(store, f).ResolveRange(context.Background(), "USD", "EUR", start, start.Add(2*time.Hour), testPlan, now)
	require.NoError(t, err)

	require.Len(t, rg.Rates, 4)
	for i := 1; i < len(rg.Rates); i++ {
		assert.True(t, rg.Rates[i-1].Timestamp.Before(rg.Rates[i].Timestamp))
	}
	assert.Equal(t, 30*time.Minute, rg.Interval)
	// Grid 0,30,60,90,120: only 120 is missing.
	assert.Equal(t, 1, rg.Gaps)
	assert.Empty(t, f.calls, "range queries never fetch")
}

func TestResolveRange_TooLarge(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(-48 * time.Hour)
	for i := 0; i < 501; i++ {
		store.history = append(store.history, models.RateHistory{Base: "USD", Target: "EUR", Rate: 1, Timestamp: start.Add(time.Duration(i) * time.Minute)})
	}

	_, err := newResolver(store, &stubFetcher{}).ResolveRange(context.Background(), "USD", "EUR", start, now, testPlan, now)
	assert.True(t, apperr.IsCode(err, apperr.CodeRangeTooLarge))

	store.history = store.history[:500]
	rg, err := newResolver(store, &stubFetcher{}).ResolveRange(context.Background(), "USD", "EUR", start, now, testPlan, now)
	require.NoError(t, err)
	assert.Len(t, rg.Rates, 500)
}

func TestResolveRange_WindowAndOrder(t *testing.T) {
	r := newResolver(newMemStore(), &stubFetcher{})
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	_, err := r.ResolveRange(context.Background(), "USD", "EUR", now.AddDate(0, 0, -30), now, testPlan, now)
	assert.True(t, apperr.IsCode(err, apperr.CodeHistoryWindowExceeded))

	_, err = r.ResolveRange(context.Background(), "USD", "EUR", now, now.Add(-time.Hour), testPlan, now)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidParams))
}

func TestResolveRange_FutureEndIsClampedToNow(t *testing.T) {
	plan := models.Plan{Name: "pro", DailyLimit: 100, MinIntervalMinutes: 1, UpdateIntervalMinutes: 5, HistoryDays: 365}
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	end := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

	rg, err := newResolver(newMemStore(), &stubFetcher{}).ResolveRange(context.Background(), "USD", "EUR", start, end, plan, now)
	require.NoError(t, err)

	assert.Equal(t, now, rg.To)
	assert.Empty(t, rg.Rates)
	// Grid start, start+5m, ..., now.
	assert.Equal(t, 13, rg.Gaps)
}

func TestResolveRange_FutureStartIsInvalid(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	_, err := newResolver(newMemStore(), &stubFetcher{}).ResolveRange(context.Background(), "USD", "EUR", now.Add(time.Hour), now.Add(2*time.Hour), testPlan, now)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidParams))
}
