// Package rates answers point, historical and range rate queries from the
// stored history, falling back to the provider when the cache is stale.
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxRangeRows = 500

// maxLoggedGaps bounds how many missing grid points are kept per range query.
const maxLoggedGaps = 10

type Store interface {
	LatestHistory(ctx context.Context, base, target string) (*models.RateHistory, error)
	LatestHistoryBetween(ctx context.Context, base, target string, from, to time.Time) (*models.RateHistory, error)
	CountHistoryBetween(ctx context.Context, base, target string, from, to time.Time) (int64, error)
	ListHistoryBetween(ctx context.Context, base, target string, from, to time.Time) ([]models.RateHistory, error)
	AppendHistory(ctx context.Context, row *models.RateHistory) error
	UpsertLatest(ctx context.Context, rate *models.LatestRate) error
}

type KeySource interface {
	Next() string
}

type Quote struct {
	Base      string        `json:"base"`
	Target    string        `json:"target"`
	Rate      float64       `json:"rate"`
	Timestamp time.Time     `json:"timestamp"`
	Source    models.Source `json:"source"`
}

type Range struct {
	Base     string
	Target   string
	Interval time.Duration
	From     time.Time
	To       time.Time
	Rates    []models.RateHistory
	// Gaps counts grid points with no stored sample within half an interval.
	Gaps int
}

type Options struct {
	MaxRangeRows int64
}

type Resolver struct {
	store        Store
	fetcher      provider.Fetcher
	keys         KeySource
	maxRangeRows int64
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
}

func NewResolver(store Store, fetcher provider.Fetcher, keys KeySource, opts Options, m *metrics.Metrics, tracer trace.Tracer, logger *slog.Logger) *Resolver {
	if opts.MaxRangeRows <= 0 {
		opts.MaxRangeRows = DefaultMaxRangeRows
	}
	return &Resolver{
		store:        store,
		fetcher:      fetcher,
		keys:         keys,
		maxRangeRows: opts.MaxRangeRows,
		metrics:      m,
		tracer:       tracer,
		logger:       logger.With("component", "rates"),
	}
}

// fresh reports whether a sample taken at ts may still be served at now.
func fresh(ts, now time.Time, plan models.Plan) bool {
	interval := plan.UpdateInterval()
	return interval > 0 && now.Sub(ts) < interval
}

// Resolve returns the current base/target rate.
func (r *Resolver) Resolve(ctx context.Context, base, target string, plan models.Plan, now time.Time) (*Quote, error) {
	ctx, span := r.tracer.Start(ctx, "rates.Resolve", trace.WithAttributes(
		attribute.String("fx.base", base),
		attribute.String("fx.target", target),
	))
	defer span.End()

	row, err := r.store.LatestHistory(ctx, base, target)
	if err != nil {
		return nil, r.fail(span, apperr.Wrap(apperr.CodePersistenceError, "failed to read rate history", err))
	}
	if row != nil && fresh(row.Timestamp, now, plan) {
		return r.hit(span, "point", row), nil
	}

	q, err := r.fetchLive(ctx, provider.Request{Base: base, Target: target}, now, true)
	if err != nil {
		return nil, r.fail(span, err)
	}
	r.observe(span, "point", models.SourceLive)
	return q, nil
}

// ResolveHistorical returns the rate for a calendar date. date is
// interpreted as the UTC day containing it.
func (r *Resolver) ResolveHistorical(ctx context.Context, base, target string, date time.Time, plan models.Plan, now time.Time) (*Quote, error) {
	ctx, span := r.tracer.Start(ctx, "rates.ResolveHistorical", trace.WithAttributes(
		attribute.String("fx.base", base),
		attribute.String("fx.target", target),
		attribute.String("fx.date", date.UTC().Format(time.DateOnly)),
	))
	defer span.End()

	day := startOfUTCDay(date)
	if err := checkWindow(day, plan, now); err != nil {
		return nil, r.fail(span, err)
	}

	row, err := r.store.LatestHistoryBetween(ctx, base, target, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, r.fail(span, apperr.Wrap(apperr.CodePersistenceError, "failed to read rate history", err))
	}
	if row != nil && fresh(row.Timestamp, now, plan) {
		return r.hit(span, "historical", row), nil
	}

	q, err := r.fetchLive(ctx, provider.Request{Base: base, Target: target, Date: day}, now, false)
	if err != nil {
		return nil, r.fail(span, err)
	}
	r.observe(span, "historical", models.SourceLive)
	return q, nil
}

// ResolveRange lists stored samples in [start, end] oldest first. Missing
// grid points are counted and logged but never fetched.
func (r *Resolver) ResolveRange(ctx context.Context, base, target string, start, end time.Time, plan models.Plan, now time.Time) (*Range, error) {
	ctx, span := r.tracer.Start(ctx, "rates.ResolveRange", trace.WithAttributes(
		attribute.String("fx.base", base),
		attribute.String("fx.target", target),
	))
	defer span.End()

	if end.Before(start) {
		return nil, r.fail(span, apperr.InvalidParams("end must not be before start"))
	}
	// Nothing is stored past now, and the gap grid must stay bounded.
	if end.After(now) {
		end = now
	}
	if end.Before(start) {
		return nil, r.fail(span, apperr.InvalidParams("start must not be in the future"))
	}
	if err := checkWindow(start, plan, now); err != nil {
		return nil, r.fail(span, err)
	}

	count, err := r.store.CountHistoryBetween(ctx, base, target, start, end)
	if err != nil {
		return nil, r.fail(span, apperr.Wrap(apperr.CodePersistenceError, "failed to count rate history", err))
	}
	if count > r.maxRangeRows {
		e := apperr.New(apperr.CodeRangeTooLarge, "Too many records in range. Try a shorter date range.")
		e.Details = "range holds more than the allowed number of records"
		return nil, r.fail(span, e)
	}

	rows, err := r.store.ListHistoryBetween(ctx, base, target, start, end)
	if err != nil {
		return nil, r.fail(span, apperr.Wrap(apperr.CodePersistenceError, "failed to list rate history", err))
	}

	interval := plan.UpdateInterval()
	gaps, missing := FindGaps(rows, start, end, interval, maxLoggedGaps)
	if missing > 0 {
		r.metrics.RangeGaps.Add(float64(missing))
		r.logger.Info("range has missing samples, not backfilling",
			"base", base,
			"target", target,
			"missing", missing,
			"first_missing", gaps[0],
			"interval", interval,
		)
	}

	span.SetAttributes(attribute.Int("fx.rows", len(rows)), attribute.Int("fx.gaps", missing))
	r.metrics.RateResolutions.WithLabelValues("range", "store").Inc()

	return &Range{
		Base:     base,
		Target:   target,
		Interval: interval,
		From:     start,
		To:       end,
		Rates:    rows,
		Gaps:     missing,
	}, nil
}

// fetchLive calls the provider with a rotated key and writes the sample
// back. Write-back failures are logged; the fetched rate is still returned.
func (r *Resolver) fetchLive(ctx context.Context, req provider.Request, now time.Time, updateLatest bool) (*Quote, error) {
	req.APIKey = r.keys.Next()

	value, err := r.fetcher.FetchRate(ctx, req)
	if err != nil {
		r.logger.Warn("live fetch failed", "pair", req.Pair(), "date", req.Date, "error", err)
		e := apperr.Wrap(apperr.CodeUpstreamFetchFailed, "Failed to fetch rate", err)
		e.Details = upstreamDetails(err)
		return nil, e
	}

	if err := r.store.AppendHistory(ctx, &models.RateHistory{Base: req.Base, Target: req.Target, Rate: value, Timestamp: now}); err != nil {
		r.logger.Error("failed to append rate history", "pair", req.Pair(), "error", err)
	}
	if updateLatest {
		if err := r.store.UpsertLatest(ctx, &models.LatestRate{Base: req.Base, Target: req.Target, Rate: value, UpdatedAt: now}); err != nil {
			r.logger.Error("failed to upsert latest rate", "pair", req.Pair(), "error", err)
		}
	}

	return &Quote{Base: req.Base, Target: req.Target, Rate: value, Timestamp: now, Source: models.SourceLive}, nil
}

func (r *Resolver) hit(span trace.Span, kind string, row *models.RateHistory) *Quote {
	r.observe(span, kind, models.SourceCache)
	return &Quote{Base: row.Base, Target: row.Target, Rate: row.Rate, Timestamp: row.Timestamp, Source: models.SourceCache}
}

func (r *Resolver) observe(span trace.Span, kind string, source models.Source) {
	span.SetAttributes(attribute.String("fx.source", string(source)))
	r.metrics.RateResolutions.WithLabelValues(kind, string(source)).Inc()
}

func (r *Resolver) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func checkWindow(from time.Time, plan models.Plan, now time.Time) error {
	if now.Sub(from) > plan.HistoryWindow() {
		e := apperr.New(apperr.CodeHistoryWindowExceeded, "Requested date is outside the plan's history window")
		e.Details = fmt.Sprintf("%s plan allows %d days of history", plan.Name, plan.HistoryDays)
		return e
	}
	return nil
}

func upstreamDetails(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return err.Error()
}

func startOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
