// Package poller keeps latest_rate and rate_history warm for the configured
// currency pairs on a fixed schedule.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/events"
	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/provider"
	"github.com/robfig/cron/v3"
)

type Store interface {
	UpsertLatest(ctx context.Context, rate *models.LatestRate) error
	AppendHistory(ctx context.Context, row *models.RateHistory) error
}

type KeySource interface {
	Next() string
}

type Pair struct {
	Base   string
	Target string
}

func (p Pair) String() string {
	return p.Base + "/" + p.Target
}

type Config struct {
	Pairs    []Pair
	Interval time.Duration
	// Per provider call. Defaults to 10s.
	CallTimeout time.Duration
}

type Status struct {
	Running          bool       `json:"running"`
	Pairs            int        `json:"pairs"`
	Interval         string     `json:"interval"`
	Ticks            uint64     `json:"ticks"`
	LastTickAt       *time.Time `json:"last_tick_at,omitempty"`
	LastTickDuration string     `json:"last_tick_duration,omitempty"`
	LastTickOK       int        `json:"last_tick_ok"`
	LastTickFailed   int        `json:"last_tick_failed"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
}

type Poller struct {
	cfg       Config
	fetcher   provider.Fetcher
	keys      KeySource
	store     Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	startup sync.WaitGroup
	running bool
	ticking atomic.Bool
	status  Status
}

func New(cfg Config, fetcher provider.Fetcher, keys KeySource, store Store, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Poller{
		cfg:       cfg,
		fetcher:   fetcher,
		keys:      keys,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "poller"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one tick straight away and then one every interval until Stop
// is called or ctx is cancelled. Cancelling ctx also aborts in-flight
// provider calls.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.cfg.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive, got %s", p.cfg.Interval)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{p.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(p.cfg.Interval), cron.FuncJob(func() {
		p.Tick(runCtx)
	}))

	p.cron = c
	p.cancel = cancel
	p.running = true

	p.startup.Add(1)
	go func() {
		defer p.startup.Done()
		p.Tick(runCtx)
	}()
	c.Start()

	p.logger.Info("rate poller started",
		"pairs", len(p.cfg.Pairs),
		"interval", p.cfg.Interval,
	)

	go func() {
		<-runCtx.Done()
		p.Stop()
	}()

	return nil
}

// Stop halts the schedule, cancels in-flight calls and waits for the
// running tick to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	c, cancel := p.cron, p.cancel
	p.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	p.startup.Wait()

	p.logger.Info("rate poller stopped")
}

// Tick refreshes every pair once. A tick that starts while another is
// still running is skipped. Per-pair failures are logged and counted;
// they never abort the tick.
func (p *Poller) Tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		p.logger.Warn("previous tick still running, skipping")
		return
	}
	defer p.ticking.Store(false)

	start := time.Now()
	var ok, failed int
	var lastSuccess time.Time

	for _, pair := range p.cfg.Pairs {
		if ctx.Err() != nil {
			p.logger.Info("tick aborted", "remaining_from", pair.String(), "reason", ctx.Err())
			break
		}

		ts, err := p.refresh(ctx, pair)
		if err != nil {
			failed++
			continue
		}
		ok++
		lastSuccess = ts
	}

	elapsed := time.Since(start)
	p.metrics.PollerTickDuration.Observe(elapsed.Seconds())

	p.mu.Lock()
	p.status.Ticks++
	tickAt := start.UTC()
	p.status.LastTickAt = &tickAt
	p.status.LastTickDuration = elapsed.Round(time.Millisecond).String()
	p.status.LastTickOK = ok
	p.status.LastTickFailed = failed
	if !lastSuccess.IsZero() {
		p.status.LastSuccessAt = &lastSuccess
	}
	p.mu.Unlock()

	p.logger.Info("tick finished", "ok", ok, "failed", failed, "duration", elapsed)
}

func (p *Poller) refresh(ctx context.Context, pair Pair) (time.Time, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	value, err := p.fetcher.FetchRate(callCtx, provider.Request{
		Base:   pair.Base,
		Target: pair.Target,
		APIKey: p.keys.Next(),
	})
	cancel()

	if err != nil {
		var perr *provider.Error
		switch {
		case errors.Is(err, provider.ErrInvalidRate) && errors.As(err, &perr):
			p.metrics.PollerPairs.WithLabelValues("invalid_rate").Inc()
			p.logger.Error("provider returned an invalid rate", "pair", pair.String(), "raw", perr.Raw)
		default:
			p.metrics.PollerPairs.WithLabelValues("fetch_error").Inc()
			p.logger.Error("failed to fetch rate", "pair", pair.String(), "error", err)
		}
		return time.Time{}, err
	}

	now := p.now()

	// Each write is attempted even if the other fails.
	latestErr := p.store.UpsertLatest(ctx, &models.LatestRate{Base: pair.Base, Target: pair.Target, Rate: value, UpdatedAt: now})
	if latestErr != nil {
		p.logger.Error("failed to upsert latest rate", "pair", pair.String(), "error", latestErr)
	}
	historyErr := p.store.AppendHistory(ctx, &models.RateHistory{Base: pair.Base, Target: pair.Target, Rate: value, Timestamp: now})
	if historyErr != nil {
		p.logger.Error("failed to append rate history", "pair", pair.String(), "error", historyErr)
	}

	if latestErr != nil && historyErr != nil {
		p.metrics.PollerPairs.WithLabelValues("persist_error").Inc()
		return time.Time{}, errors.Join(latestErr, historyErr)
	}

	event := events.RateUpdated{Base: pair.Base, Target: pair.Target, Rate: value, Timestamp: now, Source: "poller"}
	if err := p.publisher.PublishRateUpdated(ctx, event); err != nil {
		p.logger.Warn("failed to publish rate event", "pair", pair.String(), "error", err)
	}

	if latestErr != nil || historyErr != nil {
		p.metrics.PollerPairs.WithLabelValues("partial").Inc()
	} else {
		p.metrics.PollerPairs.WithLabelValues("ok").Inc()
	}
	p.metrics.PollerLastSuccess.Set(float64(now.Unix()))

	return now, nil
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.status
	st.Running = p.running
	st.Pairs = len(p.cfg.Pairs)
	st.Interval = p.cfg.Interval.String()
	if p.running && p.cron != nil {
		if entries := p.cron.Entries(); len(entries) > 0 {
			next := entries[0].Next
			st.NextRunAt = &next
		}
	}
	return st
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
