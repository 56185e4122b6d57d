package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 64 << 10

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	MaxFailures       uint32
	OpenTimeout       time.Duration
}

// Client talks to a TwelveData-style exchange_rate endpoint. Calls are paced
// by one token bucket per API key and guarded by a circuit breaker.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limit      rate.Limit
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	mu       sync.RWMutex
	settings gobreaker.Settings
	breaker  *gobreaker.CircuitBreaker
}

func NewClient(cfg Config, m *metrics.Metrics, tracer trace.Tracer) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}

	settings := gobreaker.Settings{
		Name:        "provider",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A cancelled caller says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limit:      limit,
		limiters:   make(map[string]*rate.Limiter),
		metrics:    m,
		tracer:     tracer,
		settings:   settings,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *Client) FetchRate(ctx context.Context, req Request) (float64, error) {
	ctx, span := c.tracer.Start(ctx, "provider.FetchRate", trace.WithAttributes(
		attribute.String("fx.pair", req.Pair()),
		attribute.Bool("fx.historical", !req.Date.IsZero()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiterFor(req.APIKey).Wait(ctx); err != nil {
		span.SetStatus(codes.Error, "rate limiter")
		return 0, &Error{Pair: req.Pair(), Err: err}
	}

	start := time.Now()
	out, err := c.currentBreaker().Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	c.metrics.ProviderDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Pair: req.Pair(), Err: ErrUnavailable}
		}
		c.metrics.ProviderRequests.WithLabelValues(outcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	c.metrics.ProviderRequests.WithLabelValues("ok").Inc()
	return out.(float64), nil
}

// limiterFor returns the bucket for key. requests_per_minute is a per-key
// allowance on the provider side.
func (c *Client) limiterFor(key string) *rate.Limiter {
	c.limMu.Lock()
	defer c.limMu.Unlock()

	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(c.limit, 1)
		c.limiters[key] = l
	}
	return l
}

type exchangeRateResponse struct {
	Rate    json.RawMessage `json:"rate"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

func (c *Client) do(ctx context.Context, req Request) (float64, error) {
	q := url.Values{}
	q.Set("symbol", req.Pair())
	q.Set("apikey", req.APIKey)
	if !req.Date.IsZero() {
		q.Set("date", req.Date.UTC().Format(time.DateOnly))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/exchange_rate?"+q.Encode(), nil)
	if err != nil {
		return 0, &Error{Pair: req.Pair(), Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, &Error{Pair: req.Pair(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, &Error{Pair: req.Pair(), StatusCode: resp.StatusCode, Err: err}
	}

	var payload exchangeRateResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &Error{
			Pair:       req.Pair(),
			StatusCode: resp.StatusCode,
			Message:    payload.Message,
			Raw:        string(body),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	if decodeErr != nil {
		return 0, &Error{Pair: req.Pair(), StatusCode: resp.StatusCode, Raw: string(body), Err: fmt.Errorf("%w: %v", ErrInvalidRate, decodeErr)}
	}
	if strings.EqualFold(payload.Status, "error") {
		return 0, &Error{Pair: req.Pair(), StatusCode: resp.StatusCode, Message: payload.Message, Raw: string(body), Err: errors.New("provider reported an error")}
	}

	value, err := parseRate(payload.Rate)
	if err != nil {
		return 0, &Error{Pair: req.Pair(), StatusCode: resp.StatusCode, Raw: string(body), Err: err}
	}

	return value, nil
}

// parseRate accepts the rate as a JSON number or a numeric string.
func parseRate(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("%w: missing rate", ErrInvalidRate)
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}

	return v, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "circuit_open"
	case errors.Is(err, ErrInvalidRate):
		return "invalid_rate"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (c *Client) currentBreaker() *gobreaker.CircuitBreaker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.breaker
}

type BreakerStatus struct {
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

func (c *Client) BreakerStatus() BreakerStatus {
	cb := c.currentBreaker()
	counts := cb.Counts()
	return BreakerStatus{
		State:               cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

// ResetBreaker replaces the breaker with a closed one.
func (c *Client) ResetBreaker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker = gobreaker.NewCircuitBreaker(c.settings)
}
