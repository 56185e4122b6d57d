// Package quota enforces per-tenant daily caps and minimum call spacing.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/google/uuid"
)

// ErrUnknownTenant is returned by WithTenantLock when the tenant row no
// longer exists, e.g. it was deleted while its key was still cached.
var ErrUnknownTenant = errors.New("tenant not found")

// Ledger is the usage store. Calls made with the ctx passed to fn by
// WithTenantLock observe and extend a ledger no other admission for the
// same tenant can touch until fn returns.
type Ledger interface {
	WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context) error) error
	CountSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error)
	MostRecent(ctx context.Context, tenantID uuid.UUID) (time.Time, bool, error)
	Append(ctx context.Context, rec *models.UsageRecord) error
}

type Gate struct {
	ledger  Ledger
	loc     *time.Location
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewGate(ledger Ledger, loc *time.Location, m *metrics.Metrics, logger *slog.Logger) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{
		ledger:  ledger,
		loc:     loc,
		metrics: m,
		logger:  logger.With("component", "quota"),
	}
}

// Admit checks the tenant's plan against the ledger and records the call
// when it is allowed. A rejected call leaves the ledger untouched.
func (g *Gate) Admit(ctx context.Context, tenant *models.Tenant, endpoint string, now time.Time) error {
	plan := tenant.Plan

	err := g.ledger.WithTenantLock(ctx, tenant.ID, func(ctx context.Context) error {
		today, err := g.ledger.CountSince(ctx, tenant.ID, g.StartOfDay(now))
		if err != nil {
			return apperr.Wrap(apperr.CodePersistenceError, "failed to read usage", err)
		}
		if today >= int64(plan.DailyLimit) {
			e := apperr.New(apperr.CodeDailyLimitExceeded, "Daily API limit reached")
			e.RetryAfter = g.StartOfDay(now).AddDate(0, 0, 1).Sub(now)
			return e
		}

		last, ok, err := g.ledger.MostRecent(ctx, tenant.ID)
		if err != nil {
			return apperr.Wrap(apperr.CodePersistenceError, "failed to read usage", err)
		}
		if ok {
			if remaining := plan.MinInterval() - now.Sub(last); remaining > 0 {
				wait := waitMinutes(remaining)
				e := apperr.New(apperr.CodeTooSoon, fmt.Sprintf("Wait %d more minute(s) before the next request", wait))
				e.RetryAfter = remaining
				return e
			}
		}

		rec := &models.UsageRecord{TenantID: tenant.ID, Endpoint: endpoint, Timestamp: now}
		if err := g.ledger.Append(ctx, rec); err != nil {
			return apperr.Wrap(apperr.CodePersistenceError, "failed to record usage", err)
		}
		return nil
	})

	if errors.Is(err, ErrUnknownTenant) {
		err = apperr.Wrap(apperr.CodeAuthInvalid, "Invalid API key", err)
	}
	g.observe(tenant, endpoint, err)

	if err != nil {
		if _, ok := apperr.As(err); ok {
			return err
		}
		return apperr.Wrap(apperr.CodePersistenceError, "failed to record usage", err)
	}
	return nil
}

func (g *Gate) observe(tenant *models.Tenant, endpoint string, err error) {
	result := "admitted"
	if err != nil {
		result = "error"
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			switch appErr.Code {
			case apperr.CodeDailyLimitExceeded:
				result = "daily_limit"
			case apperr.CodeTooSoon:
				result = "too_soon"
			case apperr.CodeAuthInvalid:
				result = "unknown_tenant"
			}
		}
	}
	g.metrics.QuotaDecisions.WithLabelValues(result).Inc()

	if result == "error" {
		g.logger.Error("quota check failed", "tenant_id", tenant.ID, "endpoint", endpoint, "error", err)
		return
	}
	g.logger.Debug("quota decision", "tenant_id", tenant.ID, "endpoint", endpoint, "result", result)
}

// StartOfDay is midnight of now's calendar day in the gate's time zone.
func (g *Gate) StartOfDay(now time.Time) time.Time {
	local := now.In(g.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.loc)
}

// waitMinutes rounds a remaining duration up to whole minutes.
func waitMinutes(remaining time.Duration) int {
	return int(math.Ceil(remaining.Minutes()))
}

type Status struct {
	Plan           string     `json:"plan"`
	DailyLimit     int        `json:"daily_limit"`
	UsedToday      int64      `json:"used_today"`
	RemainingToday int64      `json:"remaining_today"`
	LastCallAt     *time.Time `json:"last_call_at,omitempty"`
	NextAllowedAt  time.Time  `json:"next_allowed_at"`
	ResetsAt       time.Time  `json:"resets_at"`
}

// Status reports the tenant's current quota position without recording a call.
func (g *Gate) Status(ctx context.Context, tenant *models.Tenant, now time.Time) (*Status, error) {
	plan := tenant.Plan
	dayStart := g.StartOfDay(now)

	used, err := g.ledger.CountSince(ctx, tenant.ID, dayStart)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to read usage", err)
	}
	last, ok, err := g.ledger.MostRecent(ctx, tenant.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to read usage", err)
	}

	st := &Status{
		Plan:           plan.Name,
		DailyLimit:     plan.DailyLimit,
		UsedToday:      used,
		RemainingToday: max(int64(plan.DailyLimit)-used, 0),
		NextAllowedAt:  now,
		ResetsAt:       dayStart.AddDate(0, 0, 1),
	}
	if ok {
		st.LastCallAt = &last
		if next := last.Add(plan.MinInterval()); next.After(now) {
			st.NextAllowedAt = next
		}
	}
	if st.RemainingToday == 0 && st.ResetsAt.After(st.NextAllowedAt) {
		st.NextAllowedAt = st.ResetsAt
	}

	return st, nil
}
