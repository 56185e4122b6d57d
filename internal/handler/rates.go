package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/middleware"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/quota"
	"github.com/aman-churiwal/fx-gateway/internal/rates"
	"github.com/gin-gonic/gin"
)

// Endpoint names recorded in the usage ledger.
const (
	EndpointConvert           = "convert"
	EndpointConvertHistorical = "convert-historical"
	EndpointConvertRange      = "convert-range"
)

type QuotaGate interface {
	Admit(ctx context.Context, tenant *models.Tenant, endpoint string, now time.Time) error
	Status(ctx context.Context, tenant *models.Tenant, now time.Time) (*quota.Status, error)
}

type RateResolver interface {
	Resolve(ctx context.Context, base, target string, plan models.Plan, now time.Time) (*rates.Quote, error)
	ResolveHistorical(ctx context.Context, base, target string, date time.Time, plan models.Plan, now time.Time) (*rates.Quote, error)
	ResolveRange(ctx context.Context, base, target string, start, end time.Time, plan models.Plan, now time.Time) (*rates.Range, error)
}

type LatestRates interface {
	Latest(ctx context.Context) ([]models.LatestRate, error)
}

type RatesHandler struct {
	gate     QuotaGate
	resolver RateResolver
	latest   LatestRates
	now      func() time.Time
}

func NewRatesHandler(gate QuotaGate, resolver RateResolver, latest LatestRates) *RatesHandler {
	return &RatesHandler{
		gate:     gate,
		resolver: resolver,
		latest:   latest,
		now:      time.Now,
	}
}

// admit runs the quota gate for the authenticated tenant. Parameters are
// validated before this so malformed calls never consume quota.
func (h *RatesHandler) admit(c *gin.Context, endpoint string, now time.Time) (*models.Tenant, bool) {
	tenant, ok := middleware.TenantFrom(c)
	if !ok {
		middleware.AbortWithError(c, apperr.New(apperr.CodeAuthMissing, "API key required"))
		return nil, false
	}

	if err := h.gate.Admit(c.Request.Context(), tenant, endpoint, now); err != nil {
		middleware.AbortWithError(c, err)
		return nil, false
	}

	return tenant, true
}

// Handles GET /convert
func (h *RatesHandler) Convert(c *gin.Context) {
	base, target, err := currencyPair(c)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	now := h.now()
	tenant, ok := h.admit(c, EndpointConvert, now)
	if !ok {
		return
	}

	quote, err := h.resolver.Resolve(c.Request.Context(), base, target, tenant.Plan, now)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// Handles GET /convert-historical
func (h *RatesHandler) ConvertHistorical(c *gin.Context) {
	base, target, err := currencyPair(c)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	date, err := parseDate("date", c.Query("date"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	now := h.now()
	if date.After(now) {
		middleware.AbortWithError(c, apperr.InvalidParams("date must not be in the future"))
		return
	}

	tenant, ok := h.admit(c, EndpointConvertHistorical, now)
	if !ok {
		return
	}

	quote, err := h.resolver.ResolveHistorical(c.Request.Context(), base, target, date, tenant.Plan, now)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"source":    quote.Source,
		"rate":      quote.Rate,
		"base":      quote.Base,
		"target":    quote.Target,
		"timestamp": quote.Timestamp,
		"date":      date.Format(dateLayout),
	})
}

type rangePoint struct {
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// Handles GET /convert-range
func (h *RatesHandler) ConvertRange(c *gin.Context) {
	base, target, err := currencyPair(c)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	start, err := parseBound("start", c.Query("start"), false)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	end, err := parseBound("end", c.Query("end"), true)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if end.Before(start) {
		middleware.AbortWithError(c, apperr.InvalidParams("end must not be before start"))
		return
	}

	now := h.now()
	if start.After(now) {
		middleware.AbortWithError(c, apperr.InvalidParams("start must not be in the future"))
		return
	}
	// A date-only end of today is fine; anything later is not.
	if end.After(now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)) {
		middleware.AbortWithError(c, apperr.InvalidParams("end must not be after today"))
		return
	}

	tenant, ok := h.admit(c, EndpointConvertRange, now)
	if !ok {
		return
	}

	rng, err := h.resolver.ResolveRange(c.Request.Context(), base, target, start, end, tenant.Plan, now)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	points := make([]rangePoint, 0, len(rng.Rates))
	for _, r := range rng.Rates {
		points = append(points, rangePoint{Rate: r.Rate, Timestamp: r.Timestamp})
	}

	c.JSON(http.StatusOK, gin.H{
		"base":     rng.Base,
		"target":   rng.Target,
		"interval": fmt.Sprintf("%dmin", int(rng.Interval.Minutes())),
		"from":     rng.From,
		"to":       rng.To,
		"count":    len(points),
		"rates":    points,
	})
}

// Handles GET /rates. Public and not metered.
func (h *RatesHandler) Latest(c *gin.Context) {
	latest, err := h.latest.Latest(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(latest),
		"rates": latest,
	})
}

// Handles GET /usage. Reports quota without recording a call.
func (h *RatesHandler) Usage(c *gin.Context) {
	tenant, ok := middleware.TenantFrom(c)
	if !ok {
		middleware.AbortWithError(c, apperr.New(apperr.CodeAuthMissing, "API key required"))
		return
	}

	status, err := h.gate.Status(c.Request.Context(), tenant, h.now())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
