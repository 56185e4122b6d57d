package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/middleware"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/repository"
	"github.com/aman-churiwal/fx-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Analytics interface {
	Summary(ctx context.Context, f repository.LogFilter) (*service.AnalyticsSummary, error)
	TimeSeries(ctx context.Context, f repository.LogFilter) ([]repository.HourlyBucket, error)
	Logs(ctx context.Context, f repository.LogFilter, limit, offset int) ([]models.RequestLog, error)
}

type AnalyticsHandler struct {
	service Analytics
}

func NewAnalyticsHandler(service Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	f, ok := logFilter(c)
	if !ok {
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), f)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/analytics/timeseries
func (h *AnalyticsHandler) GetTimeSeries(c *gin.Context) {
	f, ok := logFilter(c)
	if !ok {
		return
	}

	buckets, err := h.service.TimeSeries(c.Request.Context(), f)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, buckets)
}

// Handles GET /admin/logs
func (h *AnalyticsHandler) GetLogs(c *gin.Context) {
	f, ok := logFilter(c)
	if !ok {
		return
	}

	// Parse pagination
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	logs, err := h.service.Logs(c.Request.Context(), f, limit, offset)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

// logFilter reads from, to, tenant_id and status.
func logFilter(c *gin.Context) (repository.LogFilter, bool) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		middleware.AbortWithError(c, apperr.InvalidParams("invalid time range: %v", err))
		return repository.LogFilter{}, false
	}
	f := repository.LogFilter{From: from, To: to}

	if idStr := c.Query("tenant_id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			middleware.AbortWithError(c, apperr.InvalidParams("invalid tenant_id"))
			return repository.LogFilter{}, false
		}
		f.TenantID = &id
	}

	if statusStr := c.Query("status"); statusStr != "" {
		if s, err := strconv.Atoi(statusStr); err == nil {
			f.StatusCode = &s
		}
	}

	return f, true
}

// Parses 'from' and 'to' query parameters
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseInstant(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseInstant(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

// RFC 3339 or Unix seconds
func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	if ts, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		return time.Unix(ts, 0), nil
	}
	return time.Time{}, err
}
