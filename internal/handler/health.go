package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/fx-gateway/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

type HealthReporter interface {
	CheckAll(ctx context.Context) healthcheck.Report
}

type HealthHandler struct {
	checker HealthReporter
	version string
}

func NewHealthHandler(checker HealthReporter, version string) *HealthHandler {
	return &HealthHandler{checker: checker, version: version}
}

// Handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.checker.CheckAll(c.Request.Context())

	statusCode := http.StatusOK
	if report.Status == healthcheck.Unhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    report.Status,
		"service":   "fx-gateway",
		"version":   h.version,
		"timestamp": report.Timestamp.Unix(),
		"checks":    report.Checks,
	})
}
