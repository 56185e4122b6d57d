package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/fx-gateway/internal/poller"
	"github.com/aman-churiwal/fx-gateway/internal/provider"
	"github.com/gin-gonic/gin"
)

type BreakerControl interface {
	BreakerStatus() provider.BreakerStatus
	ResetBreaker()
}

type PollerControl interface {
	Status() poller.Status
	Tick(ctx context.Context)
}

// Handles system-related endpoints
type SystemHandler struct {
	breaker BreakerControl
	poller  PollerControl
}

func NewSystemHandler(breaker BreakerControl, poller PollerControl) *SystemHandler {
	return &SystemHandler{
		breaker: breaker,
		poller:  poller,
	}
}

// Returns the state of the provider circuit breaker
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.breaker.BreakerStatus())
}

// Manually resets the provider circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	h.breaker.ResetBreaker()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"breaker": h.breaker.BreakerStatus(),
	})
}

func (h *SystemHandler) PollerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.poller.Status())
}

// Runs one poller tick inline. A tick already in progress makes this a no-op.
func (h *SystemHandler) RunPoller(c *gin.Context) {
	h.poller.Tick(c.Request.Context())

	c.JSON(http.StatusOK, h.poller.Status())
}
