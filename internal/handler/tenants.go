package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/middleware"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type TenantAdmin interface {
	Create(ctx context.Context, name, planName string) (string, *models.Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Update(ctx context.Context, id uuid.UUID, upd service.TenantUpdate) (*models.Tenant, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Plans(ctx context.Context) ([]models.Plan, error)
}

type TenantHandler struct {
	service TenantAdmin
}

func NewTenantHandler(service TenantAdmin) *TenantHandler {
	return &TenantHandler{service: service}
}

func tenantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, apperr.InvalidParams("invalid tenant id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *TenantHandler) Create(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Plan string `json:"plan" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.InvalidParams("%s", err.Error()))
		return
	}

	key, tenant, err := h.service.Create(c.Request.Context(), req.Name, req.Plan)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"tenant":  tenant,
		"message": "Save this key - it won't be shown again",
	})
}

func (h *TenantHandler) List(c *gin.Context) {
	tenants, err := h.service.List(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenants)
}

func (h *TenantHandler) Get(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	tenant, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (h *TenantHandler) Update(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	var req struct {
		Plan     *string `json:"plan"`
		IsActive *bool   `json:"is_active"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.InvalidParams("%s", err.Error()))
		return
	}

	tenant, err := h.service.Update(c.Request.Context(), id, service.TenantUpdate{
		Plan:     req.Plan,
		IsActive: req.IsActive,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (h *TenantHandler) Delete(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Tenant deleted successfully"})
}

func (h *TenantHandler) Plans(c *gin.Context) {
	plans, err := h.service.Plans(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, plans)
}
