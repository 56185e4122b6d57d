package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	APIKeyHeader = "X-API-Key"
	tenantKey    = "tenant"
)

type TenantAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*models.Tenant, error)
	TouchLastUsed(id uuid.UUID, at time.Time)
}

// TenantAuth resolves X-API-Key to an active tenant. A missing header is
// AUTH_MISSING (401), an unknown or disabled key AUTH_INVALID (403).
func TenantAuth(auth TenantAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key == "" {
			AbortWithError(c, apperr.New(apperr.CodeAuthMissing, "API key required"))
			return
		}

		tenant, err := auth.Authenticate(c.Request.Context(), key)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		SetTenant(c, tenant)
		auth.TouchLastUsed(tenant.ID, time.Now())

		c.Next()
	}
}

func SetTenant(c *gin.Context, tenant *models.Tenant) {
	c.Set(tenantKey, tenant)
}

// TenantFrom returns the tenant stored by TenantAuth.
func TenantFrom(c *gin.Context) (*models.Tenant, bool) {
	v, ok := c.Get(tenantKey)
	if !ok {
		return nil, false
	}
	tenant, ok := v.(*models.Tenant)
	return tenant, ok && tenant != nil
}
