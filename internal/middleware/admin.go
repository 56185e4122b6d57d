package middleware

import (
	"strings"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type TokenValidator interface {
	ValidateToken(token string) (jwt.MapClaims, error)
}

// RequireAdmin validates a Bearer JWT carrying role=admin.
func RequireAdmin(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, apperr.New(apperr.CodeAuthMissing, "Authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, apperr.New(apperr.CodeAuthMissing, "Invalid authorization header format. Use: Bearer <token>"))
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil {
			AbortWithError(c, apperr.New(apperr.CodeAuthInvalid, "Invalid or expired token"))
			return
		}

		c.Set("admin_subject", claims["sub"])
		c.Next()
	}
}
