package middleware

import (
	"fmt"
	"math"
	"net/http"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/gin-gonic/gin"
)

// ErrorCodeKey holds the apperr code of a failed request for the request log.
const ErrorCodeKey = "error_code"

// AbortWithError writes err as {"error", "code"[, "details"]} and aborts the
// chain. Errors outside the taxonomy are reported as a bare 500.
func AbortWithError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		c.Set(ErrorCodeKey, "INTERNAL")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Internal Server Error",
		})
		return
	}

	body := gin.H{
		"error": appErr.Message,
		"code":  appErr.Code,
	}
	if appErr.Details != "" {
		body["details"] = appErr.Details
	}
	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(appErr.RetryAfter.Seconds()))))
	}

	c.Set(ErrorCodeKey, string(appErr.Code))
	c.AbortWithStatusJSON(apperr.HTTPStatus(appErr.Code), body)
}
