package handler

import (
	"strings"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// currencyPair reads base and target, uppercased. Both must be three letters.
func currencyPair(c *gin.Context) (string, string, error) {
	base := strings.ToUpper(strings.TrimSpace(c.Query("base")))
	target := strings.ToUpper(strings.TrimSpace(c.Query("target")))

	if base == "" || target == "" {
		return "", "", apperr.InvalidParams("base and target are required")
	}
	if !isCurrency(base) {
		return "", "", apperr.InvalidParams("invalid base currency %q", base)
	}
	if !isCurrency(target) {
		return "", "", apperr.InvalidParams("invalid target currency %q", target)
	}

	return base, target, nil
}

func isCurrency(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// parseDate accepts YYYY-MM-DD only and returns UTC midnight.
func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, apperr.InvalidParams("%s is required", name)
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, apperr.InvalidParams("%s must be YYYY-MM-DD", name)
	}
	return t, nil
}

// parseBound accepts YYYY-MM-DD or RFC 3339. A date-only upper bound covers
// the whole day.
func parseBound(name, value string, upper bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, apperr.InvalidParams("%s is required", name)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, apperr.InvalidParams("%s must be YYYY-MM-DD or RFC 3339", name)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
