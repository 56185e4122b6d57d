package healthcheck

import "time"

type Status struct {
	Name         string     `json:"name"`
	Critical     bool       `json:"critical"`
	IsHealthy    bool       `json:"healthy"`
	Error        string     `json:"error,omitempty"`
	LastCheck    time.Time  `json:"last_check"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// Represents overall health of the gateway
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

func (h HealthStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}
