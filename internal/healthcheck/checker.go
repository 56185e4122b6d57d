package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks one dependency. A failing critical probe makes the gateway
// unhealthy; any other failing probe only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Checks the gateway's dependencies on demand
type Checker struct {
	mu      sync.RWMutex
	probes  []Probe
	status  map[string]*Status
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker(timeout time.Duration, logger *slog.Logger, probes ...Probe) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	c := &Checker{
		probes:  probes,
		status:  make(map[string]*Status, len(probes)),
		timeout: timeout,
		logger:  logger.With("component", "healthcheck"),
	}

	for _, p := range probes {
		c.status[p.Name] = &Status{Name: p.Name, Critical: p.Critical, IsHealthy: true}
	}

	return c
}

type Report struct {
	Status    HealthStatus `json:"status"`
	Checks    []Status     `json:"checks"`
	Timestamp time.Time    `json:"timestamp"`
}

// CheckAll runs every probe concurrently and returns the combined report.
func (c *Checker) CheckAll(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			c.record(p.Name, p.Check(ctx))
		}(p)
	}
	wg.Wait()

	return c.report()
}

func (c *Checker) record(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.status[name]
	status.LastCheck = now

	if err == nil {
		status.LastSuccess = &now
		status.FailureCount = 0
		status.Error = ""
		if !status.IsHealthy {
			c.logger.Info("dependency recovered", "dependency", name)
		}
		status.IsHealthy = true
		return
	}

	status.LastFailure = &now
	status.FailureCount++
	status.Error = err.Error()
	if status.IsHealthy {
		c.logger.Warn("dependency unhealthy", "dependency", name, "error", err)
	}
	status.IsHealthy = false
}

func (c *Checker) report() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Report{Status: Healthy, Timestamp: time.Now()}
	for _, p := range c.probes {
		st := *c.status[p.Name]
		r.Checks = append(r.Checks, st)

		if st.IsHealthy {
			continue
		}
		if st.Critical {
			r.Status = Unhealthy
		} else if r.Status == Healthy {
			r.Status = Degraded
		}
	}

	return r
}
