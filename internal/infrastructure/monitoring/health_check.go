package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFunc probes one dependency (worker pool, signaling listener) and
// reports whether it is usable.
type CheckFunc func(ctx context.Context) (bool, error)

type check struct {
	fn      CheckFunc
	timeout time.Duration
}

// HealthChecker aggregates named liveness probes for the admin surface's
// health endpoint. Checks run on demand; a slow dependency is bounded by
// its own timeout so one stuck probe cannot hang the endpoint.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]check
}

// HealthStatus is the JSON body served by the health endpoint.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]check)}
}

// AddCheck registers a probe under name. The interval argument is kept
// for callers that schedule their own background polling; CheckAll itself
// only uses the timeout. Re-registering a name replaces the old probe.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc, _ /* interval */, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, timeout: timeout}
}

// CheckAll runs every registered probe and folds the results into one
// status: unhealthy if any probe fails or errors.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	snapshot := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		snapshot[name] = c
	}
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(snapshot)),
	}

	for name, c := range snapshot {
		result := h.runOne(ctx, c)
		status.Checks[name] = result
		if result != "healthy" {
			status.Status = "unhealthy"
		}
	}
	return status
}

func (h *HealthChecker) runOne(ctx context.Context, c check) string {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	healthy, err := c.fn(checkCtx)
	switch {
	case err != nil:
		return err.Error()
	case !healthy:
		return "check failed"
	default:
		return "healthy"
	}
}
