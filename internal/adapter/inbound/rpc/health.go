package rpc

import (
	"context"
	"net/http"
	"time"
)

// ReadinessCheck probes one dependency. A nil error means ready.
type ReadinessCheck func(ctx context.Context) error

// HealthChecker serves the liveness and readiness probes. Liveness is
// unconditional; readiness runs the registered dependency checks.
type HealthChecker struct {
	checks  map[string]ReadinessCheck
	timeout time.Duration
}

func NewHealthChecker(checks map[string]ReadinessCheck) *HealthChecker {
	return &HealthChecker{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthChecker) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthChecker) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	code := http.StatusOK
	status := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		status = "not ready"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": results})
}
