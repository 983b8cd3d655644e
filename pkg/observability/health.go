package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/arborhq/arbor/pkg/httputil"
)

// CheckFunc probes a single dependency
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates dependency checks for liveness and readiness probes
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewHealthChecker creates a health checker with the given per-check timeout
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
	}
}

// Register adds a named dependency check
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// CheckAll runs all registered checks and returns per-dependency results
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]error {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	funcs := make([]CheckFunc, 0, len(h.checks))
	for name, fn := range h.checks {
		names = append(names, name)
		funcs = append(funcs, fn)
	}
	h.mu.RUnlock()

	results := make(map[string]error, len(names))
	for i, fn := range funcs {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		results[names[i]] = fn(checkCtx)
		cancel()
	}
	return results
}

// LivenessHandler always reports alive; process-level health only
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler reports ready only when every dependency check passes
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := h.CheckAll(r.Context())

		deps := make(map[string]string, len(results))
		healthy := true
		for name, err := range results {
			if err != nil {
				healthy = false
				deps[name] = err.Error()
			} else {
				deps[name] = "ok"
			}
		}

		status := http.StatusOK
		overall := "ready"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "not ready"
		}

		httputil.WriteJSON(w, status, map[string]interface{}{
			"status":       overall,
			"dependencies": deps,
		})
	}
}
