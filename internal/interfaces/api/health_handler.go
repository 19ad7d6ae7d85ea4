package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// Checker checks one backend
type Checker func(ctx context.Context) error

// HealthHandler reports the liveness of each backend
type HealthHandler struct {
	checks  map[string]Checker
	timeout time.Duration
}

// NewHealthHandler creates a health handler; timeout bounds every check
func NewHealthHandler(checks map[string]Checker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// HealthReport is the /health response body
type HealthReport struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends"`
}

// Check runs every checker concurrently
func (h *HealthHandler) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check Checker) {
			defer wg.Done()
			results[i] = check(ctx)
		}(i, h.checks[name])
	}
	wg.Wait()

	report := HealthReport{Status: "ok", Backends: make(map[string]string, len(names))}
	for i, name := range names {
		if results[i] != nil {
			logger.Warn("Health check %s failed: %v", name, results[i])
			report.Backends[name] = "unavailable"
			report.Status = "degraded"
			continue
		}
		report.Backends[name] = "ok"
	}
	return report
}

// ServeHTTP writes the report; any failed backend makes the status 503
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, "", report)
}
