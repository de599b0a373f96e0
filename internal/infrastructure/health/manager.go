package health

import (
	"net/http"
	"sort"
	"sync"

	"deriv_client/internal/core"

	"github.com/goccy/go-json"
)

// Check reports a component's health; nil means healthy.
type Check func() error

// ComponentStatus is one entry of a health report.
type ComponentStatus struct {
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
}

// Report is the aggregated health of every registered component.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Components []ComponentStatus `json:"components"`
}

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]Check
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the check of a component.
func (hm *HealthManager) Register(component string, check Check) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Unregister removes a component's check.
func (hm *HealthManager) Unregister(component string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.checks, component)
}

// Report runs every check, ordered by component name.
func (hm *HealthManager) Report() Report {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	report := Report{Healthy: true, Components: make([]ComponentStatus, 0, len(names))}
	for _, name := range names {
		status := ComponentStatus{Component: name, Healthy: true}
		if err := checks[name](); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			report.Healthy = false
		}
		report.Components = append(report.Components, status)
	}
	return report
}

// IsHealthy returns true if every component is healthy.
func (hm *HealthManager) IsHealthy() bool {
	return hm.Report().Healthy
}

// ServeHTTP writes the report as JSON, with 503 when anything is unhealthy.
func (hm *HealthManager) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := hm.Report()
	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		hm.logger.Warn("failed to write health report", "error", err)
	}
}
