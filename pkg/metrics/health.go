package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Components reported by the replicator
const (
	ComponentStore     = "store"
	ComponentScheduler = "scheduler"
	ComponentSEMonitor = "se-monitor"
)

// CriticalComponents must have reported without error before the process
// is ready
var CriticalComponents = []string{ComponentStore, ComponentScheduler}

// Report is the JSON body of the health endpoints
type Report struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
}

var registry = newComponentRegistry()

type componentRegistry struct {
	mu      sync.RWMutex
	errs    map[string]string // component -> last error, "" when healthy
	started time.Time
	version string
}

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{errs: make(map[string]string), started: time.Now()}
}

// SetVersion sets the version reported by the health endpoints
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// ObserveError records the outcome of a component's last operation
func ObserveError(component string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.errs[component] = msg
}

// Health reports "unhealthy" while any component's last operation failed
func Health() Report {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	report := registry.report("healthy")
	for name, msg := range registry.errs {
		if msg != "" {
			report.Status = "unhealthy"
			report.Components[name] = "unhealthy: " + msg
		} else {
			report.Components[name] = "healthy"
		}
	}
	return report
}

// Readiness reports "ready" once every critical component has reported
// without error
func Readiness() Report {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	report := registry.report("ready")
	for _, name := range CriticalComponents {
		msg, seen := registry.errs[name]
		switch {
		case !seen:
			report.Status = "not_ready"
			report.Components[name] = "not reported"
		case msg != "":
			report.Status = "not_ready"
			report.Components[name] = "not ready: " + msg
		default:
			report.Components[name] = "ready"
		}
	}
	return report
}

func (r *componentRegistry) report(status string) Report {
	return Report{
		Status:     status,
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
		Components: make(map[string]string),
	}
}

func reportHandler(view func() Report, okStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := view()
		w.Header().Set("Content-Type", "application/json")
		if report.Status != okStatus {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// HealthHandler serves Health, 503 while unhealthy
func HealthHandler() http.HandlerFunc {
	return reportHandler(Health, "healthy")
}

// ReadyHandler serves Readiness, 503 until ready
func ReadyHandler() http.HandlerFunc {
	return reportHandler(Readiness, "ready")
}

// LivenessHandler always answers 200 while the process serves requests
func LivenessHandler() http.HandlerFunc {
	return reportHandler(func() Report {
		registry.mu.RLock()
		defer registry.mu.RUnlock()
		return registry.report("alive")
	}, "alive")
}
