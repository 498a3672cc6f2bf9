package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds a full probe round
const readinessTimeout = 5 * time.Second

// errPoolExhausted marks a database that answers but has no spare connections
var errPoolExhausted = errors.New("connection pool exhausted")

// ProbeFunc checks one backing service
type ProbeFunc func(ctx context.Context) error

type probe struct {
	name string
	// critical probes make the gate unhealthy when they fail; others degrade it
	critical bool
	check    ProbeFunc
}

// HealthChecker reports whether the gate can make decisions. The database
// is critical: without the role and profile tables every admin and portal
// request is denied. Redis only backs the rate limiter, which fails open.
type HealthChecker struct {
	probes  []probe
	version string
}

// HealthStatus is the body of the readiness endpoints
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one probe
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewHealthChecker builds a checker probing db and redis. Either may be nil.
func NewHealthChecker(db *sql.DB, client *redis.Client) *HealthChecker {
	h := &HealthChecker{version: buildVersion()}
	if db != nil {
		h.AddProbe("database", true, databaseProbe(db))
	}
	if client != nil {
		h.AddProbe("redis", false, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return h
}

// AddProbe registers an extra dependency check
func (h *HealthChecker) AddProbe(name string, critical bool, check ProbeFunc) {
	h.probes = append(h.probes, probe{name: name, critical: critical, check: check})
}

func databaseProbe(db *sql.DB) ProbeFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return errors.New("query failed: " + err.Error())
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
			return errPoolExhausted
		}
		return nil
	}
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// Check runs every probe in registration order and folds the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		dep := runProbe(ctx, p)
		status.Dependencies[p.name] = dep
		status.Status = worse(status.Status, effective(p, dep))
	}
	return status
}

func runProbe(ctx context.Context, p probe) DependencyStatus {
	start := time.Now()
	err := p.check(ctx)
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	switch {
	case errors.Is(err, errPoolExhausted):
		dep.Status, dep.Message = StatusDegraded, err.Error()
	case err != nil:
		dep.Status, dep.Message = StatusUnhealthy, err.Error()
	}
	return dep
}

// effective is what a probe result contributes to the overall status
func effective(p probe, dep DependencyStatus) string {
	if !p.critical && dep.Status == StatusUnhealthy {
		return StatusDegraded
	}
	return dep.Status
}

var severity = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func worse(a, b string) string {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Names lists the registered probes, sorted
func (h *HealthChecker) Names() []string {
	names := make([]string, 0, len(h.probes))
	for _, p := range h.probes {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Liveness answers 200 whenever the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 when a critical probe fails
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes mounts the probe endpoints on the ops router
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
}
