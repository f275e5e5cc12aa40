package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/smontoya86/curatorq/pkg/config"
	"github.com/smontoya86/curatorq/pkg/health"
	"github.com/smontoya86/curatorq/pkg/jobs"
	"github.com/smontoya86/curatorq/pkg/observability/logger"
	"github.com/smontoya86/curatorq/pkg/observability/metrics"
)

// ManagementServer serves health checks, queue diagnostics and Prometheus
// metrics on a port separate from whatever traffic the host application
// handles:
//   - /healthz: liveness check (always returns 200)
//   - /readyz: readiness check (runs registered dependency checks)
//   - /queues: per-queue health report
//   - /metrics: Prometheus metrics endpoint
type ManagementServer struct {
	*Server
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	monitor         *jobs.QueueHealthMonitor
	queues          []string
	router          *mux.Router
}

// NewManagementServer wires the standard management endpoints onto a
// gorilla/mux router. The monitor is optional; without one the /queues
// endpoint is not registered.
func NewManagementServer(
	cfg config.ManagementConfig,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	monitor *jobs.QueueHealthMonitor,
	queues []string,
) *ManagementServer {
	r := mux.NewRouter()

	s := &ManagementServer{
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		monitor:         monitor,
		queues:          queues,
		router:          r,
	}
	s.Server = NewServer(Config{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, r, log)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", metricsRegistry.Handler()).Methods(http.MethodGet)
	if monitor != nil {
		r.HandleFunc("/queues", s.handleQueues).Methods(http.MethodGet)
	}
	return s
}

// Router returns the underlying router for registering extra routes.
func (s *ManagementServer) Router() *mux.Router {
	return s.router
}

// handleHealthz is the liveness check. It reports the process is alive
// without touching dependencies.
func (s *ManagementServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": health.StatusHealthy})
}

// handleReadyz runs all registered dependency checks. Unhealthy dependencies
// turn the response into a 503 so orchestrators stop routing work here.
func (s *ManagementServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	result := s.healthRegistry.Check(r.Context())
	code := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result)
}

// handleQueues reports per-queue backlog, failure and worker health.
func (s *ManagementServer) handleQueues(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Check(r.Context(), s.queues)
	code := http.StatusOK
	if report.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
