package jobs

import (
	"strings"
	"time"

	"github.com/smontoya86/curatorq/pkg/health"
)

const (
	defaultBackendHealthCheckName = "jobs-backend"
	defaultBrokerHealthCheckName  = "broker-pool"
)

// NewBackendHealthChecker creates a standard health checker for a jobs backend.
func NewBackendHealthChecker(name string, backend Backend, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultBackendHealthCheckName)
	return health.NewAdapterChecker(checkName, backend, timeout)
}

// NewBrokerHealthChecker creates a health checker for any broker-facing
// component exposing HealthCheck, for example the connection pool manager.
func NewBrokerHealthChecker(name string, target health.Checkable, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultBrokerHealthCheckName)
	return health.NewAdapterChecker(checkName, target, timeout)
}

func normalizeHealthCheckName(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
