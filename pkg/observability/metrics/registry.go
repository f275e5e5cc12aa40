// Package metrics exposes the process Prometheus metrics on the management
// endpoint. Job and broker metrics register themselves via promauto against
// the default registerer; this package serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metrics registration and exposure. It wraps
// the default registerer so promauto-declared metrics and custom collectors
// come out of the same /metrics endpoint.
type Registry struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// NewRegistry returns a registry over the process-default registerer, which
// already carries the Go runtime and process collectors.
func NewRegistry() *Registry {
	return &Registry{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
}

// Register registers a custom collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registerer.Register(collector)
}

// MustRegister registers custom collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registerer.MustRegister(collectors...)
}

// Unregister removes a collector. Primarily useful in tests.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registerer.Unregister(collector)
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}
