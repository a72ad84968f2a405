// Package metrics defines the prometheus collectors shared by the LTA DB
// service and the worker components.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DB service metrics
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lta_requests",
			Help: "LTA DB requests",
		},
		[]string{"method", "route"},
	)

	Responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lta_responses",
			Help: "LTA DB responses",
		},
		[]string{"method", "response", "route"},
	)

	// Component metrics
	Successes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lta_successes",
			Help: "LTA processing successes",
		},
		[]string{"component", "level", "type"},
	)

	Failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lta_failures",
			Help: "LTA processing failures",
		},
		[]string{"component", "level", "type"},
	)

	LoadLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lta_load_level",
			Help: "LTA work processed during the last work cycle",
		},
		[]string{"component", "level", "type"},
	)
)

// Register registers every LTA collector with the default prometheus
// registry. Safe to call once per process.
func Register() {
	prometheus.MustRegister(
		Requests,
		Responses,
		Successes,
		Failures,
		LoadLevel,
	)
}

// Serve exposes the default registry on /metrics at the given port. It
// blocks, so callers run it in a goroutine.
func Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
