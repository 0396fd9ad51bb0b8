// Package metrics provides Prometheus instrumentation for contradeploy.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Deployment metrics
	deployStepTotal    *prometheus.CounterVec
	deployStepDuration *prometheus.HistogramVec
	deployRunTotal     *prometheus.CounterVec

	// Verification metrics
	verificationTotal *prometheus.CounterVec
)

// Init initializes the metrics system. It must be called at most once per process.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Step outcome counter
	deployStepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_step_total",
			Help: "Total number of deployment steps by final state",
		},
		[]string{"network", "contract", "state"},
	)

	// Step duration, build through confirmation
	deployStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deploy_step_duration_seconds",
			Help:    "Deployment step latency in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"network"},
	)

	// Run outcome counter
	deployRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_run_total",
			Help: "Total number of deployment runs by status",
		},
		[]string{"network", "status"},
	)

	// Verification request counter
	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_request_total",
			Help: "Total number of verification requests",
		},
		[]string{"network", "result"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Push sends the collected metrics to a Prometheus Pushgateway.
// Short-lived CLI runs use this instead of being scraped.
func Push(ctx context.Context, url string) error {
	if !enabled || url == "" {
		return nil
	}
	err := push.New(url, serviceName).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
