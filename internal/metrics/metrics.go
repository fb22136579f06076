package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apprun",
			Name:      "launch_total",
			Help:      "Launch attempts by terminal state (reusing, launched, timed_out, spawn_failed).",
		}, []string{"outcome"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apprun",
			Name:      "stop_total",
			Help:      "Stop requests by terminal state.",
		}, []string{"outcome"},
	)
	readyWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "apprun",
			Name:      "ready_wait_seconds",
			Help:      "Time between spawn and the endpoint becoming readable.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	stopWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "apprun",
			Name:      "stop_wait_seconds",
			Help:      "Time between the graceful signal and confirmed exit or forced kill.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apprun",
			Name:      "http_requests_total",
			Help:      "Requests served by the bundled server.",
		}, []string{"method", "status"},
	)
	serverRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "apprun",
			Subsystem: "server",
			Name:      "resident_memory_bytes",
			Help:      "Resident memory of the supervised server at the last status check.",
		},
	)
	serverCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "apprun",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised server at the last status check.",
		},
	)
)

// Register registers all metrics with the provided registerer and enables
// the recording helpers. It is safe to call multiple times and with several
// registries; collectors already present are kept.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{launches, stops, readyWait, stopWait, httpRequests, serverRSS, serverCPU}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile writes every metric known to g to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(outcome string) {
	if regOK.Load() {
		launches.WithLabelValues(outcome).Inc()
	}
}

func IncStop(outcome string) {
	if regOK.Load() {
		stops.WithLabelValues(outcome).Inc()
	}
}

func ObserveReadyWait(seconds float64) {
	if regOK.Load() {
		readyWait.Observe(seconds)
	}
}

func ObserveStopWait(seconds float64) {
	if regOK.Load() {
		stopWait.Observe(seconds)
	}
}

func IncHTTPRequest(method, status string) {
	if regOK.Load() {
		httpRequests.WithLabelValues(method, status).Inc()
	}
}

func SetServerUsage(rssBytes uint64, cpuPercent float64) {
	if regOK.Load() {
		serverRSS.Set(float64(rssBytes))
		serverCPU.Set(cpuPercent)
	}
}
