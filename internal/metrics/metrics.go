package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the watchdog collectors together with the registry they are
// registered on.
type Set struct {
	registry *prometheus.Registry

	restarts     *prometheus.CounterVec
	pingFailures *prometheus.CounterVec
	daemonState  *prometheus.GaugeVec
	startTime    prometheus.Gauge
}

// New builds a Set with all collectors registered on a fresh registry.
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_restarts_total",
			Help: "Total number of daemon restarts, partitioned by reason.",
		}, []string{"daemon", "reason"}),
		pingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ping_failures_total",
			Help: "Total number of failed liveness pings.",
		}, []string{"daemon"}),
		daemonState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_daemon_state",
			Help: "Current daemon state; exactly one state per daemon is 1.",
		}, []string{"daemon", "state"}),
		startTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_start_time_seconds",
			Help: "Unix time the watchdog started.",
		}),
	}
	s.registry.MustRegister(s.restarts, s.pingFailures, s.daemonState, s.startTime)
	return s
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}

// MarkStarted records the watchdog start time.
func (s *Set) MarkStarted(unixSeconds float64) {
	s.startTime.Set(unixSeconds)
}

// RecordRestart counts one scheduled restart for a daemon.
func (s *Set) RecordRestart(daemon, reason string) {
	s.restarts.WithLabelValues(daemon, reason).Inc()
}

// RecordPingFailure counts one missed liveness ping.
func (s *Set) RecordPingFailure(daemon string) {
	s.pingFailures.WithLabelValues(daemon).Inc()
}

// RecordState flips the state gauge for a daemon. The previous state drops
// to 0 and the new state rises to 1, keeping the series mutually exclusive.
func (s *Set) RecordState(daemon, from, to string) {
	if from != "" {
		s.daemonState.WithLabelValues(daemon, from).Set(0)
	}
	if to != "" {
		s.daemonState.WithLabelValues(daemon, to).Set(1)
	}
}
