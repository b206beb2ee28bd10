// Package metrics exports conductor and sequencer instrumentation as
// package-level prometheus collectors registered at init.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Conductor metrics
	RegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_registry_resources",
			Help: "Number of resources currently tracked in the client registry",
		},
	)

	LingeringResources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_lingering_resources",
			Help: "Number of log buffers awaiting their linger window before release",
		},
	)

	DriverRoundTripDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conductor_driver_round_trip_seconds",
			Help:    "Latency of awaitResponse round trips to the media driver",
			Buckets: prometheus.DefBuckets,
		},
	)

	DriverTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_driver_timeouts_total",
			Help: "Total number of awaitResponse calls that exceeded driverTimeoutNs",
		},
	)

	// Sequencer metrics
	SessionsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sequencer_sessions",
			Help: "Number of cluster sessions by lifecycle state",
		},
		[]string{"state"},
	)

	LogAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sequencer_log_append_seconds",
			Help:    "Latency of a successful log append (tryClaim through commit)",
			Buckets: prometheus.DefBuckets,
		},
	)

	LogAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sequencer_log_append_failures_total",
			Help: "Total number of timer-event log appends that exhausted MAX_SEND_ATTEMPTS (session-event appends are not counted)",
		},
	)

	TimerServiceDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_timer_service_depth",
			Help: "Number of armed timers in the sequencer's timer service",
		},
	)

	PendingSessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sequencer_pending_sessions_expired_total",
			Help: "Total number of pending sessions closed without ever opening",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_raft_is_leader",
			Help: "Whether this node is the Raft leader for the cluster log (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sequencer_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)
)

func init() {
	prometheus.MustRegister(RegistrySize)
	prometheus.MustRegister(LingeringResources)
	prometheus.MustRegister(DriverRoundTripDuration)
	prometheus.MustRegister(DriverTimeoutsTotal)
	prometheus.MustRegister(SessionsByState)
	prometheus.MustRegister(LogAppendDuration)
	prometheus.MustRegister(LogAppendFailuresTotal)
	prometheus.MustRegister(TimerServiceDepth)
	prometheus.MustRegister(PendingSessionsExpiredTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an in-flight operation for later observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time since NewTimer to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time since NewTimer to a labeled
// histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
