// Package metrics exposes Prometheus instrumentation for recording and playback.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordingsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamcapture_recordings_started_total",
		Help: "Total number of recording tasks submitted",
	})

	recordingsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcapture_recordings_finished_total",
		Help: "Total number of recording tasks that reached a terminal outcome, by outcome",
	}, []string{"outcome"})

	recordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamcapture_recordings_active",
		Help: "Number of recording tasks currently running",
	})

	staleOutcomesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamcapture_recording_stale_outcomes_total",
		Help: "Recording outcomes ignored because the task was already superseded",
	})

	playbackBindsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamcapture_playback_binds_total",
		Help: "Total number of playback bindings created",
	})

	playbackErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcapture_playback_errors_total",
		Help: "Playback errors by phase",
	}, []string{"phase"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamcapture_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// IncRecordingStarted records a submitted recording task.
func IncRecordingStarted() {
	recordingsStartedTotal.Inc()
	recordingsActive.Inc()
}

// IncRecordingFinished records a terminal outcome.
// outcome ∈ {succeeded,cancelled,failed}; anything else is counted as "unknown".
func IncRecordingFinished(outcome string) {
	recordingsFinishedTotal.WithLabelValues(normalizeOutcomeLabel(outcome)).Inc()
	recordingsActive.Dec()
}

// IncStaleOutcome records an outcome that arrived for a handle no longer tracked.
func IncStaleOutcome() {
	staleOutcomesTotal.Inc()
}

// IncPlaybackBind records a new playback binding.
func IncPlaybackBind() {
	playbackBindsTotal.Inc()
}

// IncPlaybackError records a playback failure.
// phase ∈ {bind,stream}.
func IncPlaybackError(phase string) {
	playbackErrorsTotal.WithLabelValues(normalizePlaybackPhaseLabel(phase)).Inc()
}

// ObserveHTTPRequest records one served request. route is the matched route pattern.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func normalizeOutcomeLabel(outcome string) string {
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case "succeeded", "cancelled", "failed":
		return strings.ToLower(strings.TrimSpace(outcome))
	default:
		return "unknown"
	}
}

func normalizePlaybackPhaseLabel(phase string) string {
	switch strings.ToLower(strings.TrimSpace(phase)) {
	case "bind", "stream":
		return strings.ToLower(strings.TrimSpace(phase))
	default:
		return "unknown"
	}
}
