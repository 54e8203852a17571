/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gclsync"

// Refresh loop metrics.
var (
	RefreshCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_cycles_total",
		Help:      "Refresh cycles by final deployment status.",
	}, []string{"status"})

	RefreshCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_cycle_duration_seconds",
		Help:      "Wall time of one refresh cycle including probing.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	RefreshState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "refresh_state",
		Help:      "Refresh loop state (0 idle, 1 updating).",
	})

	RefreshPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_panics_total",
		Help:      "Panics recovered at the refresh cycle boundary.",
	})
)

// Deployment metrics.
var (
	DeployAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deploy_attempts_total",
		Help:      "Apply attempts per switch target by result.",
	}, []string{"target", "result"})

	DeployDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deploy_duration_seconds",
		Help:      "Time to apply a schedule to every target.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation"})

	DeployTargetsApplied = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deploy_targets_applied",
		Help:      "Targets that accepted the most recent schedule.",
	})
)

// Measurement metrics. Sentinel values are not exported.
var (
	ProbeLatencyMs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probe_latency_ms",
		Help:      "Mean round trip time of the last measurement.",
	})

	ProbeJitterMs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probe_jitter_ms",
		Help:      "Mean absolute difference of adjacent round trip samples.",
	})

	ProbeSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_samples_total",
		Help:      "Individual ping probes by result.",
	}, []string{"result"})

	ScheduleAdherenceNs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "schedule_adherence_ns",
		Help:      "Deviation between the intended and observed apply instant.",
	})

	LeadSlackNs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lead_slack_ns",
		Help:      "Time left before the base time once apply finished.",
	})
)

// Leadership and events.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leader_election_status",
		Help:      "1 when this instance holds the refresh lease.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_election_changes_total",
		Help:      "Leadership transitions.",
	}, []string{"instance_id", "transition"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events published by type and transport.",
	}, []string{"event_type", "transport"})
)

// HTTP metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Inspection API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Inspection API requests.",
	}, []string{"method", "route", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight inspection API requests.",
	})
)

// Record store metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Record store query latency.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Record store errors.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections_active",
		Help:      "Open record store connections.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
