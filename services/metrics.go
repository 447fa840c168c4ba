package services

import "github.com/prometheus/client_golang/prometheus"

var (
	syncChecksCounter        *prometheus.CounterVec
	syncChecksInFlight       prometheus.Gauge
	coalescedTriggersCounter prometheus.Counter
	integrityIssuesCounter   prometheus.Counter
	repairsCounter           *prometheus.CounterVec
	migrationsCounter        *prometheus.CounterVec
)

func init() {
	syncChecksCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_sync_checks_total",
			Help: "Total number of sync monitor checks by kind and result.",
		},
		[]string{"kind", "result"},
	)
	syncChecksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "citetrack_sync_checks_in_flight",
			Help: "Number of sync monitor checks currently running (0 or 1).",
		},
	)
	coalescedTriggersCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "citetrack_sync_triggers_coalesced_total",
			Help: "Total number of ticks and change triggers folded into an in-flight check.",
		},
	)
	integrityIssuesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "citetrack_integrity_issues_total",
			Help: "Total number of integrity issues found by deep consistency checks.",
		},
	)
	repairsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_integrity_repairs_total",
			Help: "Total number of records touched by integrity repair, by kind.",
		},
		[]string{"kind"},
	)
	migrationsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_migrations_total",
			Help: "Total number of legacy data migrations by result.",
		},
		[]string{"result"},
	)

	prometheus.MustRegister(
		syncChecksCounter,
		syncChecksInFlight,
		coalescedTriggersCounter,
		integrityIssuesCounter,
		repairsCounter,
		migrationsCounter,
	)
}
