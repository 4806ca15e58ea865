package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the federation protocol.
type Metrics struct {
	// Resolver-side metrics
	HeartbeatsTotal       *prometheus.CounterVec
	ConsensusReportsTotal *prometheus.CounterVec
	LeaderChangesTotal    prometheus.Counter
	ActivePeers           prometheus.Gauge

	// Node-side metrics
	RoleTransitionsTotal *prometheus.CounterVec
	HandoverFailures     *prometheus.CounterVec
	DeployRequestsTotal  *prometheus.CounterVec
	TickFailuresTotal    *prometheus.CounterVec
}

// New creates the metric set against the given registerer. Tests pass a
// fresh prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HeartbeatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brh_heartbeats_total",
				Help: "Heartbeats received by the resolver",
			},
			[]string{"result"},
		),

		ConsensusReportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brh_consensus_reports_total",
				Help: "Election reports received by the resolver",
			},
			[]string{"result"},
		),

		LeaderChangesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "brh_leader_changes_total",
				Help: "Authoritative leader changes at the resolver",
			},
		),

		ActivePeers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "brh_active_peers",
				Help: "Peers inside the staleness window at last query",
			},
		),

		RoleTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brh_role_transitions_total",
				Help: "Local role transitions on this node",
			},
			[]string{"direction"},
		),

		HandoverFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brh_handover_failures_total",
				Help: "Per-container label update failures during handover",
			},
			[]string{"operation"},
		),

		DeployRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brh_deploy_requests_total",
				Help: "Deploy requests received by the deploy gate",
			},
			[]string{"status"},
		),

		TickFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brh_tick_failures_total",
				Help: "Failed periodic task ticks on this node",
			},
			[]string{"task"},
		),
	}
}
