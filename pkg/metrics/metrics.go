package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Remote host operation metrics
	RemoteOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ainur_remote_operations_total",
			Help: "Total number of remote host operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RemoteOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ainur_remote_operation_duration_seconds",
			Help:    "Remote host operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ainur_rollbacks_total",
			Help: "Total number of batch rollbacks triggered by failed remote operations",
		},
	)

	// Playbook metrics
	PlaybookRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ainur_playbook_runs_total",
			Help: "Total number of playbook runs by playbook and status",
		},
		[]string{"playbook", "status"},
	)

	// Membership metrics
	SwarmNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ainur_swarm_nodes_total",
			Help: "Number of swarm nodes currently attached, by role",
		},
		[]string{"role"},
	)

	NetworkHostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ainur_network_hosts_total",
			Help: "Number of hosts reachable per layer-3 network",
		},
		[]string{"network"},
	)

	MeshPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ainur_mesh_peers_total",
			Help: "Number of hosts connected to the VPN mesh",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RemoteOpsTotal)
	prometheus.MustRegister(RemoteOpDuration)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(PlaybookRunsTotal)
	prometheus.MustRegister(SwarmNodesTotal)
	prometheus.MustRegister(NetworkHostsTotal)
	prometheus.MustRegister(MeshPeersTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer creates a timer started now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveRemoteOp records the elapsed time for a remote operation and counts
// its outcome ("ok" or "failed")
func (t *Timer) ObserveRemoteOp(operation, outcome string) {
	RemoteOpDuration.WithLabelValues(operation).Observe(t.Duration().Seconds())
	RemoteOpsTotal.WithLabelValues(operation, outcome).Inc()
}
