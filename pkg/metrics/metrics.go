package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Control-plane inventory metrics
	ProjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_projects_total",
			Help: "Total number of projects",
		},
	)

	EnvironmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_environments_total",
			Help: "Total number of environments",
		},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_services_total",
			Help: "Total number of services",
		},
	)

	NodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_nodes_total",
			Help: "Total number of swarm nodes in the cluster",
		},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_tasks_total",
			Help: "Total number of swarm tasks by actual state",
		},
		[]string{"state"},
	)

	SecretsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_secrets_total",
			Help: "Total number of secrets",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Service operation metrics
	ServiceCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_service_create_duration_seconds",
			Help:    "Time taken to create a service in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ServiceUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_service_update_duration_seconds",
			Help:    "Time taken to update a service in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ServiceDeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_service_delete_duration_seconds",
			Help:    "Time taken to delete a service in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft operation metrics
	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_reconciliation_duration_seconds",
			Help:    "Time taken for a stuck-deployment reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_reconciliation_cycles_total",
			Help: "Total number of stuck-deployment reconciliation cycles completed",
		},
	)

	// Reverse-proxy (pkg/proxy) metrics
	ProxyRouteSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_proxy_route_sync_duration_seconds",
			Help:    "Time taken to push a route set to the reverse proxy admin API",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProxyRouteSyncConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_proxy_route_sync_conflicts_total",
			Help: "Total number of ETag conflicts encountered pushing routes to the reverse proxy",
		},
	)

	// Build pipeline (pkg/build) metrics
	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_build_duration_seconds",
			Help:    "Image build duration in seconds by builder type",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"builder"},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_builds_total",
			Help: "Total number of builds by builder type and outcome",
		},
		[]string{"builder", "outcome"},
	)

	// Deployment metrics (pkg/orchestrator)
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_deployments_total",
			Help: "Total number of deployments by source type and terminal status",
		},
		[]string{"source_type", "status"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_deployment_duration_seconds",
			Help:    "Deployment duration in seconds from queued to terminal, by source type",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source_type"},
	)

	CancelledDeploymentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_deployments_cancelled_total",
			Help: "Total number of deployments cancelled before reaching a terminal status",
		},
	)

	// Semaphore registry (pkg/semaphore) metrics
	SemaphoreWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_semaphore_wait_duration_seconds",
			Help:    "Time a deployment workflow waited to acquire its per-service semaphore",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Healthcheck metrics
	HealthcheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_healthcheck_duration_seconds",
			Help:    "Time taken for a single healthcheck probe, by type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(ProjectsTotal)
	prometheus.MustRegister(EnvironmentsTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(SecretsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(ServiceCreateDuration)
	prometheus.MustRegister(ServiceUpdateDuration)
	prometheus.MustRegister(ServiceDeleteDuration)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)

	prometheus.MustRegister(ProxyRouteSyncDuration)
	prometheus.MustRegister(ProxyRouteSyncConflictsTotal)

	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(BuildsTotal)

	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(CancelledDeploymentsTotal)

	prometheus.MustRegister(SemaphoreWaitDuration)
	prometheus.MustRegister(HealthcheckDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
