/*
Package metrics defines and registers Warren's Prometheus metrics, exposed
over HTTP for scraping. It observes control-plane state and deployment
activity; it never drives behavior.

# Architecture

	manager / orchestrator / proxy / build --(Set/Inc/Observe)--> package vars
	    --(init registration)--> prometheus.DefaultRegistry
	    --(/metrics)--> promhttp.Handler() --(scrape)--> Prometheus server

# Metrics catalog

Inventory gauges: warren_projects_total, warren_environments_total,
warren_services_total, warren_nodes_total, warren_tasks_total{state},
warren_secrets_total.

Raft gauges: warren_raft_is_leader, warren_raft_peers_total,
warren_raft_log_index, warren_raft_applied_index.

API: warren_api_requests_total{method,status},
warren_api_request_duration_seconds{method}.

Operation latency: warren_service_{create,update,delete}_duration_seconds,
warren_raft_{apply,commit}_duration_seconds.

Reconciler: warren_reconciliation_duration_seconds,
warren_reconciliation_cycles_total.

Reverse proxy (pkg/proxy): warren_proxy_route_sync_duration_seconds,
warren_proxy_route_sync_conflicts_total (ETag conflicts against the admin
API).

Build pipeline (pkg/build): warren_build_duration_seconds{builder},
warren_builds_total{builder,outcome}.

Deployments (pkg/orchestrator): warren_deployments_total{source_type,status},
warren_deployment_duration_seconds{source_type},
warren_deployments_cancelled_total.

Semaphore registry (pkg/semaphore): warren_semaphore_wait_duration_seconds —
time a deployment workflow spent waiting on its per-service lock.

Healthchecks: warren_healthcheck_duration_seconds{type}.

# Usage

	timer := metrics.NewTimer()
	err := svc.Create(...)
	timer.ObserveDuration(metrics.ServiceCreateDuration)

	metrics.DeploymentsTotal.WithLabelValues(string(d.SourceType), string(d.Status)).Inc()

	http.Handle("/metrics", metrics.Handler())

# Integration points

  - pkg/manager: inventory, Raft gauges (MetricsCollector, 15s tick)
  - pkg/orchestrator: deployment counters/histograms, healthcheck probe
    duration
  - pkg/proxy: route sync duration and ETag conflict counter
  - pkg/build: build duration and outcome counters
  - pkg/semaphore: semaphore wait

# Design notes

All metrics are package-level vars registered in init() via MustRegister,
matching Warren's existing convention: no runtime registration, no
per-request setup required by callers. Label sets are kept low-cardinality
(status/state/type strings, never IDs).
*/
package metrics
