/*
Package api implements Warren's control plane HTTP API and health/readiness
probes.

The API is the primary interface external clients (the warren CLI, the
local dashboard, CI pipelines triggering deploys) use to declare projects,
environments, services, and changes, and to drive deployments through the
Change Ledger and Deployment Orchestrator.

# Architecture

	┌──────────────── CLIENT (warren CLI) ───────────────┐
	│  HTTP + JSON, bearer join token (TokenManager)      │
	│  checked on every API request                       │
	└─────────────────────┬────────────────────────────────┘
	                      │ HTTP
	┌─────────────────────▼──── SINGLE-NODE MANAGER ───────┐
	│  ┌──────────────────────────────────────────────┐    │
	│  │        Server (pkg/api)                       │    │
	│  │  - REST-ish JSON handlers                     │    │
	│  │  - read-only gate (rejects writes off-leader) │    │
	│  │  - metrics instrumentation                    │    │
	│  └──────────────────┬───────────────────────────┘    │
	│                     │                                 │
	│   ┌─────────────────┼─────────────────┐               │
	│   ▼                 ▼                 ▼               │
	│ Manager          Ledger          Orchestrator          │
	│ (Raft store)  (pending changes) (deploy/cancel)        │
	└──────────────────────────────────────────────────────┘

There is exactly one manager node (spec.md §9 scopes multi-manager HA as a
non-goal), so unlike a distributed control plane there is no peer to
forward writes to — the read-only gate exists only to protect against
serving writes during a brief Raft leadership gap, not to route between
nodes.

# Endpoints

Projects:
  - GET/POST   /v1/projects
  - GET/DELETE /v1/projects/{id}

Environments:
  - GET/POST   /v1/environments?project_id=
  - GET/DELETE /v1/environments/{id}
  - POST       /v1/environments/{id}/clone — fork into a new environment

Services:
  - GET/POST   /v1/services?environment_id=
  - GET/DELETE /v1/services/{id}
  - GET/POST   /v1/services/{id}/changes   — Change Ledger: list/request a change
  - POST       /v1/services/{id}/apply     — apply pending changes, start a deployment

Deployments:
  - GET  /v1/deployments/{id}
  - POST /v1/deployments/{id}/cancel

Health:
  - GET /health  — liveness
  - GET /ready   — readiness (Raft leadership + storage reachability)
  - GET /metrics — Prometheus exposition

# Apply and deployment lifecycle

POST /v1/services/{id}/apply calls pkg/ledger.Ledger.Apply, which folds the
service's PendingChanges into a new immutable Snapshot and queues a
Deployment record. The handler then hands the deployment ID to
Orchestrator.Run in a background goroutine and returns 202 Accepted
immediately — Run blocks for as long as it takes to drain that service's
entire deployment queue, which can be minutes (clone, build, healthcheck
polling), so the HTTP request must not wait on it. Callers poll
GET /v1/deployments/{id} for status, or POST its /cancel endpoint to
request a graceful rollback (see pkg/orchestrator's cancellation walk).

# Archival and cloning

DELETE on a project, environment, or service does not simply drop its
row: it runs through pkg/archiver.Archiver (ArchiveProject/
ArchiveEnvironment/ArchiveService), which unexposes proxy routes, removes
healthcheck schedules, scales and removes swarm services, deletes owned
volumes/configs/builders/networks, and only then moves or deletes the
record. POST /v1/environments/{id}/clone runs pkg/environment.Cloner,
reproducing every service in the source environment as a freshly created
service with the same source/builder/healthcheck/resource/env/volume/
config/URL state queued as pending changes (redirect URLs skipped,
other URLs rewritten to a preview domain, host-mapped ports dropped);
an optional deploy_services flag applies and deploys each clone
immediately. Server reaches both through local TearDown/Cloner
interfaces, the same structural-interface pattern as Deployer, so this
package imports neither pkg/archiver nor pkg/environment directly.

# Error mapping

pkg/ledger.Error carries a Kind (invalid_change, conflict, not_found) that
writeLedgerError maps directly to HTTP status (400, 409, 404); anything
else surfaces as 500 with the raw error text. Handlers never panic on bad
input — decode failures return 400 before anything is written through the
manager or ledger.

# Metrics

Every request is wrapped by withAPIMetrics, recording
api_requests_total{method,status} and api_request_duration_seconds{method}
(pkg/metrics, shared with the rest of the control plane). Project,
environment, and service counts are tracked as gauges
(projects_total, environments_total, services_total), incremented on
create and decremented on delete/archive.

# See also

  - pkg/manager for the Raft-backed domain store this package reads and
    writes through
  - pkg/ledger for change validation and snapshot/deployment creation
  - pkg/orchestrator for what actually happens after apply
  - pkg/archiver for the tear-down sequence behind every DELETE
  - pkg/environment for environment cloning
  - pkg/health (poller/monitor) — not to be confused with this package's
    own liveness/readiness probes, which check the control plane itself
    rather than a deployed service
*/
package api
