/*
Package storage provides BoltDB-backed persistence for the control plane's
state: the declarative resources (Project, Environment, Service and its
attachments), the Change Ledger, Deployments, and the single-node swarm
substrate (Node, Task, SwarmService, Network, Secret).

# Architecture

One bucket per entity type, JSON-encoded values keyed by entity ID:

	projects, environments, services, changes, deployments,
	networks, nodes, tasks, swarm_services, secrets, archived_services

archived_services holds the terminal record pkg/archiver writes when a
service is torn down (spec.md §4.9); nothing in this tree reads it back.

BoltStore wraps a single *bolt.DB (file: <dataDir>/warren.db). Reads use
db.View, writes use db.Update; BoltDB serializes writers and gives
consistent snapshots to concurrent readers. This is the FSM's only
durable write target — every Manager Create/Update/Delete method ends up
here via WarrenFSM.Apply, never called directly outside pkg/manager.

# Ordering caveat

Bucket iteration (ForEach) walks keys in BoltDB's lexicographic key order,
not insertion order. ListPendingChanges returns changes in that order;
callers that need insertion order for spec.md §4.1's ordering rule (e.g.
pkg/ledger) sort by Change.CreatedAt themselves rather than relying on
storage iteration order.

# Usage

	store, err := storage.NewBoltStore("/var/lib/warren")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.CreateService(service)
	svc, err := store.GetService(service.ID)
	changes, err := store.ListPendingChanges(service.ID)

# Design patterns

Upsert: Create and Update both do a bucket Put, keyed by ID — no separate
existence check. Delete is idempotent: removing an absent key is not an
error. Filtered listings (ListServicesByEnvironment,
ListDeploymentsByService, ListTasksByDeploymentHash, ...) do a full
bucket scan and filter in memory rather than maintaining secondary
indexes, which is adequate at this control plane's scale (a handful of
projects/environments/services per node, not a multi-tenant cluster).

# Integration points

  - pkg/manager: the Raft FSM's only durable write target
  - pkg/ledger: reads/writes Changes and Deployments
  - pkg/security: secrets are stored here already encrypted

# See also

  - pkg/manager for the Raft replication layer on top of this package
  - pkg/types for the entity definitions persisted here
*/
package storage
