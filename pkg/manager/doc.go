/*
Package manager is Warren's control-plane process: a single node running a
Raft-backed state machine over BoltDB, plus the subsystems that hang off it
(token issuance, secrets, DNS, event broadcast).

Warren targets one Docker Swarm node per control plane (spec.md §9). Raft
here is not multi-manager HA clustering — it is the durability and
crash-recovery substrate a single process uses in place of an external
workflow engine: every mutation is a Raft log entry, so a restart replays
the log (or loads the latest snapshot) and control-plane state is exactly
where it left off. AddVoter/RemoveServer remain on Manager for an optional
future HA replica, not for routine operation.

# Architecture

	cmd/warren  --> Manager.NewManager --> Manager.Bootstrap
	    |                                       |
	    |                              single-voter raft.Raft
	    |                                       |
	    +-- applyJSON(op, v) --> raft.Apply --> WarrenFSM.Apply --> storage.Store (BoltDB)
	    |
	    +-- SecretsManager (AES-256-GCM, key derived from the node ID)
	    +-- events.Broker (in-process pub/sub)
	    +-- dns.Server (goroutine, started in Bootstrap)

# Core components

Manager: owns the raft.Raft handle, the FSM, the BoltDB store, the token
manager, the secrets manager, the event broker, and the DNS server. All
writes go through applyJSON, which marshals a value, wraps it in a Command,
and calls raft.Apply; all reads go straight to storage.Store.

WarrenFSM: the Raft finite state machine. Apply() dispatches Command.Op to
the matching storage.Store method. Snapshot()/Restore() walk
Project -> Environment -> Service -> Deployment plus the node list; Tasks,
SwarmServices, Networks, and Secrets are reconciled from the Docker daemon
and the Change Ledger rather than snapshotted, since they are derivable
runtime state, not durable intent.

TokenManager: generates and validates the bearer tokens the CLI's HTTP API
client presents (spec.md's control surface has no separate node-join
concept — a single node never joins anything).

# Usage

	cfg := &manager.Config{NodeID: "warren-0", BindAddr: "127.0.0.1:7373", DataDir: "/var/lib/warren"}
	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := mgr.Bootstrap(); err != nil {
		log.Fatal(err)
	}
	defer mgr.Shutdown()

	if err := mgr.CreateProject(project); err != nil {
		log.Fatal(err)
	}

# Leadership

Bootstrap always forms a single-voter cluster, so this process is always
leader once Bootstrap's BootstrapCluster call completes; IsLeader() exists
for the AddVoter/HA path, not because followers are expected in normal
operation.

# Integration points

  - pkg/storage: BoltDB-backed Store, the FSM's only durable write target
  - pkg/security: secret encryption at rest
  - pkg/dns: alias resolution for service-to-service traffic
  - pkg/events: in-process broker owned by Manager; no package publishes
    to it or subscribes on it
  - pkg/ledger, pkg/orchestrator: call through Manager's entity methods to
    record Changes and drive Deployments

# See also

  - pkg/storage for the persistence layer
  - pkg/ledger for Change Ledger semantics
  - pkg/orchestrator for the deployment state machine built on top of this
    package's Create/Update methods
*/
package manager
