/*
Package types defines Warren's domain model: the declarative resources a
user manages (Project, Environment, Service and its attachments) and the
records the control plane produces by applying changes to them (Change,
Snapshot, Deployment). It also keeps the thin single-node swarm substrate
(Node, Task, SwarmService, Network) the orchestrator drives through
pkg/runtime.

# Core types

Declarative resources:

  - Project: a namespace owning environments.
  - Environment: a named scope inside a project ("production" is
    reserved); owns an overlay Network and a buildkit builder, created on
    first need.
  - Service: a long-lived deployable unit, either a docker_image service
    (Image, optional RegistryCredential) or a git service (RepositoryURL,
    Branch, Builder, BuilderOpts). Carries its own Volumes, Configs,
    Ports, URLs, Healthcheck, Resources, and a NetworkAlias that is
    stable across blue/green slot flips.
  - Volume / Config: persistent mount / file blob, each owned by exactly
    one service.
  - URLRoute: a (domain, base_path) pair, globally unique across
    services; either a redirect or a proxy target for the service's
    network alias and an associated port.
  - PortMapping: (host_port, forwarded_port); HostPort == 0 means
    HTTP-only, reached only through URLRoutes.
  - Healthcheck: command or http_path custom healthcheck configuration
    consulted by the deployment healthcheck poller.

Change Ledger records:

  - Change: one pending mutation to a service (field, add/update/delete,
    JSON-encoded new/old value), accumulated until applied.
  - Snapshot: the frozen, fully-resolved service definition captured
    inside a Deployment; never mutated after creation.
  - Deployment: the record produced by applying a pending change set —
    Slot (blue/green), Status, Step (the totally-ordered
    DeploymentStep enum), and the compensation-accounting fields a
    cancelled or failed deployment needs to undo exactly what it did
    (CreatedVolumeIDs, CreatedConfigIDs, PreviousDeploymentID).

Single-node swarm substrate:

  - Node: the one Docker Swarm host the control plane manages (multi-node
    placement is an explicit non-goal).
  - Task: one instance of a SwarmService, with the TaskState lifecycle.
    The health poller probes the deployment's container directly and
    does not read tasks.
  - SwarmService: the container-daemon object the orchestrator creates
    and removes.
  - Network: the overlay network owned by one Environment.
  - Secret: an encrypted-at-rest blob created through the secrets API;
    pkg/security does the encrypting. Registry credentials and deploy
    tokens are not stored as Secrets.

# Usage

Defining a Service:

	service := &types.Service{
		ID:            uuid.New().String(),
		EnvironmentID: env.ID,
		ProjectID:     project.ID,
		Slug:          "api",
		NetworkAlias:  "api",
		SourceType:    types.ServiceSourceDockerImage,
		Image:         "ghcr.io/acme/api:latest",
		Ports: []*types.PortMapping{
			{ID: uuid.New().String(), ForwardedPort: 8080},
		},
		Healthcheck: &types.Healthcheck{
			Type:            types.HealthcheckHTTPPath,
			Value:           "/healthz",
			TimeoutSeconds:  30,
			IntervalSeconds: 30,
		},
	}

Deployment.Step tracks progress through the happy path:

	INITIALIZED -> CLONING_REPOSITORY -> REPOSITORY_CLONED -> BUILDING_IMAGE
	  -> IMAGE_BUILT -> VOLUMES_CREATED -> CONFIGS_CREATED
	  -> PREVIOUS_DEPLOYMENT_SCALED_DOWN -> SWARM_SERVICE_CREATED
	  -> DEPLOYMENT_EXPOSED_TO_HTTP -> SERVICE_EXPOSED_TO_HTTP -> FINISHED

A docker_image service skips the cloning/building steps.

# Design patterns

Enums are typed string constants (ChangeType, ChangeField,
DeploymentStatus, DeploymentStep, TaskState, ...); optional structured
fields are pointers (*Healthcheck, *ResourceRequirements) with nil
meaning "not configured, use defaults."

DeploymentStatus carries two derived predicates used throughout the
orchestrator and health monitor: InFlight (counts against the "exactly
one in-flight deployment per service" invariant) and Terminal (immutable
outside the health monitor's/operator's two named exceptions).

# Integration points

  - pkg/storage persists every type here as JSON in a BoltDB bucket per
    entity kind.
  - pkg/ledger validates and applies Changes against a Service, producing
    Snapshots and Deployments.
  - pkg/manager exposes Create/Update/List methods over these types
    through its Raft-backed state machine.
  - pkg/runtime, pkg/health, pkg/dns, pkg/network and pkg/volume consume
    the swarm substrate and service attachments to drive the actual
    container daemon.

# See also

  - pkg/ledger for Change Ledger semantics
  - pkg/manager for the persistence/replication layer
*/
package types
