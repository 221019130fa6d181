/*
Package runtime drives the container orchestration daemon that actually
runs workloads: Docker in Swarm mode. Swarm mode is implemented by
dockerd, not by containerd directly, so this package talks to the daemon
through the docker CLI (`docker service`, `docker network`, `docker
config`, `docker volume`) rather than a client library — the same
os/exec idiom pkg/embedded already uses to drive buildx.

# Why the CLI and not a client library

containerd's client talks to containerd's own gRPC socket, one level
below the Swarm orchestration dockerd layers on top of it. There is no
stable public Go client for the Swarm-mode surface this control plane
needs (service create/scale/rm, task listing, overlay networks, configs,
volumes); the docker CLI is the documented, stable way to reach it.

# Core operations

SwarmRuntime exposes the primitives pkg/orchestrator composes into the
happy path (spec.md §4.2.3):

  - PullImage: pulls a built or registry image before service creation.
  - CreateService / ScaleService / RemoveService: the swarm service
    lifecycle, including network aliases, mounts, published ports,
    resource limits, restart and update policies.
  - ListTasks: polls a service's current tasks and maps the daemon's
    free-text state column onto types.TaskState.
  - CreateNetwork / RemoveNetwork: the per-Environment overlay network.
  - CreateConfig / RemoveConfig, CreateVolume / RemoveVolume: the
    swarm-native objects backing Config and Volume resources.

# Usage

	rt := runtime.NewSwarmRuntime()
	if err := rt.PullImage(ctx, "ghcr.io/acme/api:latest"); err != nil {
		return err
	}
	if err := rt.CreateService(ctx, swarmService); err != nil {
		return err
	}
	tasks, err := rt.ListTasks(ctx, swarmService.Name)

# Design patterns

Every call except CreateConfig (which feeds the config contents on stdin
through os/exec directly) shells out through a single runCmd hook (a
function value, swappable in tests), mirroring pkg/embedded.BuilderEnsurer's runCommand
seam. Removal operations are idempotent: a "not found" result from the
daemon is treated as success, matching pkg/storage's idempotent-delete
convention.

# Integration points

  - pkg/orchestrator drives the deployment happy path and compensation
    through this package.
  - pkg/health's deployment poller reads task state via ListTasks.
  - pkg/archiver removes swarm services, networks, configs and volumes
    on teardown.

# See also

  - pkg/embedded for the buildkit builder lifecycle image builds depend on.
  - pkg/types for SwarmService, Task and TaskState.
*/
package runtime
