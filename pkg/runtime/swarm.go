package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
)

// SwarmRuntime drives Docker Swarm mode through the `docker` CLI, the same
// shell-out idiom pkg/embedded already uses for buildx. Swarm-mode service
// and task objects are dockerd-level constructs, not containerd-level ones,
// so unlike a containerd-direct runtime this
// package's external interface is the "container orchestration daemon"
// named in spec.md §6, reached through its CLI rather than a gRPC client.
type SwarmRuntime struct {
	runCmd func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSwarmRuntime creates a SwarmRuntime.
func NewSwarmRuntime() *SwarmRuntime {
	return &SwarmRuntime{runCmd: runDocker}
}

func runDocker(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// PullImage pulls imageRef with a plain `docker pull` (spec.md §4.2.3
// step 11). It takes no registry credential and performs no registry login.
func (r *SwarmRuntime) PullImage(ctx context.Context, imageRef string) error {
	out, err := r.runCmd(ctx, "docker", "pull", imageRef)
	if err != nil {
		return fmt.Errorf("image_pull_failed: %s: %w (%s)", imageRef, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CreateService creates a swarm service from svc (spec.md §4.2.3 step 12):
// naming srv-<project_id>-<service_id>-<deployment_hash>, network aliases
// [network_alias, <slot>-<network_alias>], restart/update policies.
func (r *SwarmRuntime) CreateService(ctx context.Context, svc *types.SwarmService) error {
	args := []string{"service", "create", "--detach", "--name", svc.Name}

	for _, alias := range svc.Aliases {
		args = append(args, "--network", fmt.Sprintf("name=%s,alias=%s", svc.NetworkID, alias))
	}
	if len(svc.Aliases) == 0 {
		args = append(args, "--network", svc.NetworkID)
	}

	for k, v := range svc.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	for _, e := range svc.Env {
		args = append(args, "--env", e)
	}
	for _, m := range svc.Mounts {
		opt := fmt.Sprintf("type=volume,source=%s,target=%s", m.VolumeID, m.Target)
		if m.ReadOnly {
			opt += ",readonly"
		}
		args = append(args, "--mount", opt)
	}
	for _, c := range svc.Configs {
		args = append(args, "--config", fmt.Sprintf("source=%s,target=%s", c.ConfigID, c.Target))
	}
	for _, p := range svc.Ports {
		if p.IsHTTPOnly() {
			continue // HTTP-only ports are reached via pkg/proxy, never published directly
		}
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		args = append(args, "--publish", fmt.Sprintf("published=%d,target=%d,protocol=%s", p.HostPort, p.ForwardedPort, proto))
	}
	if svc.Resources != nil {
		if svc.Resources.CPULimit > 0 {
			args = append(args, "--limit-cpu", strconv.FormatFloat(svc.Resources.CPULimit, 'f', -1, 64))
		}
		if svc.Resources.MemoryLimitBytes > 0 {
			args = append(args, "--limit-memory", fmt.Sprintf("%dB", svc.Resources.MemoryLimitBytes))
		}
		if svc.Resources.CPUReservation > 0 {
			args = append(args, "--reserve-cpu", strconv.FormatFloat(svc.Resources.CPUReservation, 'f', -1, 64))
		}
		if svc.Resources.MemoryReservation > 0 {
			args = append(args, "--reserve-memory", fmt.Sprintf("%dB", svc.Resources.MemoryReservation))
		}
	}
	if svc.RestartPolicy != nil {
		args = append(args, "--restart-condition", string(svc.RestartPolicy.Condition))
		if svc.RestartPolicy.MaxAttempts > 0 {
			args = append(args, "--restart-max-attempts", strconv.Itoa(svc.RestartPolicy.MaxAttempts))
		}
		if svc.RestartPolicy.Delay > 0 {
			args = append(args, "--restart-delay", svc.RestartPolicy.Delay.String())
		}
	}
	if svc.UpdateConfig != nil {
		if svc.UpdateConfig.Parallelism > 0 {
			args = append(args, "--update-parallelism", strconv.Itoa(svc.UpdateConfig.Parallelism))
		}
		if svc.UpdateConfig.Order != "" {
			args = append(args, "--update-order", svc.UpdateConfig.Order)
		}
		if svc.UpdateConfig.FailureAction != "" {
			args = append(args, "--update-failure-action", svc.UpdateConfig.FailureAction)
		}
	}

	replicas := svc.Replicas
	if replicas == 0 {
		replicas = 1
	}
	args = append(args, "--replicas", strconv.Itoa(replicas))
	args = append(args, svc.Image)
	if svc.Command != "" {
		args = append(args, "sh", "-c", svc.Command)
	}

	logger := log.WithComponent("runtime.swarm")
	logger.Info().Str("swarm_service", svc.Name).Msg("creating swarm service")

	out, err := r.runCmd(ctx, "docker", args...)
	if err != nil {
		return fmt.Errorf("failed to create swarm service %s: %w (%s)", svc.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ScaleService sets a swarm service's replica count (used on previous-
// deployment scale-down, spec.md §4.2.3 step 10, and on compensation).
func (r *SwarmRuntime) ScaleService(ctx context.Context, name string, replicas int) error {
	out, err := r.runCmd(ctx, "docker", "service", "scale", "--detach", fmt.Sprintf("%s=%d", name, replicas))
	if err != nil {
		return fmt.Errorf("failed to scale swarm service %s to %d: %w (%s)", name, replicas, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemoveService removes a swarm service (idempotent: absent service is not
// an error; removal is idempotent).
func (r *SwarmRuntime) RemoveService(ctx context.Context, name string) error {
	out, err := r.runCmd(ctx, "docker", "service", "rm", name)
	if err != nil && !strings.Contains(string(out), "not found") {
		return fmt.Errorf("failed to remove swarm service %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// dockerTask mirrors the subset of `docker service ps --format json` fields
// this package consumes.
type dockerTask struct {
	ID           string `json:"ID"`
	Name         string `json:"Name"`
	Node         string `json:"Node"`
	CurrentState string `json:"CurrentState"`
	DesiredState string `json:"DesiredState"`
}

// ListTasks returns the current tasks of a swarm service, with ActualState
// mapped from the daemon's free-text CurrentState column (spec.md §4.2.4's
// state set) to types.TaskState.
func (r *SwarmRuntime) ListTasks(ctx context.Context, serviceName string) ([]*types.Task, error) {
	out, err := r.runCmd(ctx, "docker", "service", "ps", "--no-trunc", "--format", "{{json .}}", serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for %s: %w (%s)", serviceName, err, strings.TrimSpace(string(out)))
	}

	var tasks []*types.Task
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		var dt dockerTask
		if err := json.Unmarshal([]byte(line), &dt); err != nil {
			continue
		}
		tasks = append(tasks, &types.Task{
			ID:           dt.ID,
			ActualState:  mapTaskState(dt.CurrentState),
			DesiredState: mapTaskState(dt.DesiredState),
			UpdatedAt:    time.Now(),
		})
	}
	return tasks, nil
}

// mapTaskState maps the daemon's free-text state column ("Running 4 minutes
// ago", "Preparing", "Shutdown") to the first matching types.TaskState.
func mapTaskState(raw string) types.TaskState {
	field := strings.Fields(raw)
	word := raw
	if len(field) > 0 {
		word = field[0]
	}
	switch strings.ToLower(word) {
	case "new":
		return types.TaskNew
	case "pending":
		return types.TaskPending
	case "assigned":
		return types.TaskAssigned
	case "accepted":
		return types.TaskAccepted
	case "ready":
		return types.TaskReady
	case "preparing":
		return types.TaskPreparing
	case "starting":
		return types.TaskStarting
	case "running":
		return types.TaskRunning
	case "complete":
		return types.TaskComplete
	case "failed":
		return types.TaskFailed
	case "shutdown":
		return types.TaskShutdown
	case "rejected":
		return types.TaskRejected
	case "orphaned":
		return types.TaskOrphaned
	case "remove":
		return types.TaskRemove
	default:
		return types.TaskPending
	}
}

// ServiceRunning reports whether at least one task of serviceName is Running.
func (r *SwarmRuntime) ServiceRunning(ctx context.Context, serviceName string) (bool, error) {
	tasks, err := r.ListTasks(ctx, serviceName)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.ActualState == types.TaskRunning {
			return true, nil
		}
	}
	return false, nil
}

// ContainerIP returns containerID's IP address on networkName, read via
// `docker inspect` on the container.
func (r *SwarmRuntime) ContainerIP(ctx context.Context, containerID, networkName string) (string, error) {
	tmpl := fmt.Sprintf("{{(index .NetworkSettings.Networks \"%s\").IPAddress}}", networkName)
	out, err := r.runCmd(ctx, "docker", "inspect", "-f", tmpl, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	ip := strings.TrimSpace(string(out))
	if ip == "" {
		return "", fmt.Errorf("container %s has no address on network %s", containerID, networkName)
	}
	return ip, nil
}

// CreateNetwork creates the overlay network owned by an Environment (spec.md
// §4.2.3 step 12's "env network", created on first service deploy).
func (r *SwarmRuntime) CreateNetwork(ctx context.Context, name string) error {
	out, err := r.runCmd(ctx, "docker", "network", "create", "--driver", "overlay", "--attachable", name)
	if err != nil && !strings.Contains(string(out), "already exists") {
		return fmt.Errorf("failed to create network %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemoveNetwork removes an environment's overlay network on archival
// (spec.md §4.9).
func (r *SwarmRuntime) RemoveNetwork(ctx context.Context, name string) error {
	out, err := r.runCmd(ctx, "docker", "network", "rm", name)
	if err != nil && !strings.Contains(string(out), "not found") {
		return fmt.Errorf("failed to remove network %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CreateConfig materialises a Config as a swarm config object, content-keyed
// by name so repeat deploys with identical contents reuse the same object.
func (r *SwarmRuntime) CreateConfig(ctx context.Context, name, contents string) error {
	cmd := exec.CommandContext(ctx, "docker", "config", "create", name, "-")
	cmd.Stdin = strings.NewReader(contents)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil && !strings.Contains(out.String(), "already exists") {
		return fmt.Errorf("failed to create config %s: %w (%s)", name, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// RemoveConfig removes a swarm config object (compensation/teardown path).
func (r *SwarmRuntime) RemoveConfig(ctx context.Context, name string) error {
	out, err := r.runCmd(ctx, "docker", "config", "rm", name)
	if err != nil && !strings.Contains(string(out), "not found") {
		return fmt.Errorf("failed to remove config %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CreateVolume creates a named Docker volume backing a Volume resource.
func (r *SwarmRuntime) CreateVolume(ctx context.Context, name string) error {
	out, err := r.runCmd(ctx, "docker", "volume", "create", name)
	if err != nil {
		return fmt.Errorf("failed to create volume %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemoveVolume removes a named Docker volume (compensation/teardown path).
func (r *SwarmRuntime) RemoveVolume(ctx context.Context, name string) error {
	out, err := r.runCmd(ctx, "docker", "volume", "rm", name)
	if err != nil && !strings.Contains(string(out), "not found") {
		return fmt.Errorf("failed to remove volume %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
