package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/warren/pkg/types"
)

// TaskLister is the subset of pkg/runtime.SwarmRuntime the deployment
// poller needs; declared as an interface here so tests can substitute a
// fake without importing pkg/runtime.
type TaskLister interface {
	ListTasks(ctx context.Context, serviceName string) ([]*types.Task, error)
}

// mapTaskState maps a task's daemon state to a deployment status
// (spec.md §4.2.4).
func mapTaskState(s types.TaskState) types.DeploymentStatus {
	switch s {
	case types.TaskNew, types.TaskPending, types.TaskAssigned, types.TaskAccepted,
		types.TaskReady, types.TaskPreparing, types.TaskStarting:
		return types.StatusStarting
	case types.TaskRunning:
		return types.StatusHealthy
	default: // complete, failed, shutdown, rejected, orphaned, remove
		return types.StatusUnhealthy
	}
}

// CheckDeployment runs one healthcheck poll against a deployment's swarm
// service (spec.md §4.2.4): picks the highest-version-index task filtered
// by the deployment hash, maps its daemon state, and — if running and a
// custom healthcheck is configured — runs it too.
func CheckDeployment(ctx context.Context, tasks TaskLister, dep *types.Deployment, hc *types.Healthcheck, timeout time.Duration) (types.DeploymentStatus, string) {
	all, err := tasks.ListTasks(ctx, dep.SwarmServiceName)
	if err != nil {
		return types.StatusUnhealthy, fmt.Sprintf("failed to list tasks: %v", err)
	}

	var matching []*types.Task
	for _, t := range all {
		if t.DeploymentHash == dep.Hash || dep.Hash == "" {
			matching = append(matching, t)
		}
	}
	if len(matching) == 0 {
		return types.StatusUnhealthy, "service is down"
	}

	running := 0
	var best *types.Task
	for _, t := range matching {
		if t.ActualState == types.TaskRunning {
			running++
		}
		if best == nil || t.VersionIndex > best.VersionIndex {
			best = t
		}
	}

	status := mapTaskState(best.ActualState)
	if status == types.StatusStarting && running > 1 {
		status = types.StatusRestarting
	}

	if status != types.StatusHealthy || hc == nil {
		return status, fmt.Sprintf("task %s state %s", best.ID, best.ActualState)
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var checker Checker
	switch hc.Type {
	case types.HealthcheckCommand:
		checker = NewExecChecker([]string{"sh", "-c", hc.Value}).WithContainer(best.ContainerID).WithTimeout(timeout)
	case types.HealthcheckHTTPPath:
		url := fmt.Sprintf("http://%s:%d%s", dep.NetworkAlias, hc.AssociatedPort, hc.Value)
		checker = NewHTTPChecker(url).WithTimeout(timeout)
	default:
		return types.StatusHealthy, fmt.Sprintf("task %s running", best.ID)
	}

	result := checker.Check(checkCtx)
	if result.Healthy {
		return types.StatusHealthy, result.Message
	}
	return types.StatusUnhealthy, result.Message
}

// PollUntilHealthy bounds-retries CheckDeployment until it reports
// healthy or unhealthy, or the overall timeout elapses — the orchestrator
// wraps a single healthcheck poll in exactly this retry (spec.md §4.2.4's
// last line).
func PollUntilHealthy(ctx context.Context, tasks TaskLister, dep *types.Deployment, hc *types.Healthcheck, timeout time.Duration) (types.DeploymentStatus, string) {
	deadline := time.Now().Add(timeout)
	var status types.DeploymentStatus
	var reason string

	for {
		status, reason = CheckDeployment(ctx, tasks, dep, hc, timeout)
		if status == types.StatusHealthy || status == types.StatusUnhealthy {
			return status, reason
		}
		if time.Now().After(deadline) {
			return types.StatusUnhealthy, fmt.Sprintf("healthcheck timed out: %s", reason)
		}
		select {
		case <-ctx.Done():
			return types.StatusUnhealthy, "cancelled"
		case <-time.After(time.Second):
		}
	}
}
