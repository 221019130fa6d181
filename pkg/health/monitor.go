package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
)

// DeploymentStore is the subset of pkg/manager.Manager the monitor needs.
type DeploymentStore interface {
	GetDeployment(id string) (*types.Deployment, error)
	GetCurrentProductionDeployment(serviceID string) (*types.Deployment, error)
	UpdateDeployment(d *types.Deployment) error
}

// Monitor installs one recurring healthcheck schedule per healthy
// deployment (spec.md §4.5, "the monitor schedule" of §4.2.3 step 17).
type Monitor struct {
	store DeploymentStore
	tasks TaskLister

	mu        sync.Mutex
	schedules map[string]context.CancelFunc
}

// NewMonitor creates a Monitor.
func NewMonitor(store DeploymentStore, tasks TaskLister) *Monitor {
	return &Monitor{
		store:     store,
		tasks:     tasks,
		schedules: make(map[string]context.CancelFunc),
	}
}

// Install starts (or restarts) the recurring tick for deploymentID at the
// given interval, running hc against it.
func (m *Monitor) Install(deploymentID string, hc *types.Healthcheck, interval, timeout time.Duration) {
	m.Remove(deploymentID)

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.schedules[deploymentID] = cancel
	m.mu.Unlock()

	go m.run(ctx, deploymentID, hc, interval, timeout)
}

// Remove cancels deploymentID's schedule, if any (compensation and
// cleanup both call this, per spec.md §4.2.3 step 16 and §4.9).
func (m *Monitor) Remove(deploymentID string) {
	m.mu.Lock()
	cancel, ok := m.schedules[deploymentID]
	if ok {
		delete(m.schedules, deploymentID)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Monitor) run(ctx context.Context, deploymentID string, hc *types.Healthcheck, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := monitorLogger(deploymentID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, deploymentID, hc, timeout, logger)
		}
	}
}

// tick implements spec.md §4.5's per-tick contract: skip sleeping/removed
// deployments, run the healthcheck once, and persist only if the
// deployment is still current production and not terminal.
func (m *Monitor) tick(ctx context.Context, deploymentID string, hc *types.Healthcheck, timeout time.Duration, logger deploymentLogger) {
	dep, err := m.store.GetDeployment(deploymentID)
	if err != nil {
		logger.error(err, "failed to load deployment")
		m.Remove(deploymentID)
		return
	}
	if dep.Status == types.StatusSleeping || dep.Status == types.StatusRemoved {
		return
	}

	status, reason := CheckDeployment(ctx, m.tasks, dep, hc, timeout)

	current, err := m.store.GetCurrentProductionDeployment(dep.ServiceID)
	if err != nil || current == nil || current.ID != dep.ID {
		return
	}
	if dep.Status.Terminal() {
		return
	}

	dep.Status = status
	dep.StatusReason = reason
	if err := m.store.UpdateDeployment(dep); err != nil {
		logger.error(err, "failed to persist healthcheck result")
	}
}

// deploymentLogger and monitorLogger exist so this file doesn't need to
// import zerolog directly for one call site.
type deploymentLogger struct{ deploymentID string }

func monitorLogger(deploymentID string) deploymentLogger { return deploymentLogger{deploymentID} }

func (l deploymentLogger) error(err error, msg string) {
	log.WithComponent("health.monitor").Error().Err(err).Str("deployment_id", l.deploymentID).Msg(msg)
}
