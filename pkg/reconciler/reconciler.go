package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/semaphore"
	"github.com/cuemby/warren/pkg/types"
	"github.com/rs/zerolog"
)

// stuckDeploymentAge is how long a deployment may sit InFlight with no
// progress before the reconciler considers its owning process dead and
// fails it. A crash mid-deployment otherwise leaves the per-service
// semaphore held forever, since nothing else releases it.
const stuckDeploymentAge = 5 * time.Minute

// Reconciler is the crash-recovery sweep for deployments: on a single-node
// control plane there is no other node to take over an in-flight
// deployment orphaned by a process crash, so it periodically looks for
// deployments stuck InFlight well past any plausible step duration, resets
// their semaphore, and fails them so the service becomes deployable again.
type Reconciler struct {
	manager *manager.Manager
	sem     *semaphore.Registry
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewReconciler creates a new reconciler.
func NewReconciler(mgr *manager.Manager, sem *semaphore.Registry) *Reconciler {
	return &Reconciler{
		manager: mgr,
		sem:     sem,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile performs one sweep over every service's deployments.
func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reconcileStuckDeployments()
}

// reconcileStuckDeployments walks Projects -> Environments -> Services,
// since the manager keeps no flat index of all deployments, and fails any
// deployment that has been InFlight for longer than stuckDeploymentAge.
func (r *Reconciler) reconcileStuckDeployments() error {
	projects, err := r.manager.ListProjects()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	now := time.Now()
	for _, project := range projects {
		environments, err := r.manager.ListEnvironmentsByProject(project.ID)
		if err != nil {
			r.logger.Error().Err(err).Str("project_id", project.ID).Msg("failed to list environments")
			continue
		}

		for _, env := range environments {
			services, err := r.manager.ListServicesByEnvironment(env.ID)
			if err != nil {
				r.logger.Error().Err(err).Str("environment_id", env.ID).Msg("failed to list services")
				continue
			}

			for _, svc := range services {
				r.reconcileService(svc, now)
			}
		}
	}

	return nil
}

func (r *Reconciler) reconcileService(svc *types.Service, now time.Time) {
	deployments, err := r.manager.ListDeploymentsByService(svc.ID)
	if err != nil {
		r.logger.Error().Err(err).Str("service_id", svc.ID).Msg("failed to list deployments")
		return
	}

	for _, dep := range deployments {
		if !dep.Status.InFlight() {
			continue
		}
		reference := dep.StartedAt
		if reference.IsZero() {
			reference = dep.QueuedAt
		}
		if now.Sub(reference) < stuckDeploymentAge {
			continue
		}

		r.logger.Warn().
			Str("service_id", svc.ID).
			Str("deployment_id", dep.ID).
			Str("step", dep.Step.String()).
			Dur("age", now.Sub(reference)).
			Msg("deployment stuck in flight, failing and releasing semaphore")

		dep.Status = types.StatusFailed
		dep.StatusReason = "reconciler: deployment exceeded maximum in-flight duration, owning process likely crashed"
		dep.FinishedAt = now
		if err := r.manager.UpdateDeployment(dep); err != nil {
			r.logger.Error().Err(err).Str("deployment_id", dep.ID).Msg("failed to mark stuck deployment as failed")
			continue
		}

		r.sem.Reset(semaphore.DeployServiceKey(svc.ID))
	}
}
