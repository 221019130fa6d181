/*
Package orchestrator implements the Deployment Orchestrator (C6): the
state machine that drives one deployment through its happy path
(spec.md §4.2.3), gates it on a healthcheck (§4.2.4), and reverses itself
step by step on cancellation (§4.2.5). It writes a deployment's status
while running it; afterwards pkg/health's Monitor updates the status of
the current production deployment, and pkg/reconciler fails deployments
left in flight too long.

Each exported entry point (Run, Cancel) operates on exactly one
(service, deployment) pair; cross-deployment serialisation for the same
service is enforced by pkg/semaphore, acquired in step 1 and released
unconditionally in the cleanup step.
*/
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/warren/pkg/build"
	"github.com/cuemby/warren/pkg/embedded"
	"github.com/cuemby/warren/pkg/health"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/logsink"
	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/proxy"
	"github.com/cuemby/warren/pkg/runtime"
	"github.com/cuemby/warren/pkg/security"
	"github.com/cuemby/warren/pkg/semaphore"
	"github.com/cuemby/warren/pkg/types"
	"github.com/google/uuid"
)

// errCancelled is returned internally by step functions when a deployment's
// CancelRequested flag flips mid-run; Run translates it into
// handleCancellation rather than propagating it to the caller as a
// failure.
var errCancelled = fmt.Errorf("cancelled")

// Orchestrator holds the dependencies every deployment step needs.
type Orchestrator struct {
	mgr        *manager.Manager
	sem        *semaphore.Registry
	runtime    *runtime.SwarmRuntime
	build      *build.Pipeline
	proxy      *proxy.Client
	builder    *embedded.BuilderEnsurer
	monitor    *health.Monitor
	secrets    *security.SecretsManager
	logs       *logsink.Forwarder
	rootDomain string
}

// New creates an Orchestrator.
func New(mgr *manager.Manager, sem *semaphore.Registry, rt *runtime.SwarmRuntime, bp *build.Pipeline, px *proxy.Client, be *embedded.BuilderEnsurer, mon *health.Monitor, secrets *security.SecretsManager, logs *logsink.Forwarder, rootDomain string) *Orchestrator {
	return &Orchestrator{
		mgr:        mgr,
		sem:        sem,
		runtime:    rt,
		build:      bp,
		proxy:      px,
		builder:    be,
		monitor:    mon,
		secrets:    secrets,
		logs:       logs,
		rootDomain: rootDomain,
	}
}

// deployCtx carries the mutable state a single run accumulates across
// steps, separate from the persisted Deployment: local scratch state
// (e.g. the clone directory) that is never written to the store.
type deployCtx struct {
	dep       *types.Deployment
	svc       *types.Service
	snapshot  *types.Snapshot
	prev      *types.Deployment
	workDir   string
	imageTag  string
	builderID string
}

// snapshotSourceType reports the deployment's source type for metrics
// labelling, tolerating a nil snapshot if the deployment failed before
// stepResolvePrevious ran.
func (dc *deployCtx) snapshotSourceType() types.ServiceSourceType {
	if dc.snapshot == nil {
		return dc.svc.SourceType
	}
	return dc.snapshot.SourceType
}

// Run drives deploymentID through the happy path, then tail-calls into
// the next queued deployment of the same service (step 19). Callers
// should invoke this in its own goroutine; it blocks until the whole
// queue for the service has drained.
func (o *Orchestrator) Run(ctx context.Context, deploymentID string) {
	timer := metrics.NewTimer()
	logger := log.WithComponent("orchestrator")

	dep, err := o.mgr.GetDeployment(deploymentID)
	if err != nil {
		logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("deployment not found")
		return
	}

	svc, err := o.mgr.GetService(dep.ServiceID)
	if err != nil {
		logger.Error().Err(err).Str("service_id", dep.ServiceID).Msg("service not found")
		o.fail(dep, fmt.Sprintf("fatal: service not found: %v", err))
		return
	}

	key := semaphore.DeployServiceKey(svc.ID)
	if err := o.sem.Acquire(ctx, key, dep.ID); err != nil {
		logger.Error().Err(err).Str("deployment_id", dep.ID).Msg("failed to acquire deploy semaphore")
		return
	}

	dc := &deployCtx{dep: dep, svc: svc}
	o.runOne(ctx, dc)

	timer.ObserveDurationVec(metrics.DeploymentDuration, string(dc.snapshotSourceType()))
	metrics.DeploymentsTotal.WithLabelValues(string(dc.snapshotSourceType()), string(dc.dep.Status)).Inc()

	next, err := o.nextQueued(svc.ID)
	if err != nil {
		logger.Error().Err(err).Str("service_id", svc.ID).Msg("failed to look up next queued deployment")
		return
	}
	if next != nil {
		o.Run(ctx, next.ID)
	}
}

func (o *Orchestrator) nextQueued(serviceID string) (*types.Deployment, error) {
	queued, err := o.mgr.ListQueuedDeployments(serviceID)
	if err != nil {
		return nil, err
	}
	var earliest *types.Deployment
	for _, d := range queued {
		if earliest == nil || d.QueuedAt.Before(earliest.QueuedAt) {
			earliest = d
		}
	}
	return earliest, nil
}

// runOne executes steps 1-19 for a single deployment already holding the
// semaphore, releasing it unconditionally before returning.
func (o *Orchestrator) runOne(ctx context.Context, dc *deployCtx) {
	logger := log.WithDeployment(dc.svc.ID, dc.dep.ID)
	defer o.sem.Release(semaphore.DeployServiceKey(dc.svc.ID), dc.dep.ID)
	defer o.cleanupWorkDir(dc)

	steps := []func(context.Context, *deployCtx) error{
		o.stepMarkPreparing,
		o.stepResolvePrevious,
		o.stepClone,
		o.stepSynthesizePlan,
		o.stepEnsureBuilder,
		o.stepBuildImage,
		o.stepCreateVolumes,
		o.stepCreateConfigs,
		o.stepScaleDownPrevious,
		o.stepPullImage,
		o.stepCreateSwarmService,
		o.stepExposeDeployment,
	}

	for _, step := range steps {
		if o.isCancelled(dc.dep.ID) {
			o.handleCancellation(ctx, dc)
			return
		}
		if err := step(ctx, dc); err != nil {
			if err == errCancelled {
				o.handleCancellation(ctx, dc)
				return
			}
			logger.Error().Err(err).Str("step", dc.dep.Step.String()).Msg("deployment step failed")
			o.fail(dc.dep, err.Error())
			return
		}
	}

	healthy, reason := o.stepHealthcheck(ctx, dc)
	if healthy {
		o.stepExposeService(ctx, dc)
		o.stepCleanupPrevious(ctx, dc)
		o.stepInstallMonitor(dc)

		dc.dep.IsCurrentProd = true
		dc.dep.Status = types.StatusHealthy
		dc.dep.StatusReason = reason
		dc.dep.FinishedAt = time.Now()
		o.persist(dc.dep)
		return
	}

	o.stepRollbackUnhealthy(ctx, dc, reason)
}

func (o *Orchestrator) isCancelled(deploymentID string) bool {
	dep, err := o.mgr.GetDeployment(deploymentID)
	if err != nil {
		return false
	}
	return dep.CancelRequested
}

func (o *Orchestrator) persist(dep *types.Deployment) {
	if err := o.mgr.UpdateDeployment(dep); err != nil {
		log.WithDeployment(dep.ServiceID, dep.ID).Error().Err(err).Msg("failed to persist deployment")
	}
}

func (o *Orchestrator) fail(dep *types.Deployment, reason string) {
	dep.Status = types.StatusFailed
	dep.StatusReason = reason
	dep.FinishedAt = time.Now()
	o.persist(dep)
}

func (o *Orchestrator) advance(dc *deployCtx, step types.DeploymentStep) {
	dc.dep.Step = step
	o.persist(dc.dep)
}

func (o *Orchestrator) cleanupWorkDir(dc *deployCtx) {
	if dc.workDir != "" {
		_ = o.build.Cleanup(dc.workDir)
	}
}

// --- Steps 1-3 ---

func (o *Orchestrator) stepMarkPreparing(ctx context.Context, dc *deployCtx) error {
	dc.dep.Status = types.StatusPreparing
	dc.dep.StartedAt = time.Now()
	dc.dep.Step = types.StepInitialized
	o.persist(dc.dep)
	return nil
}

func (o *Orchestrator) stepResolvePrevious(ctx context.Context, dc *deployCtx) error {
	prev, err := o.mgr.GetCurrentProductionDeployment(dc.svc.ID)
	if err == nil {
		dc.prev = prev
	}
	dc.snapshot = dc.dep.Snapshot
	return nil
}

// --- Steps 4-7 (Git only) ---

func (o *Orchestrator) stepClone(ctx context.Context, dc *deployCtx) error {
	if dc.snapshot.SourceType != types.ServiceSourceGit {
		return nil
	}
	dc.dep.Status = types.StatusBuilding
	dc.dep.Step = types.StepCloningRepository
	o.persist(dc.dep)

	result, err := o.build.Clone(ctx, dc.snapshot.RepositoryURL, dc.snapshot.Branch, dc.snapshot.CommitSHA)
	if err != nil {
		return err
	}
	dc.workDir = result.Dir
	dc.dep.CommitSHA = result.CommitSHA
	dc.dep.CommitMessage = result.CommitMessage
	dc.dep.CommitAuthor = result.CommitAuthor
	dc.dep.BuildStartedAt = time.Now()
	o.advance(dc, types.StepRepositoryCloned)
	return nil
}

func (o *Orchestrator) stepSynthesizePlan(ctx context.Context, dc *deployCtx) error {
	if dc.snapshot.SourceType != types.ServiceSourceGit {
		return nil
	}
	_, err := o.build.SynthesizePlan(dc.snapshot, dc.workDir, dc.snapshot.EnvVars)
	return err
}

// ensureNetwork resolves the overlay network owned by an environment,
// creating it on first need (spec.md §5: "one per environment, created on
// first need"). Nothing provisions this ahead of time, so the first
// deployment into a fresh environment is what brings the network into
// existence.
func (o *Orchestrator) ensureNetwork(ctx context.Context, environmentID string) (*types.Network, error) {
	if network, err := o.mgr.GetNetworkByEnvironment(environmentID); err == nil {
		return network, nil
	}
	name := fmt.Sprintf("warren-net-%s", environmentID)
	if err := o.runtime.CreateNetwork(ctx, name); err != nil {
		return nil, fmt.Errorf("fatal: create environment network: %w", err)
	}
	network := &types.Network{ID: uuid.New().String(), EnvironmentID: environmentID, Name: name, CreatedAt: time.Now()}
	if err := o.mgr.CreateNetwork(network); err != nil {
		return nil, fmt.Errorf("fatal: persist environment network: %w", err)
	}
	return network, nil
}

func (o *Orchestrator) stepEnsureBuilder(ctx context.Context, dc *deployCtx) error {
	if dc.snapshot.SourceType != types.ServiceSourceGit {
		return nil
	}
	network, err := o.ensureNetwork(ctx, dc.svc.EnvironmentID)
	if err != nil {
		return err
	}
	id, err := o.builder.Ensure(ctx, dc.svc.EnvironmentID, network.Name)
	if err != nil {
		return err
	}
	dc.builderID = id
	return nil
}

func (o *Orchestrator) stepBuildImage(ctx context.Context, dc *deployCtx) error {
	if dc.snapshot.SourceType != types.ServiceSourceGit {
		return nil
	}
	dc.dep.Step = types.StepBuildingImage
	o.persist(dc.dep)

	plan, err := o.build.SynthesizePlan(dc.snapshot, dc.workDir, dc.snapshot.EnvVars)
	if err != nil {
		return err
	}

	imageTag := fmt.Sprintf("warren-%s:%s", dc.svc.Slug, dc.dep.Hash)
	var logWriter io.Writer
	if o.logs != nil {
		logWriter = o.logs.Writer(map[string]string{"service_id": dc.svc.ID, "deployment_id": dc.dep.ID, "source": "build"})
	}
	imageID, err := o.build.BuildImage(ctx, dc.builderID, dc.snapshot.Builder, plan, imageTag, dc.snapshot.EnvVars, dc.snapshot.BuilderOpts.NoCache, dc.snapshot.BuilderOpts.StageTarget, logWriter)
	if err != nil {
		return err
	}
	_ = imageID
	dc.imageTag = imageTag
	dc.dep.ImageTag = imageTag
	dc.dep.BuildFinishedAt = time.Now()
	o.advance(dc, types.StepImageBuilt)
	return nil
}

// --- Steps 8-9 ---

func (o *Orchestrator) stepCreateVolumes(ctx context.Context, dc *deployCtx) error {
	for _, v := range dc.snapshot.Volumes {
		if v.HostPath != "" {
			continue // host-owned, nothing to create
		}
		name := volumeName(dc.svc.ID, v.Name)
		if err := o.runtime.CreateVolume(ctx, name); err != nil {
			return err
		}
		dc.dep.CreatedVolumeIDs = append(dc.dep.CreatedVolumeIDs, v.ID)
	}
	o.advance(dc, types.StepVolumesCreated)
	return nil
}

func (o *Orchestrator) stepCreateConfigs(ctx context.Context, dc *deployCtx) error {
	for _, c := range dc.snapshot.Configs {
		name := configName(dc.svc.ID, c.Name)
		if err := o.runtime.CreateConfig(ctx, name, c.Contents); err != nil {
			return err
		}
		dc.dep.CreatedConfigIDs = append(dc.dep.CreatedConfigIDs, c.ID)
	}
	o.advance(dc, types.StepConfigsCreated)
	return nil
}

// --- Step 10 ---

func (o *Orchestrator) stepScaleDownPrevious(ctx context.Context, dc *deployCtx) error {
	if dc.prev == nil || dc.prev.Status == types.StatusFailed {
		o.advance(dc, types.StepPreviousDeploymentScaledDown)
		return nil
	}

	needsScaleDown := hasNonReadOnlyVolume(dc.snapshot) || hasHostPort(dc.snapshot)
	if !needsScaleDown {
		o.advance(dc, types.StepPreviousDeploymentScaledDown)
		return nil
	}

	if err := o.runtime.ScaleService(ctx, dc.prev.SwarmServiceName, 0); err != nil {
		return err
	}
	dc.dep.PreviousScaledDown = true
	o.advance(dc, types.StepPreviousDeploymentScaledDown)
	return nil
}

func hasNonReadOnlyVolume(snap *types.Snapshot) bool {
	for _, v := range snap.Volumes {
		if v.Mode != types.AccessModeRO {
			return true
		}
	}
	return false
}

func hasHostPort(snap *types.Snapshot) bool {
	for _, p := range snap.Ports {
		if !p.IsHTTPOnly() {
			return true
		}
	}
	return false
}

// --- Step 11 ---

func (o *Orchestrator) stepPullImage(ctx context.Context, dc *deployCtx) error {
	if dc.snapshot.SourceType != types.ServiceSourceDockerImage {
		return nil
	}
	if err := o.runtime.PullImage(ctx, dc.snapshot.Image); err != nil {
		return err
	}
	dc.imageTag = dc.snapshot.Image
	return nil
}

// --- Step 12 ---

func (o *Orchestrator) stepCreateSwarmService(ctx context.Context, dc *deployCtx) error {
	network, err := o.ensureNetwork(ctx, dc.svc.EnvironmentID)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("srv-%s-%s-%s", dc.svc.ProjectID, dc.svc.ID, dc.dep.Hash)
	dc.dep.SwarmServiceName = name

	env := make([]string, 0, len(dc.snapshot.EnvVars))
	for k, v := range dc.snapshot.EnvVars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	var mounts []*types.VolumeMount
	for _, v := range dc.snapshot.Volumes {
		mounts = append(mounts, &types.VolumeMount{VolumeID: volumeName(dc.svc.ID, v.Name), Target: v.ContainerPath, ReadOnly: v.Mode == types.AccessModeRO})
	}
	var configs []*types.ConfigMount
	for _, c := range dc.snapshot.Configs {
		configs = append(configs, &types.ConfigMount{ConfigID: configName(dc.svc.ID, c.Name), Target: c.MountPath})
	}

	swarmSvc := &types.SwarmService{
		ID:             uuid.New().String(),
		Name:           name,
		ServiceID:      dc.svc.ID,
		DeploymentHash: dc.dep.Hash,
		Image:          dc.imageTag,
		Command:        dc.snapshot.Command,
		Env:            env,
		Mounts:         mounts,
		Configs:        configs,
		NetworkID:      network.Name,
		Aliases:        []string{dc.snapshot.NetworkAlias, dc.dep.NetworkAlias},
		Ports:          dc.snapshot.Ports,
		Resources:      dc.snapshot.Resources,
		Replicas:       1,
		Labels: map[string]string{
			"zane-managed":    "true",
			"parent_id":       dc.svc.ID,
			"deployment_hash": dc.dep.Hash,
		},
		RestartPolicy: &types.RestartPolicy{Condition: types.RestartOnFailure, MaxAttempts: 3, Delay: 5 * time.Second},
		UpdateConfig:  &types.UpdateConfig{Parallelism: 1, Order: "start-first", FailureAction: "rollback"},
		CreatedAt:     time.Now(),
	}

	if err := o.runtime.CreateService(ctx, swarmSvc); err != nil {
		return err
	}
	if err := o.mgr.CreateSwarmService(swarmSvc); err != nil {
		return fmt.Errorf("fatal: persist swarm service record: %w", err)
	}

	o.advance(dc, types.StepSwarmServiceCreated)
	return nil
}

// --- Step 13 ---

func (o *Orchestrator) stepExposeDeployment(ctx context.Context, dc *deployCtx) error {
	if len(dc.snapshot.URLs) == 0 {
		o.advance(dc, types.StepDeploymentExposedToHTTP)
		return nil
	}
	if err := o.proxy.UpsertDeploymentRoutes(ctx, dc.dep.Hash, dc.snapshot.URLs, dc.dep.NetworkAlias, false, ""); err != nil {
		return err
	}
	o.advance(dc, types.StepDeploymentExposedToHTTP)
	return nil
}

// --- Step 14 ---

func (o *Orchestrator) stepHealthcheck(ctx context.Context, dc *deployCtx) (bool, string) {
	dc.dep.Status = types.StatusStarting
	o.persist(dc.dep)

	timeout := 30 * time.Second
	if dc.snapshot.Healthcheck != nil && dc.snapshot.Healthcheck.TimeoutSeconds > 0 {
		timeout = time.Duration(dc.snapshot.Healthcheck.TimeoutSeconds) * time.Second
	}

	hcType := "swarm_state"
	if dc.snapshot.Healthcheck != nil {
		hcType = string(dc.snapshot.Healthcheck.Type)
	}

	timer := metrics.NewTimer()
	status, reason := health.PollUntilHealthy(ctx, o.runtime, dc.dep, dc.snapshot.Healthcheck, timeout)
	timer.ObserveDurationVec(metrics.HealthcheckDuration, hcType)

	return status == types.StatusHealthy, reason
}

// --- Step 15 ---

func (o *Orchestrator) stepExposeService(ctx context.Context, dc *deployCtx) {
	if len(dc.snapshot.URLs) == 0 {
		o.advance(dc, types.StepServiceExposedToHTTP)
		return
	}
	if err := o.proxy.UpsertPublicRoutes(ctx, dc.svc.ID, dc.snapshot.URLs, dc.dep.NetworkAlias); err != nil {
		log.WithDeployment(dc.svc.ID, dc.dep.ID).Error().Err(err).Msg("failed to flip public routes")
	}
	o.advance(dc, types.StepServiceExposedToHTTP)
}

// --- Step 16 ---

func (o *Orchestrator) stepCleanupPrevious(ctx context.Context, dc *deployCtx) {
	if dc.prev == nil {
		return
	}
	o.monitor.Remove(dc.prev.ID)
	_ = o.runtime.ScaleService(ctx, dc.prev.SwarmServiceName, 0)
	_ = o.runtime.RemoveService(ctx, dc.prev.SwarmServiceName)

	if dc.prev.Snapshot != nil {
		removeUnreferencedVolumesAndConfigs(ctx, o.runtime, dc.svc.ID, dc.prev.Snapshot, dc.snapshot)
		_ = o.proxy.RemoveDeploymentRoutes(ctx, dc.prev.Hash, dc.prev.Snapshot.URLs)
	}
}

func removeUnreferencedVolumesAndConfigs(ctx context.Context, rt *runtime.SwarmRuntime, serviceID string, prev, cur *types.Snapshot) {
	keep := make(map[string]bool)
	for _, v := range cur.Volumes {
		keep[v.Name] = true
	}
	for _, v := range prev.Volumes {
		if !keep[v.Name] {
			_ = rt.RemoveVolume(ctx, volumeName(serviceID, v.Name))
		}
	}
	keepCfg := make(map[string]bool)
	for _, c := range cur.Configs {
		keepCfg[c.Name] = true
	}
	for _, c := range prev.Configs {
		if !keepCfg[c.Name] {
			_ = rt.RemoveConfig(ctx, configName(serviceID, c.Name))
		}
	}
}

// --- Step 17 ---

func (o *Orchestrator) stepInstallMonitor(dc *deployCtx) {
	interval := 30 * time.Second
	timeout := 30 * time.Second
	if dc.snapshot.Healthcheck != nil {
		if dc.snapshot.Healthcheck.IntervalSeconds > 0 {
			interval = time.Duration(dc.snapshot.Healthcheck.IntervalSeconds) * time.Second
		}
		if dc.snapshot.Healthcheck.TimeoutSeconds > 0 {
			timeout = time.Duration(dc.snapshot.Healthcheck.TimeoutSeconds) * time.Second
		}
	}
	o.monitor.Install(dc.dep.ID, dc.snapshot.Healthcheck, interval, timeout)
}

// --- Step 18 ---

func (o *Orchestrator) stepRollbackUnhealthy(ctx context.Context, dc *deployCtx, reason string) {
	_ = o.runtime.ScaleService(ctx, dc.dep.SwarmServiceName, 0)
	_ = o.runtime.RemoveService(ctx, dc.dep.SwarmServiceName)

	if dc.prev != nil && dc.dep.PreviousScaledDown {
		_ = o.runtime.ScaleService(ctx, dc.prev.SwarmServiceName, 1)
	}

	dc.dep.Status = types.StatusFailed
	dc.dep.StatusReason = reason
	dc.dep.FinishedAt = time.Now()
	o.persist(dc.dep)
}

// --- Cancellation (§4.2.5) ---

func (o *Orchestrator) handleCancellation(ctx context.Context, dc *deployCtx) {
	logger := log.WithDeployment(dc.svc.ID, dc.dep.ID)
	logger.Info().Str("last_completed_step", dc.dep.Step.String()).Msg("cancelling deployment")

	step := dc.dep.Step

	if step >= types.StepServiceExposedToHTTP && dc.prev != nil && dc.prev.Snapshot != nil {
		_ = o.proxy.UpsertPublicRoutes(ctx, dc.svc.ID, dc.prev.Snapshot.URLs, dc.prev.NetworkAlias)
	}
	if step >= types.StepDeploymentExposedToHTTP {
		_ = o.proxy.RemoveDeploymentRoutes(ctx, dc.dep.Hash, dc.snapshot.URLs)
	}
	if step >= types.StepSwarmServiceCreated && dc.dep.SwarmServiceName != "" {
		_ = o.runtime.ScaleService(ctx, dc.dep.SwarmServiceName, 0)
		_ = o.runtime.RemoveService(ctx, dc.dep.SwarmServiceName)
	}
	if step >= types.StepPreviousDeploymentScaledDown && dc.prev != nil && dc.dep.PreviousScaledDown {
		_ = o.runtime.ScaleService(ctx, dc.prev.SwarmServiceName, 1)
	}
	if step >= types.StepConfigsCreated {
		for _, c := range dc.snapshot.Configs {
			_ = o.runtime.RemoveConfig(ctx, configName(dc.svc.ID, c.Name))
		}
	}
	if step >= types.StepVolumesCreated {
		for _, v := range dc.snapshot.Volumes {
			if v.HostPath == "" {
				_ = o.runtime.RemoveVolume(ctx, volumeName(dc.svc.ID, v.Name))
			}
		}
	}

	metrics.CancelledDeploymentsTotal.Inc()

	dc.dep.Status = types.StatusCancelled
	dc.dep.StatusReason = "Deployment cancelled."
	dc.dep.FinishedAt = time.Now()
	o.persist(dc.dep)
}

// Cancel marks deploymentID for cancellation. The running step loop
// notices CancelRequested on its next check; a deployment that has
// already finished cannot be cancelled.
func (o *Orchestrator) Cancel(deploymentID string) error {
	dep, err := o.mgr.GetDeployment(deploymentID)
	if err != nil {
		return fmt.Errorf("not_found: %w", err)
	}
	if dep.Status.Terminal() {
		return fmt.Errorf("fatal(already finished)")
	}
	dep.CancelRequested = true
	dep.Status = types.StatusCancelling
	return o.mgr.UpdateDeployment(dep)
}

func volumeName(serviceID, name string) string { return VolumeName(serviceID, name) }

func configName(serviceID, name string) string { return ConfigName(serviceID, name) }

// VolumeName and ConfigName are the deterministic swarm object names for a
// service's declared volumes/configs, exported so pkg/archiver can remove
// exactly what a deployment created (spec.md §4.9) without duplicating the
// naming scheme.
func VolumeName(serviceID, name string) string { return fmt.Sprintf("warren-%s-%s", serviceID, name) }
func ConfigName(serviceID, name string) string { return fmt.Sprintf("warren-%s-%s", serviceID, name) }
