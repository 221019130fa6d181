/*
Package archiver implements the Archiver (C10): reverse-dependency-order
tear-down of a service, environment, or project (spec.md §4.9).

A service's external footprint is unwound before its row is moved into the
archive bucket: proxy routes first (so no traffic reaches a service mid
tear-down), then the healthcheck schedule, then the swarm service itself,
then the volumes and configs it owns. Environment and project archival are
thin cascades over service archival, finishing by removing the resources
they themselves own (buildkit builder, overlay network).
*/
package archiver

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/orchestrator"
	"github.com/cuemby/warren/pkg/types"
)

// Store is the subset of pkg/manager.Manager the archiver needs.
type Store interface {
	GetProject(id string) (*types.Project, error)
	DeleteProject(id string) error
	GetEnvironment(id string) (*types.Environment, error)
	DeleteEnvironment(id string) error
	ListEnvironmentsByProject(projectID string) ([]*types.Environment, error)
	GetService(id string) (*types.Service, error)
	ListServicesByEnvironment(environmentID string) ([]*types.Service, error)
	ArchiveService(s *types.Service) error
	GetCurrentProductionDeployment(serviceID string) (*types.Deployment, error)
	GetNetworkByEnvironment(environmentID string) (*types.Network, error)
	DeleteNetwork(id string) error
}

// RouteUnexposer is the subset of pkg/proxy.Client the archiver needs.
type RouteUnexposer interface {
	RemovePublicRoutes(ctx context.Context, serviceID string, urls []*types.URLRoute) error
}

// ScheduleRemover is the subset of pkg/health.Monitor the archiver needs.
type ScheduleRemover interface {
	Remove(deploymentID string)
}

// ServiceRemover is the subset of pkg/runtime.SwarmRuntime the archiver
// needs to tear down a service's swarm-level footprint.
type ServiceRemover interface {
	ScaleService(ctx context.Context, name string, replicas int) error
	RemoveService(ctx context.Context, name string) error
	RemoveVolume(ctx context.Context, name string) error
	RemoveConfig(ctx context.Context, name string) error
	RemoveNetwork(ctx context.Context, name string) error
}

// BuilderRemover is the subset of pkg/embedded.BuilderEnsurer the archiver
// needs to delete an environment's buildkit builder.
type BuilderRemover interface {
	Remove(ctx context.Context, environmentID string) error
}

// Archiver performs the tear-down sequences of spec.md §4.9.
type Archiver struct {
	store   Store
	proxy   RouteUnexposer
	monitor ScheduleRemover
	runtime ServiceRemover
	builder BuilderRemover
}

// New creates an Archiver.
func New(store Store, proxy RouteUnexposer, monitor ScheduleRemover, runtime ServiceRemover, builder BuilderRemover) *Archiver {
	return &Archiver{store: store, proxy: proxy, monitor: monitor, runtime: runtime, builder: builder}
}

// ArchiveService tears down one service: unexpose its URLs, remove the
// latest production deployment's healthcheck schedule, scale and remove
// its swarm service, delete its owned volumes and configs, then move the
// row into the archive table. A service that was never deployed (no
// current production deployment, no swarm service name) skips the
// external tear-down and just archives the record (spec.md §4.9 last
// line).
func (a *Archiver) ArchiveService(ctx context.Context, svc *types.Service) error {
	if svc.Archived {
		return nil
	}

	dep, err := a.store.GetCurrentProductionDeployment(svc.ID)
	if err != nil || dep == nil {
		svc.Archived = true
		return a.store.ArchiveService(svc)
	}

	if err := a.proxy.RemovePublicRoutes(ctx, svc.ID, svc.URLs); err != nil {
		return fmt.Errorf("unexpose service urls: %w", err)
	}

	a.monitor.Remove(dep.ID)
	if dep.SwarmServiceName != "" {
		_ = a.runtime.ScaleService(ctx, dep.SwarmServiceName, 0)
		if err := a.runtime.RemoveService(ctx, dep.SwarmServiceName); err != nil {
			log.Logger.Warn().Err(err).Str("service_id", svc.ID).Msg("remove swarm service during archival")
		}
	}

	for _, v := range svc.Volumes {
		if err := a.runtime.RemoveVolume(ctx, orchestrator.VolumeName(svc.ID, v.Name)); err != nil {
			log.Logger.Warn().Err(err).Str("volume", v.Name).Msg("remove volume during archival")
		}
	}
	for _, c := range svc.Configs {
		if err := a.runtime.RemoveConfig(ctx, orchestrator.ConfigName(svc.ID, c.Name)); err != nil {
			log.Logger.Warn().Err(err).Str("config", c.Name).Msg("remove config during archival")
		}
	}

	svc.Archived = true
	return a.store.ArchiveService(svc)
}

// ArchiveEnvironment archives every service in environmentID, then deletes
// the environment's buildkit builder and overlay network, then the
// environment row itself.
func (a *Archiver) ArchiveEnvironment(ctx context.Context, environmentID string) error {
	services, err := a.store.ListServicesByEnvironment(environmentID)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, svc := range services {
		if err := a.ArchiveService(ctx, svc); err != nil {
			return fmt.Errorf("archive service %s: %w", svc.ID, err)
		}
	}

	if err := a.builder.Remove(ctx, environmentID); err != nil {
		log.Logger.Warn().Err(err).Str("environment_id", environmentID).Msg("remove builder during archival")
	}

	if network, err := a.store.GetNetworkByEnvironment(environmentID); err == nil {
		if err := a.runtime.RemoveNetwork(ctx, network.Name); err != nil {
			log.Logger.Warn().Err(err).Str("network", network.Name).Msg("remove network during archival")
		}
		if err := a.store.DeleteNetwork(network.ID); err != nil {
			return fmt.Errorf("delete network record: %w", err)
		}
	}

	return a.store.DeleteEnvironment(environmentID)
}

// ArchiveProject archives every environment in projectID, then deletes the
// project row.
func (a *Archiver) ArchiveProject(ctx context.Context, projectID string) error {
	environments, err := a.store.ListEnvironmentsByProject(projectID)
	if err != nil {
		return fmt.Errorf("list environments: %w", err)
	}
	for _, env := range environments {
		if err := a.ArchiveEnvironment(ctx, env.ID); err != nil {
			return fmt.Errorf("archive environment %s: %w", env.ID, err)
		}
	}
	return a.store.DeleteProject(projectID)
}
