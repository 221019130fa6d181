package archiver

import (
	"context"
	"testing"

	"github.com/cuemby/warren/pkg/orchestrator"
	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	projects      map[string]*types.Project
	environments  map[string]*types.Environment
	envByProject  map[string][]*types.Environment
	services      map[string]*types.Service
	servicesByEnv map[string][]*types.Service
	productionDep map[string]*types.Deployment
	networks      map[string]*types.Network

	archived       []*types.Service
	deletedEnvs    []string
	deletedNets    []string
	deletedProject string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:      map[string]*types.Project{},
		environments:  map[string]*types.Environment{},
		envByProject:  map[string][]*types.Environment{},
		services:      map[string]*types.Service{},
		servicesByEnv: map[string][]*types.Service{},
		productionDep: map[string]*types.Deployment{},
		networks:      map[string]*types.Network{},
	}
}

func (f *fakeStore) GetProject(id string) (*types.Project, error) { return f.projects[id], nil }
func (f *fakeStore) DeleteProject(id string) error {
	f.deletedProject = id
	return nil
}
func (f *fakeStore) GetEnvironment(id string) (*types.Environment, error) {
	return f.environments[id], nil
}
func (f *fakeStore) DeleteEnvironment(id string) error {
	f.deletedEnvs = append(f.deletedEnvs, id)
	return nil
}
func (f *fakeStore) ListEnvironmentsByProject(projectID string) ([]*types.Environment, error) {
	return f.envByProject[projectID], nil
}
func (f *fakeStore) GetService(id string) (*types.Service, error) { return f.services[id], nil }
func (f *fakeStore) ListServicesByEnvironment(environmentID string) ([]*types.Service, error) {
	return f.servicesByEnv[environmentID], nil
}
func (f *fakeStore) ArchiveService(s *types.Service) error {
	f.archived = append(f.archived, s)
	return nil
}
func (f *fakeStore) GetCurrentProductionDeployment(serviceID string) (*types.Deployment, error) {
	dep, ok := f.productionDep[serviceID]
	if !ok {
		return nil, assertNotFound{}
	}
	return dep, nil
}
func (f *fakeStore) GetNetworkByEnvironment(environmentID string) (*types.Network, error) {
	n, ok := f.networks[environmentID]
	if !ok {
		return nil, assertNotFound{}
	}
	return n, nil
}
func (f *fakeStore) DeleteNetwork(id string) error {
	f.deletedNets = append(f.deletedNets, id)
	return nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

type fakeProxy struct {
	unexposed map[string][]*types.URLRoute
}

func (f *fakeProxy) RemovePublicRoutes(ctx context.Context, serviceID string, urls []*types.URLRoute) error {
	if f.unexposed == nil {
		f.unexposed = map[string][]*types.URLRoute{}
	}
	f.unexposed[serviceID] = urls
	return nil
}

type fakeMonitor struct {
	removed []string
}

func (f *fakeMonitor) Remove(deploymentID string) {
	f.removed = append(f.removed, deploymentID)
}

type fakeRuntime struct {
	scaled        map[string]int
	removedSvc    []string
	removedVols   []string
	removedCfgs   []string
	removedNets   []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{scaled: map[string]int{}}
}

func (f *fakeRuntime) ScaleService(ctx context.Context, name string, replicas int) error {
	f.scaled[name] = replicas
	return nil
}
func (f *fakeRuntime) RemoveService(ctx context.Context, name string) error {
	f.removedSvc = append(f.removedSvc, name)
	return nil
}
func (f *fakeRuntime) RemoveVolume(ctx context.Context, name string) error {
	f.removedVols = append(f.removedVols, name)
	return nil
}
func (f *fakeRuntime) RemoveConfig(ctx context.Context, name string) error {
	f.removedCfgs = append(f.removedCfgs, name)
	return nil
}
func (f *fakeRuntime) RemoveNetwork(ctx context.Context, name string) error {
	f.removedNets = append(f.removedNets, name)
	return nil
}

type fakeBuilder struct {
	removed []string
}

func (f *fakeBuilder) Remove(ctx context.Context, environmentID string) error {
	f.removed = append(f.removed, environmentID)
	return nil
}

func TestArchiveService_TearsDownInOrder(t *testing.T) {
	store := newFakeStore()
	proxy := &fakeProxy{}
	monitor := &fakeMonitor{}
	runtime := newFakeRuntime()
	builder := &fakeBuilder{}
	a := New(store, proxy, monitor, runtime, builder)

	svc := &types.Service{
		ID:      "svc-1",
		URLs:    []*types.URLRoute{{ID: "url-1", Domain: "app.example.com"}},
		Volumes: []*types.Volume{{ID: "vol-1", Name: "data"}},
		Configs: []*types.Config{{ID: "cfg-1", Name: "app-config"}},
	}
	store.productionDep["svc-1"] = &types.Deployment{ID: "dep-1", SwarmServiceName: "srv-demo-web-abc123"}

	require.NoError(t, a.ArchiveService(context.Background(), svc))

	assert.Len(t, proxy.unexposed["svc-1"], 1)
	assert.Contains(t, monitor.removed, "dep-1")
	assert.Equal(t, 0, runtime.scaled["srv-demo-web-abc123"])
	assert.Contains(t, runtime.removedSvc, "srv-demo-web-abc123")
	assert.Contains(t, runtime.removedVols, orchestrator.VolumeName("svc-1", "data"))
	assert.Contains(t, runtime.removedCfgs, orchestrator.ConfigName("svc-1", "app-config"))
	assert.True(t, svc.Archived)
	require.Len(t, store.archived, 1)
	assert.Equal(t, svc, store.archived[0])
}

func TestArchiveService_AlreadyArchivedIsNoop(t *testing.T) {
	store := newFakeStore()
	a := New(store, &fakeProxy{}, &fakeMonitor{}, newFakeRuntime(), &fakeBuilder{})

	svc := &types.Service{ID: "svc-2", Archived: true}
	require.NoError(t, a.ArchiveService(context.Background(), svc))
	assert.Empty(t, store.archived)
}

func TestArchiveService_NeverDeployedSkipsSwarmTeardown(t *testing.T) {
	store := newFakeStore()
	runtime := newFakeRuntime()
	a := New(store, &fakeProxy{}, &fakeMonitor{}, runtime, &fakeBuilder{})

	svc := &types.Service{ID: "svc-3"}
	require.NoError(t, a.ArchiveService(context.Background(), svc))

	assert.Empty(t, runtime.removedSvc)
	require.Len(t, store.archived, 1)
}

func TestArchiveEnvironment_CascadesAndCleansUpNetwork(t *testing.T) {
	store := newFakeStore()
	runtime := newFakeRuntime()
	builder := &fakeBuilder{}
	a := New(store, &fakeProxy{}, &fakeMonitor{}, runtime, builder)

	svc := &types.Service{ID: "svc-4"}
	store.servicesByEnv["env-1"] = []*types.Service{svc}
	store.networks["env-1"] = &types.Network{ID: "net-1", Name: "warren-net-env-1"}

	require.NoError(t, a.ArchiveEnvironment(context.Background(), "env-1"))

	assert.True(t, svc.Archived)
	assert.Contains(t, builder.removed, "env-1")
	assert.Contains(t, runtime.removedNets, "warren-net-env-1")
	assert.Contains(t, store.deletedNets, "net-1")
	assert.Contains(t, store.deletedEnvs, "env-1")
}

func TestArchiveProject_CascadesEveryEnvironment(t *testing.T) {
	store := newFakeStore()
	a := New(store, &fakeProxy{}, &fakeMonitor{}, newFakeRuntime(), &fakeBuilder{})

	store.envByProject["proj-1"] = []*types.Environment{
		{ID: "env-1", ProjectID: "proj-1"},
		{ID: "env-2", ProjectID: "proj-1"},
	}

	require.NoError(t, a.ArchiveProject(context.Background(), "proj-1"))

	assert.ElementsMatch(t, []string{"env-1", "env-2"}, store.deletedEnvs)
	assert.Equal(t, "proj-1", store.deletedProject)
}
