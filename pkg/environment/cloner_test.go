package environment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	environments map[string]*types.Environment
	byProject    map[string][]*types.Environment
	servicesByEnv map[string][]*types.Service

	createdEnvironments []*types.Environment
	createdServices     []*types.Service
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		environments:  map[string]*types.Environment{},
		byProject:     map[string][]*types.Environment{},
		servicesByEnv: map[string][]*types.Service{},
	}
}

func (f *fakeStore) GetEnvironment(id string) (*types.Environment, error) {
	return f.environments[id], nil
}
func (f *fakeStore) CreateEnvironment(e *types.Environment) error {
	f.environments[e.ID] = e
	f.byProject[e.ProjectID] = append(f.byProject[e.ProjectID], e)
	f.createdEnvironments = append(f.createdEnvironments, e)
	return nil
}
func (f *fakeStore) ListEnvironmentsByProject(projectID string) ([]*types.Environment, error) {
	return f.byProject[projectID], nil
}
func (f *fakeStore) ListServicesByEnvironment(environmentID string) ([]*types.Service, error) {
	return f.servicesByEnv[environmentID], nil
}
func (f *fakeStore) CreateService(s *types.Service) error {
	f.servicesByEnv[s.EnvironmentID] = append(f.servicesByEnv[s.EnvironmentID], s)
	f.createdServices = append(f.createdServices, s)
	return nil
}

type fakeLedger struct {
	requested []*types.Change
	applyErr  error
}

func (f *fakeLedger) RequestChange(service *types.Service, change *types.Change) error {
	f.requested = append(f.requested, change)
	return nil
}
func (f *fakeLedger) Apply(service *types.Service) (*types.Snapshot, *types.Deployment, error) {
	if f.applyErr != nil {
		return nil, nil, f.applyErr
	}
	return &types.Snapshot{}, &types.Deployment{ID: "dep-clone-1", ServiceID: service.ID}, nil
}

type fakeDeployer struct {
	ran  chan string
}

func newFakeDeployer() *fakeDeployer {
	return &fakeDeployer{ran: make(chan string, 1)}
}

func (f *fakeDeployer) Run(ctx context.Context, deploymentID string) {
	f.ran <- deploymentID
}

func seedSourceEnvironment(store *fakeStore) *types.Service {
	source := &types.Environment{
		ID:        "env-source",
		ProjectID: "proj-1",
		Name:      "production",
		Variables: map[string]string{"REGION": "us-east"},
	}
	store.environments[source.ID] = source
	store.byProject[source.ProjectID] = []*types.Environment{source}

	svc := &types.Service{
		ID:            "svc-source",
		EnvironmentID: source.ID,
		ProjectID:     source.ProjectID,
		Slug:          "web",
		NetworkAlias:  "web",
		SourceType:    types.ServiceSourceDockerImage,
		Image:         "nginx:latest",
		Command:       "nginx -g daemon off;",
		EnvVars:       map[string]string{"PORT": "8080"},
		Volumes:       []*types.Volume{{ID: "vol-1", Name: "data"}},
		Configs:       []*types.Config{{ID: "cfg-1", Name: "app-config"}},
		URLs: []*types.URLRoute{
			{ID: "url-1", Domain: "web.production.example.com", BasePath: "/"},
			{ID: "url-2", Domain: "web.production.example.com", RedirectTo: "https://canonical.example.com"},
		},
	}
	store.servicesByEnv[source.ID] = []*types.Service{svc}
	return svc
}

func TestClone_CopiesVariablesAndQueuesChanges(t *testing.T) {
	store := newFakeStore()
	seedSourceEnvironment(store)
	ledger := &fakeLedger{}
	deployer := newFakeDeployer()
	c := New(store, ledger, deployer, "apps.example.com")

	target, err := c.Clone(context.Background(), "env-source", "staging", false)
	require.NoError(t, err)

	assert.Equal(t, "staging", target.Name)
	assert.Equal(t, "proj-1", target.ProjectID)
	assert.Equal(t, map[string]string{"REGION": "us-east"}, target.Variables)

	require.Len(t, store.createdServices, 1)
	clone := store.createdServices[0]
	assert.Equal(t, "web", clone.Slug)
	assert.Equal(t, "web", clone.NetworkAlias)
	assert.Equal(t, target.ID, clone.EnvironmentID)
	assert.NotEqual(t, "svc-source", clone.ID)

	select {
	case id := <-deployer.ran:
		t.Fatalf("deployServices=false must not start a deployment, got %q", id)
	default:
	}

	var sawRedirectSkip = true
	var urlCount int
	for _, change := range ledger.requested {
		if change.Field == types.FieldURL {
			urlCount++
			var u types.URLRoute
			require.NoError(t, json.Unmarshal([]byte(change.NewValue), &u))
			if u.Domain == "web.production.example.com" && u.RedirectTo != "" {
				sawRedirectSkip = false
			}
		}
	}
	assert.Equal(t, 1, urlCount, "redirect URL must be skipped, only the plain route is queued")
	assert.True(t, sawRedirectSkip)
}

func TestClone_ListValuedFieldsUseChangeAdd(t *testing.T) {
	store := newFakeStore()
	seedSourceEnvironment(store)
	ledger := &fakeLedger{}
	c := New(store, ledger, newFakeDeployer(), "apps.example.com")

	_, err := c.Clone(context.Background(), "env-source", "staging", false)
	require.NoError(t, err)

	for _, change := range ledger.requested {
		switch change.Field {
		case types.FieldEnvVar, types.FieldVolume, types.FieldConfig, types.FieldURL:
			assert.Equalf(t, types.ChangeAdd, change.Type, "%s must be ChangeAdd against a fresh clone", change.Field)
		case types.FieldSource, types.FieldCommand:
			assert.Equalf(t, types.ChangeUpdate, change.Type, "%s is scalar and stays ChangeUpdate", change.Field)
		}
	}
}

func TestClone_RejectsNameCollision(t *testing.T) {
	store := newFakeStore()
	seedSourceEnvironment(store)
	store.byProject["proj-1"] = append(store.byProject["proj-1"], &types.Environment{
		ID: "env-existing", ProjectID: "proj-1", Name: "staging",
	})

	c := New(store, &fakeLedger{}, newFakeDeployer(), "apps.example.com")
	_, err := c.Clone(context.Background(), "env-source", "staging", false)
	assert.Error(t, err)
}

func TestClone_DeployServicesAppliesAndRuns(t *testing.T) {
	store := newFakeStore()
	seedSourceEnvironment(store)
	ledger := &fakeLedger{}
	deployer := newFakeDeployer()
	c := New(store, ledger, deployer, "apps.example.com")

	_, err := c.Clone(context.Background(), "env-source", "staging", true)
	require.NoError(t, err)

	// Run is dispatched in a recover-guarded goroutine; wait for it rather
	// than sleeping a fixed duration.
	select {
	case id := <-deployer.ran:
		assert.Equal(t, "dep-clone-1", id)
	case <-time.After(time.Second):
		t.Fatal("orchestrator Run was never dispatched")
	}
}

func TestPreviewDomain_UniquePerTargetEnvironment(t *testing.T) {
	a := previewDomain("web", "env-aaaaaaaa-1111", "apps.example.com")
	b := previewDomain("web", "env-bbbbbbbb-2222", "apps.example.com")
	assert.NotEqual(t, a, b)
}
