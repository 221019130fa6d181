package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager boots a single-voter Manager against a temp data dir.
// Note: exercises Raft/BoltDB, so it's slow under the race detector on
// Go 1.25+; skipped in short mode for that reason.
func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "test-manager",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	require.NoError(t, mgr.Bootstrap())
	for i := 0; i < 50; i++ {
		if mgr.IsLeader() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.True(t, mgr.IsLeader(), "manager never became leader")
	return mgr
}

func newTestService(t *testing.T, mgr *manager.Manager) *types.Service {
	t.Helper()
	project := &types.Project{ID: "proj-1", Slug: "demo"}
	require.NoError(t, mgr.CreateProject(project))

	env := &types.Environment{ID: "env-1", ProjectID: project.ID, Name: "production"}
	require.NoError(t, mgr.CreateEnvironment(env))

	svc := &types.Service{
		ID:            "svc-1",
		EnvironmentID: env.ID,
		ProjectID:     project.ID,
		Slug:          "web",
		NetworkAlias:  "web",
		SourceType:    types.ServiceSourceDockerImage,
		Image:         "nginx:latest",
	}
	require.NoError(t, mgr.CreateService(svc))
	return svc
}

func jsonOf(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestLedger_RequestChangeAndApply(t *testing.T) {
	mgr := newTestManager(t)
	svc := newTestService(t, mgr)
	l := New(mgr, "zaneapps.example")

	portChange := &types.Change{
		Field:    types.FieldPort,
		Type:     types.ChangeAdd,
		ItemID:   "port-1",
		NewValue: jsonOf(t, types.PortMapping{ID: "port-1", ForwardedPort: 8080}),
	}
	require.NoError(t, l.RequestChange(svc, portChange))

	envChange := &types.Change{
		Field:    types.FieldEnvVar,
		Type:     types.ChangeAdd,
		ItemID:   "PORT",
		NewValue: jsonOf(t, envVarPayload{Key: "PORT", Value: "8080"}),
	}
	require.NoError(t, l.RequestChange(svc, envChange))

	pending, err := mgr.ListPendingChanges(svc.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	snapshot, deployment, err := l.Apply(svc)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.NotNil(t, deployment)

	assert.Equal(t, types.SlotBlue, deployment.Slot)
	assert.Equal(t, types.StatusQueued, deployment.Status)
	assert.Len(t, snapshot.Ports, 1)
	assert.Equal(t, "8080", snapshot.EnvVars["PORT"])
	// Forwarded-only HTTP port with no explicit URL gets a default one.
	require.Len(t, snapshot.URLs, 1)
	assert.Equal(t, "web.zaneapps.example", snapshot.URLs[0].Domain)

	remaining, err := mgr.ListPendingChanges(svc.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestLedger_RequestChangeRejectsDuplicateRoute(t *testing.T) {
	mgr := newTestManager(t)
	svc := newTestService(t, mgr)
	l := New(mgr, "zaneapps.example")

	first := &types.Change{
		Field:  types.FieldURL,
		Type:   types.ChangeAdd,
		ItemID: "url-1",
		NewValue: jsonOf(t, types.URLRoute{
			ID: "url-1", Domain: "app.example.com", BasePath: "/", AssociatedPort: 8080,
		}),
	}
	require.NoError(t, l.RequestChange(svc, first))

	duplicate := &types.Change{
		Field:  types.FieldURL,
		Type:   types.ChangeAdd,
		ItemID: "url-2",
		NewValue: jsonOf(t, types.URLRoute{
			ID: "url-2", Domain: "app.example.com", BasePath: "/", AssociatedPort: 9090,
		}),
	}
	err := l.RequestChange(svc, duplicate)
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "invalid_change", lerr.Kind)
}

func TestLedger_RequestChangeRejectsUnknownItem(t *testing.T) {
	mgr := newTestManager(t)
	svc := newTestService(t, mgr)
	l := New(mgr, "zaneapps.example")

	change := &types.Change{
		Field:  types.FieldVolume,
		Type:   types.ChangeUpdate,
		ItemID: "does-not-exist",
		NewValue: jsonOf(t, types.Volume{
			ID: "does-not-exist", ContainerPath: "/data", Mode: types.AccessModeRW,
		}),
	}
	err := l.RequestChange(svc, change)
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "invalid_change", lerr.Kind)
}

func TestLedger_CancelChange(t *testing.T) {
	mgr := newTestManager(t)
	svc := newTestService(t, mgr)
	l := New(mgr, "zaneapps.example")

	change := &types.Change{
		Field:    types.FieldCommand,
		Type:     types.ChangeUpdate,
		NewValue: jsonOf(t, "./start.sh"),
	}
	require.NoError(t, l.RequestChange(svc, change))

	pending, err := mgr.ListPendingChanges(svc.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, l.CancelChange(svc, pending[0].ID))

	remaining, err := mgr.ListPendingChanges(svc.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestLedger_CancelChangeNotFound(t *testing.T) {
	mgr := newTestManager(t)
	svc := newTestService(t, mgr)
	l := New(mgr, "zaneapps.example")

	err := l.CancelChange(svc, "missing-change")
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "not_found", lerr.Kind)
}

func TestLedger_ApplySlotAlternates(t *testing.T) {
	mgr := newTestManager(t)
	svc := newTestService(t, mgr)
	l := New(mgr, "zaneapps.example")

	_, first, err := l.Apply(svc)
	require.NoError(t, err)
	assert.Equal(t, types.SlotBlue, first.Slot)

	first.IsCurrentProd = true
	first.Status = types.StatusHealthy
	require.NoError(t, mgr.CreateDeployment(first))

	change := &types.Change{
		Field:    types.FieldCommand,
		Type:     types.ChangeUpdate,
		NewValue: jsonOf(t, "./restart.sh"),
	}
	require.NoError(t, l.RequestChange(svc, change))

	_, second, err := l.Apply(svc)
	require.NoError(t, err)
	assert.Equal(t, types.SlotGreen, second.Slot)
	assert.Equal(t, first.ID, second.PreviousDeploymentID)
}
