package dns

import (
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/storage"
	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolver_ResolveAlias(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSwarmService(&types.SwarmService{
		ID:             "swarm-1",
		Name:           "srv-p-s-abc123",
		DeploymentHash: "abc123",
		Aliases:        []string{"api", "blue-api"},
		CreatedAt:      time.Now(),
	}))
	require.NoError(t, store.CreateTask(&types.Task{
		ID:             "task-1",
		DeploymentHash: "abc123",
		ActualState:    types.TaskRunning,
		ContainerIP:    "10.0.1.5",
	}))

	r := NewResolver(store, "internal", nil)

	ips, err := r.ResolveAlias("abc123")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	require.Equal(t, "10.0.1.5", ips[0].String())
}

func TestResolver_ResolveAlias_NoRunningTasks(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSwarmService(&types.SwarmService{
		ID:             "swarm-1",
		DeploymentHash: "abc123",
		Aliases:        []string{"api"},
	}))
	require.NoError(t, store.CreateTask(&types.Task{
		ID:             "task-1",
		DeploymentHash: "abc123",
		ActualState:    types.TaskStarting,
	}))

	r := NewResolver(store, "internal", nil)

	_, err := r.ResolveAlias("abc123")
	require.Error(t, err)
}
