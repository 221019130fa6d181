package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/warren/pkg/storage"
	"github.com/cuemby/warren/pkg/types"
	"github.com/hashicorp/raft"
)

// WarrenFSM implements the Raft Finite State Machine for Warren's control
// plane state. It applies log entries (Change Ledger requests, deployment
// records, swarm substrate updates) to storage and handles snapshots.
type WarrenFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewWarrenFSM creates a new FSM instance
func NewWarrenFSM(store storage.Store) *WarrenFSM {
	return &WarrenFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *WarrenFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	// Project operations
	case "create_project":
		var v types.Project
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateProject(&v)
	case "update_project":
		var v types.Project
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateProject(&v)
	case "delete_project":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteProject(id)

	// Environment operations
	case "create_environment":
		var v types.Environment
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateEnvironment(&v)
	case "update_environment":
		var v types.Environment
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateEnvironment(&v)
	case "delete_environment":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteEnvironment(id)

	// Service operations
	case "create_service":
		var v types.Service
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateService(&v)
	case "update_service":
		var v types.Service
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateService(&v)
	case "delete_service":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteService(id)
	case "archive_service":
		var v types.Service
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.ArchiveService(&v)

	// Change ledger operations
	case "create_change":
		var v types.Change
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateChange(&v)
	case "update_change":
		var v types.Change
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateChange(&v)
	case "delete_change":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteChange(id)

	// Deployment operations
	case "create_deployment":
		var v types.Deployment
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateDeployment(&v)
	case "update_deployment":
		var v types.Deployment
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateDeployment(&v)

	// Network operations
	case "create_network":
		var v types.Network
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateNetwork(&v)
	case "delete_network":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteNetwork(id)

	// Node operations (single-node swarm substrate)
	case "create_node":
		var v types.Node
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateNode(&v)

	// Task operations
	case "create_task":
		var v types.Task
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateTask(&v)
	case "update_task":
		var v types.Task
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateTask(&v)
	case "delete_task":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteTask(id)

	// Swarm service operations
	case "create_swarm_service":
		var v types.SwarmService
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateSwarmService(&v)
	case "update_swarm_service":
		var v types.SwarmService
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.UpdateSwarmService(&v)
	case "delete_swarm_service":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteSwarmService(id)

	// Secret operations
	case "create_secret":
		var v types.Secret
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return err
		}
		return f.store.CreateSecret(&v)
	case "delete_secret":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteSecret(id)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *WarrenFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	projects, err := f.store.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %v", err)
	}

	var environments []*types.Environment
	var services []*types.Service
	for _, p := range projects {
		envs, err := f.store.ListEnvironmentsByProject(p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list environments: %v", err)
		}
		environments = append(environments, envs...)
		for _, e := range envs {
			svcs, err := f.store.ListServicesByEnvironment(e.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to list services: %v", err)
			}
			services = append(services, svcs...)
		}
	}

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %v", err)
	}

	var deployments []*types.Deployment
	for _, s := range services {
		ds, err := f.store.ListDeploymentsByService(s.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list deployments: %v", err)
		}
		deployments = append(deployments, ds...)
	}

	snapshot := &WarrenSnapshot{
		Projects:     projects,
		Environments: environments,
		Services:     services,
		Deployments:  deployments,
		Nodes:        nodes,
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot
// This is called when a node restarts or joins the cluster
func (f *WarrenFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot WarrenSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, v := range snapshot.Projects {
		if err := f.store.CreateProject(v); err != nil {
			return fmt.Errorf("failed to restore project: %v", err)
		}
	}
	for _, v := range snapshot.Environments {
		if err := f.store.CreateEnvironment(v); err != nil {
			return fmt.Errorf("failed to restore environment: %v", err)
		}
	}
	for _, v := range snapshot.Services {
		if err := f.store.CreateService(v); err != nil {
			return fmt.Errorf("failed to restore service: %v", err)
		}
	}
	for _, v := range snapshot.Deployments {
		if err := f.store.CreateDeployment(v); err != nil {
			return fmt.Errorf("failed to restore deployment: %v", err)
		}
	}
	for _, v := range snapshot.Nodes {
		if err := f.store.CreateNode(v); err != nil {
			return fmt.Errorf("failed to restore node: %v", err)
		}
	}

	return nil
}

// WarrenSnapshot represents a point-in-time snapshot of control-plane state.
type WarrenSnapshot struct {
	Projects     []*types.Project
	Environments []*types.Environment
	Services     []*types.Service
	Deployments  []*types.Deployment
	Nodes        []*types.Node
}

// Persist writes the snapshot to the given SnapshotSink
func (s *WarrenSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *WarrenSnapshot) Release() {}
