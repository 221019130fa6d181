package storage

import (
	"github.com/cuemby/warren/pkg/types"
)

// Store defines the interface for control-plane state storage, implemented
// by BoltDB-backed storage. One bucket per entity type, following the
// teacher's layout.
type Store interface {
	// Projects
	CreateProject(p *types.Project) error
	GetProject(id string) (*types.Project, error)
	GetProjectBySlug(slug string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	UpdateProject(p *types.Project) error
	DeleteProject(id string) error

	// Environments
	CreateEnvironment(e *types.Environment) error
	GetEnvironment(id string) (*types.Environment, error)
	GetEnvironmentByName(projectID, name string) (*types.Environment, error)
	ListEnvironmentsByProject(projectID string) ([]*types.Environment, error)
	UpdateEnvironment(e *types.Environment) error
	DeleteEnvironment(id string) error

	// Services
	CreateService(s *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceBySlug(environmentID, slug string) (*types.Service, error)
	ListServicesByEnvironment(environmentID string) ([]*types.Service, error)
	UpdateService(s *types.Service) error
	DeleteService(id string) error
	ArchiveService(s *types.Service) error

	// Changes
	CreateChange(c *types.Change) error
	GetChange(id string) (*types.Change, error)
	ListPendingChanges(serviceID string) ([]*types.Change, error)
	UpdateChange(c *types.Change) error
	DeleteChange(id string) error

	// Deployments
	CreateDeployment(d *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	ListDeploymentsByService(serviceID string) ([]*types.Deployment, error)
	ListQueuedDeployments(serviceID string) ([]*types.Deployment, error)
	UpdateDeployment(d *types.Deployment) error
	GetCurrentProductionDeployment(serviceID string) (*types.Deployment, error)

	// Networks (one per environment)
	CreateNetwork(n *types.Network) error
	GetNetwork(id string) (*types.Network, error)
	GetNetworkByEnvironment(environmentID string) (*types.Network, error)
	DeleteNetwork(id string) error

	// Nodes (single-node swarm substrate)
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)

	// Tasks
	CreateTask(t *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasksByDeploymentHash(hash string) ([]*types.Task, error)
	UpdateTask(t *types.Task) error
	DeleteTask(id string) error

	// Swarm services
	CreateSwarmService(svc *types.SwarmService) error
	GetSwarmService(id string) (*types.SwarmService, error)
	GetSwarmServiceByDeploymentHash(hash string) (*types.SwarmService, error)
	UpdateSwarmService(svc *types.SwarmService) error
	DeleteSwarmService(id string) error

	// Secrets (encrypted registry credentials / deploy tokens)
	CreateSecret(secret *types.Secret) error
	GetSecret(id string) (*types.Secret, error)
	GetSecretByName(name string) (*types.Secret, error)
	DeleteSecret(id string) error

	// Utility
	Close() error
}
