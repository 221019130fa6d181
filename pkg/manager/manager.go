package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/warren/pkg/dns"
	"github.com/cuemby/warren/pkg/events"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/security"
	"github.com/cuemby/warren/pkg/storage"
	"github.com/cuemby/warren/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager is the single control-plane process: it owns the durable Raft
// log backing every Change/Deployment/Environment mutation, the BoltDB
// store those mutations land in, the DNS server (pkg/dns), and an
// in-process event broker (pkg/events) that no package publishes to.
//
// spec.md §9 explicitly allows substituting a simpler durable workflow
// engine for the original's Temporal dependency; this control plane uses a
// single-node (optionally voter-replicated) Raft group instead, in the
// same idiom.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft           *raft.Raft
	fsm            *WarrenFSM
	store          storage.Store
	tokenManager   *TokenManager
	secretsManager *security.SecretsManager
	eventBroker    *events.Broker
	dnsServer      *dns.Server
	dnsCtx         context.Context
	dnsCancel      context.CancelFunc
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewWarrenFSM(store)
	tokenManager := NewTokenManager()

	clusterKey := security.DeriveKeyFromClusterID(cfg.NodeID)
	secretsManager, err := security.NewSecretsManager(clusterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}

	eventBroker := events.NewBroker()
	eventBroker.Start()

	dnsServer := dns.NewServer(store, nil)
	dnsCtx, dnsCancel := context.WithCancel(context.Background())

	m := &Manager{
		nodeID:         cfg.NodeID,
		bindAddr:       cfg.BindAddr,
		dataDir:        cfg.DataDir,
		fsm:            fsm,
		store:          store,
		secretsManager: secretsManager,
		tokenManager:   tokenManager,
		eventBroker:    eventBroker,
		dnsServer:      dnsServer,
		dnsCtx:         dnsCtx,
		dnsCancel:      dnsCancel,
	}

	return m, nil
}

// Bootstrap initializes a new single-node Raft cluster.
func (m *Manager) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned for LAN/single-host failover rather than Raft's WAN-conservative
	// defaults: leader heartbeats roughly every 50ms, election completes in
	// well under a second.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStorePath := filepath.Join(m.dataDir, "raft-log.db")
	logStore, err := raftboltdb.NewBoltStore(logStorePath)
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStorePath := filepath.Join(m.dataDir, "raft-stable.db")
	stableStore, err := raftboltdb.NewBoltStore(stableStorePath)
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}

	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	go func() {
		if err := m.dnsServer.Start(m.dnsCtx); err != nil {
			log.Logger.Error().Err(err).Msg("failed to start DNS server")
		}
	}()
	time.Sleep(100 * time.Millisecond)

	return nil
}

// AddVoter adds a new manager node to the Raft cluster. The control plane
// is a single process by design (spec.md §9); this exists for operators who
// choose to run a standby replica of the Raft log, not for routine use.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(m.raft.Leader())

	configFuture := m.raft.GetConfiguration()
	if err := configFuture.Error(); err == nil {
		stats["peers"] = uint64(len(configFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Store exposes the underlying storage for read paths that don't need to
// go through Raft (every read in this control plane is local/linearizable
// only on the leader; followers serve stale reads).
func (m *Manager) Store() storage.Store {
	return m.store
}

// SecretsManager exposes the secrets manager for encrypting registry
// credentials and deploy tokens before they're applied through Raft.
func (m *Manager) SecretsManager() *security.SecretsManager {
	return m.secretsManager
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) applyJSON(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// --- Project operations ---

func (m *Manager) CreateProject(p *types.Project) error { return m.applyJSON("create_project", p) }
func (m *Manager) UpdateProject(p *types.Project) error { return m.applyJSON("update_project", p) }
func (m *Manager) DeleteProject(id string) error        { return m.applyJSON("delete_project", id) }
func (m *Manager) GetProject(id string) (*types.Project, error) {
	return m.store.GetProject(id)
}
func (m *Manager) ListProjects() ([]*types.Project, error) { return m.store.ListProjects() }

// --- Environment operations ---

func (m *Manager) CreateEnvironment(e *types.Environment) error {
	return m.applyJSON("create_environment", e)
}
func (m *Manager) UpdateEnvironment(e *types.Environment) error {
	return m.applyJSON("update_environment", e)
}
func (m *Manager) DeleteEnvironment(id string) error { return m.applyJSON("delete_environment", id) }
func (m *Manager) GetEnvironment(id string) (*types.Environment, error) {
	return m.store.GetEnvironment(id)
}
func (m *Manager) ListEnvironmentsByProject(projectID string) ([]*types.Environment, error) {
	return m.store.ListEnvironmentsByProject(projectID)
}

// --- Service operations ---

func (m *Manager) CreateService(s *types.Service) error { return m.applyJSON("create_service", s) }
func (m *Manager) UpdateService(s *types.Service) error { return m.applyJSON("update_service", s) }
func (m *Manager) DeleteService(id string) error        { return m.applyJSON("delete_service", id) }
func (m *Manager) ArchiveService(s *types.Service) error {
	return m.applyJSON("archive_service", s)
}
func (m *Manager) GetService(id string) (*types.Service, error) {
	return m.store.GetService(id)
}
func (m *Manager) ListServicesByEnvironment(environmentID string) ([]*types.Service, error) {
	return m.store.ListServicesByEnvironment(environmentID)
}

// --- Change ledger operations ---

func (m *Manager) CreateChange(c *types.Change) error { return m.applyJSON("create_change", c) }
func (m *Manager) UpdateChange(c *types.Change) error  { return m.applyJSON("update_change", c) }
func (m *Manager) DeleteChange(id string) error        { return m.applyJSON("delete_change", id) }
func (m *Manager) ListPendingChanges(serviceID string) ([]*types.Change, error) {
	return m.store.ListPendingChanges(serviceID)
}

// --- Deployment operations ---

func (m *Manager) CreateDeployment(d *types.Deployment) error {
	return m.applyJSON("create_deployment", d)
}
func (m *Manager) UpdateDeployment(d *types.Deployment) error {
	return m.applyJSON("update_deployment", d)
}
func (m *Manager) GetDeployment(id string) (*types.Deployment, error) {
	return m.store.GetDeployment(id)
}
func (m *Manager) ListDeploymentsByService(serviceID string) ([]*types.Deployment, error) {
	return m.store.ListDeploymentsByService(serviceID)
}
func (m *Manager) ListQueuedDeployments(serviceID string) ([]*types.Deployment, error) {
	return m.store.ListQueuedDeployments(serviceID)
}
func (m *Manager) GetCurrentProductionDeployment(serviceID string) (*types.Deployment, error) {
	return m.store.GetCurrentProductionDeployment(serviceID)
}

// --- Network operations ---

func (m *Manager) CreateNetwork(n *types.Network) error { return m.applyJSON("create_network", n) }
func (m *Manager) DeleteNetwork(id string) error        { return m.applyJSON("delete_network", id) }
func (m *Manager) GetNetworkByEnvironment(environmentID string) (*types.Network, error) {
	return m.store.GetNetworkByEnvironment(environmentID)
}

// --- Node / Task / Swarm service operations ---

func (m *Manager) CreateNode(node *types.Node) error { return m.applyJSON("create_node", node) }
func (m *Manager) GetNode(id string) (*types.Node, error) {
	return m.store.GetNode(id)
}
func (m *Manager) ListNodes() ([]*types.Node, error) { return m.store.ListNodes() }

func (m *Manager) CreateTask(t *types.Task) error { return m.applyJSON("create_task", t) }
func (m *Manager) UpdateTask(t *types.Task) error  { return m.applyJSON("update_task", t) }
func (m *Manager) DeleteTask(id string) error      { return m.applyJSON("delete_task", id) }
func (m *Manager) ListTasksByDeploymentHash(hash string) ([]*types.Task, error) {
	return m.store.ListTasksByDeploymentHash(hash)
}

func (m *Manager) CreateSwarmService(svc *types.SwarmService) error {
	return m.applyJSON("create_swarm_service", svc)
}
func (m *Manager) UpdateSwarmService(svc *types.SwarmService) error {
	return m.applyJSON("update_swarm_service", svc)
}
func (m *Manager) DeleteSwarmService(id string) error {
	return m.applyJSON("delete_swarm_service", id)
}
func (m *Manager) GetSwarmServiceByDeploymentHash(hash string) (*types.SwarmService, error) {
	return m.store.GetSwarmServiceByDeploymentHash(hash)
}

// --- Secret operations ---

// CreateSecret creates a new secret. plaintext is encrypted with the
// control plane's secrets manager before being applied through Raft.
func (m *Manager) CreateSecret(name string, plaintext []byte) (*types.Secret, error) {
	secret, err := m.secretsManager.CreateSecret(name, plaintext)
	if err != nil {
		return nil, err
	}
	if err := m.applyJSON("create_secret", secret); err != nil {
		return nil, err
	}
	return secret, nil
}

func (m *Manager) DeleteSecret(id string) error { return m.applyJSON("delete_secret", id) }
func (m *Manager) GetSecretByName(name string) (*types.Secret, error) {
	return m.store.GetSecretByName(name)
}

// GenerateJoinToken generates a new API auth token for CLI clients.
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("not the leader, tokens can only be generated by the leader")
	}
	return m.tokenManager.GenerateToken(role, 24*time.Hour)
}

// ValidateJoinToken validates an API auth token
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// NodeID returns the manager's node ID
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.dnsServer != nil {
		if err := m.dnsServer.Stop(); err != nil {
			log.Logger.Warn().Err(err).Msg("failed to stop DNS server")
		}
	}
	if m.dnsCancel != nil {
		m.dnsCancel()
	}
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}
