package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/warren/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProjects     = []byte("projects")
	bucketEnvironments = []byte("environments")
	bucketServices     = []byte("services")
	bucketChanges      = []byte("changes")
	bucketDeployments  = []byte("deployments")
	bucketNetworks     = []byte("networks")
	bucketNodes        = []byte("nodes")
	bucketTasks        = []byte("tasks")
	bucketSwarmSvcs    = []byte("swarm_services")
	bucketSecrets      = []byte("secrets")

	bucketArchivedServices = []byte("archived_services")
)

// BoltStore implements Store using BoltDB, with a
// bucket-per-entity-type, JSON-marshalled-value pattern.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "warren.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects, bucketEnvironments, bucketServices,
			bucketChanges, bucketDeployments, bucketNetworks,
			bucketNodes, bucketTasks, bucketSwarmSvcs, bucketSecrets,
			bucketArchivedServices,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *BoltStore) CreateProject(p *types.Project) error {
	return s.put(bucketProjects, p.ID, p)
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var p types.Project
	if err := s.get(bucketProjects, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) GetProjectBySlug(slug string) (*types.Project, error) {
	var found *types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Slug == slug {
				found = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("project not found: %s", slug)
	}
	return found, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var out []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateProject(p *types.Project) error { return s.put(bucketProjects, p.ID, p) }

func (s *BoltStore) DeleteProject(id string) error { return s.delete(bucketProjects, id) }

// --- Environments ---

func (s *BoltStore) CreateEnvironment(e *types.Environment) error {
	return s.put(bucketEnvironments, e.ID, e)
}

func (s *BoltStore) GetEnvironment(id string) (*types.Environment, error) {
	var e types.Environment
	if err := s.get(bucketEnvironments, id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) GetEnvironmentByName(projectID, name string) (*types.Environment, error) {
	var found *types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvironments).ForEach(func(k, v []byte) error {
			var e types.Environment
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ProjectID == projectID && e.Name == name {
				found = &e
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("environment not found: %s/%s", projectID, name)
	}
	return found, nil
}

func (s *BoltStore) ListEnvironmentsByProject(projectID string) ([]*types.Environment, error) {
	var out []*types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvironments).ForEach(func(k, v []byte) error {
			var e types.Environment
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ProjectID == projectID {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateEnvironment(e *types.Environment) error {
	return s.put(bucketEnvironments, e.ID, e)
}

func (s *BoltStore) DeleteEnvironment(id string) error { return s.delete(bucketEnvironments, id) }

// --- Services ---

func (s *BoltStore) CreateService(svc *types.Service) error {
	return s.put(bucketServices, svc.ID, svc)
}

func (s *BoltStore) GetService(id string) (*types.Service, error) {
	var svc types.Service
	if err := s.get(bucketServices, id, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *BoltStore) GetServiceBySlug(environmentID, slug string) (*types.Service, error) {
	var found *types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.EnvironmentID == environmentID && svc.Slug == slug {
				found = &svc
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("service not found: %s/%s", environmentID, slug)
	}
	return found, nil
}

func (s *BoltStore) ListServicesByEnvironment(environmentID string) ([]*types.Service, error) {
	var out []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.EnvironmentID == environmentID {
				out = append(out, &svc)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateService(svc *types.Service) error {
	return s.put(bucketServices, svc.ID, svc)
}

func (s *BoltStore) DeleteService(id string) error { return s.delete(bucketServices, id) }

// ArchiveService moves a service row into the archive bucket, retaining the
// full record (spec.md §4.9: "the full tear-down manifest retained").
func (s *BoltStore) ArchiveService(svc *types.Service) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(svc)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketArchivedServices).Put([]byte(svc.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketServices).Delete([]byte(svc.ID))
	})
}

// --- Changes ---

func (s *BoltStore) CreateChange(c *types.Change) error { return s.put(bucketChanges, c.ID, c) }

func (s *BoltStore) GetChange(id string) (*types.Change, error) {
	var c types.Change
	if err := s.get(bucketChanges, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListPendingChanges(serviceID string) ([]*types.Change, error) {
	var out []*types.Change
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChanges).ForEach(func(k, v []byte) error {
			var c types.Change
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.ServiceID == serviceID && !c.Applied {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateChange(c *types.Change) error { return s.put(bucketChanges, c.ID, c) }

func (s *BoltStore) DeleteChange(id string) error { return s.delete(bucketChanges, id) }

// --- Deployments ---

func (s *BoltStore) CreateDeployment(d *types.Deployment) error {
	return s.put(bucketDeployments, d.ID, d)
}

func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	if err := s.get(bucketDeployments, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) ListDeploymentsByService(serviceID string) ([]*types.Deployment, error) {
	var out []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ServiceID == serviceID {
				out = append(out, &d)
			}
			return nil
		})
	})
	return out, err
}

// ListQueuedDeployments returns a service's queued deployments in
// queued_at order (spec.md §5: "Deployments within a service are executed
// in queued_at order").
func (s *BoltStore) ListQueuedDeployments(serviceID string) ([]*types.Deployment, error) {
	all, err := s.ListDeploymentsByService(serviceID)
	if err != nil {
		return nil, err
	}
	var out []*types.Deployment
	for _, d := range all {
		if d.Status == types.StatusQueued {
			out = append(out, d)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].QueuedAt.Before(out[j-1].QueuedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateDeployment(d *types.Deployment) error {
	return s.put(bucketDeployments, d.ID, d)
}

func (s *BoltStore) GetCurrentProductionDeployment(serviceID string) (*types.Deployment, error) {
	all, err := s.ListDeploymentsByService(serviceID)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.IsCurrentProd {
			return d, nil
		}
	}
	return nil, nil
}

// --- Networks ---

func (s *BoltStore) CreateNetwork(n *types.Network) error { return s.put(bucketNetworks, n.ID, n) }

func (s *BoltStore) GetNetwork(id string) (*types.Network, error) {
	var n types.Network
	if err := s.get(bucketNetworks, id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) GetNetworkByEnvironment(environmentID string) (*types.Network, error) {
	var found *types.Network
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).ForEach(func(k, v []byte) error {
			var n types.Network
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.EnvironmentID == environmentID {
				found = &n
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("network not found for environment: %s", environmentID)
	}
	return found, nil
}

func (s *BoltStore) DeleteNetwork(id string) error { return s.delete(bucketNetworks, id) }

// --- Nodes ---

func (s *BoltStore) CreateNode(node *types.Node) error { return s.put(bucketNodes, node.ID, node) }

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var n types.Node
	if err := s.get(bucketNodes, id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

// --- Tasks ---

func (s *BoltStore) CreateTask(t *types.Task) error { return s.put(bucketTasks, t.ID, t) }

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var t types.Task
	if err := s.get(bucketTasks, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTasksByDeploymentHash(hash string) ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.DeploymentHash == hash {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateTask(t *types.Task) error { return s.put(bucketTasks, t.ID, t) }

func (s *BoltStore) DeleteTask(id string) error { return s.delete(bucketTasks, id) }

// --- Swarm services ---

func (s *BoltStore) CreateSwarmService(svc *types.SwarmService) error {
	return s.put(bucketSwarmSvcs, svc.ID, svc)
}

func (s *BoltStore) GetSwarmService(id string) (*types.SwarmService, error) {
	var svc types.SwarmService
	if err := s.get(bucketSwarmSvcs, id, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *BoltStore) GetSwarmServiceByDeploymentHash(hash string) (*types.SwarmService, error) {
	var found *types.SwarmService
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSwarmSvcs).ForEach(func(k, v []byte) error {
			var svc types.SwarmService
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.DeploymentHash == hash {
				found = &svc
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("swarm service not found for deployment hash: %s", hash)
	}
	return found, nil
}

func (s *BoltStore) UpdateSwarmService(svc *types.SwarmService) error {
	return s.put(bucketSwarmSvcs, svc.ID, svc)
}

func (s *BoltStore) DeleteSwarmService(id string) error { return s.delete(bucketSwarmSvcs, id) }

// --- Secrets ---

func (s *BoltStore) CreateSecret(secret *types.Secret) error {
	return s.put(bucketSecrets, secret.ID, secret)
}

func (s *BoltStore) GetSecret(id string) (*types.Secret, error) {
	var secret types.Secret
	if err := s.get(bucketSecrets, id, &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

func (s *BoltStore) GetSecretByName(name string) (*types.Secret, error) {
	var found *types.Secret
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).ForEach(func(k, v []byte) error {
			var secret types.Secret
			if err := json.Unmarshal(v, &secret); err != nil {
				return err
			}
			if secret.Name == name {
				found = &secret
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("secret not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) DeleteSecret(id string) error { return s.delete(bucketSecrets, id) }

// --- generic helpers ---

func (s *BoltStore) put(bucket []byte, id string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(id), data)
	})
}

func (s *BoltStore) get(bucket []byte, id string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("not found: %s", id)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}
