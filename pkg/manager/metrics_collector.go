package manager

import (
	"time"

	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/types"
)

// MetricsCollector periodically samples control-plane state and publishes it
// as Prometheus gauges. It never drives behavior, only observes it.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectNodeMetrics()
	c.collectInventoryMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectNodeMetrics() {
	nodes, err := c.manager.ListNodes()
	if err != nil {
		return
	}
	metrics.NodesTotal.Set(float64(len(nodes)))
}

// collectInventoryMetrics walks Project -> Environment -> Service and
// publishes simple counts. There is no aggregate listing in storage.Store,
// so this does the same tree walk WarrenFSM.Snapshot does.
func (c *MetricsCollector) collectInventoryMetrics() {
	projects, err := c.manager.ListProjects()
	if err != nil {
		return
	}
	metrics.ProjectsTotal.Set(float64(len(projects)))

	var environments []*types.Environment
	var services []*types.Service
	for _, p := range projects {
		envs, err := c.manager.ListEnvironmentsByProject(p.ID)
		if err != nil {
			continue
		}
		environments = append(environments, envs...)
		for _, e := range envs {
			svcs, err := c.manager.ListServicesByEnvironment(e.ID)
			if err != nil {
				continue
			}
			services = append(services, svcs...)
		}
	}
	metrics.EnvironmentsTotal.Set(float64(len(environments)))
	metrics.ServicesTotal.Set(float64(len(services)))

	for _, s := range services {
		deployments, err := c.manager.ListDeploymentsByService(s.ID)
		if err != nil {
			continue
		}
		c.collectTaskMetrics(deployments)
	}

	// Secrets are stored by name with no per-service or global listing in
	// storage.Store, so warren_secrets_total is left at its zero value here.
}

// collectTaskMetrics rolls up task counts per-deployment. It is called from
// collectInventoryMetrics since storage.Store only supports listing tasks by
// deployment hash, not a global scan.
func (c *MetricsCollector) collectTaskMetrics(deployments []*types.Deployment) {
	counts := make(map[types.TaskState]int)
	for _, d := range deployments {
		tasks, err := c.manager.store.ListTasksByDeploymentHash(d.Hash)
		if err != nil {
			continue
		}
		for _, t := range tasks {
			counts[t.ActualState]++
		}
	}
	for state, count := range counts {
		metrics.TasksTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats != nil {
		if lastIndex, ok := stats["last_log_index"].(uint64); ok {
			metrics.RaftLogIndex.Set(float64(lastIndex))
		}
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			metrics.RaftAppliedIndex.Set(float64(appliedIndex))
		}
		if peers, ok := stats["peers"].(uint64); ok {
			metrics.RaftPeers.Set(float64(peers))
		}
	}
}
