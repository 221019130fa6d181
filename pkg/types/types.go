// Package types defines the domain model realised by the control plane:
// projects, environments, services, their declarative attachments (volumes,
// configs, ports, URL routes, healthchecks), the pending-change ledger, and
// the deployment records produced by applying it. It also keeps the
// single-node swarm substrate (Node, Task, Network) that the orchestrator
// drives through pkg/runtime.
package types

import "time"

// Project is a namespace owning environments.
type Project struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Environment is a named scope inside a project. "production" is reserved:
// it cannot be renamed or archived.
type Environment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	// NetworkID is the overlay network owned by this environment, created on
	// first need (first service deploy) and removed on archival.
	NetworkID string `json:"network_id,omitempty"`
	// BuilderName is the buildkit builder attached to the env network,
	// named "builder-zane-<env_id>" and created on demand.
	BuilderName string `json:"builder_name,omitempty"`

	Variables map[string]string `json:"variables,omitempty"`

	Preview           bool   `json:"preview"`
	PreviewUsername   string `json:"preview_username,omitempty"`
	PreviewPasswordH  string `json:"preview_password_hash,omitempty"`
	PreviewAuthURL    string `json:"preview_auth_url,omitempty"` // upstream auth subrequest target for per-deployment preview routes
	ExternalPRID      string `json:"external_pr_id,omitempty"`

	Archived   bool      `json:"archived"`
	ArchivedAt time.Time `json:"archived_at,omitempty"`
}

// RootDomain is the domain suffix used to synthesise default/preview URLs
// ("$service_slug.$root_domain" for a service's default URL; environment
// clones use "$service_slug-<environment id prefix>.$root_domain").
// Configured once per control plane.
var RootDomain = "zaneapps.example"

// ServiceSourceType distinguishes the two service variants.
type ServiceSourceType string

const (
	ServiceSourceDockerImage ServiceSourceType = "docker_image"
	ServiceSourceGit         ServiceSourceType = "git"
)

// BuilderType is one of the four Git builders.
type BuilderType string

const (
	BuilderDockerfile BuilderType = "dockerfile"
	BuilderStaticDir  BuilderType = "static_dir"
	BuilderNixpacks   BuilderType = "nixpacks"
	BuilderRailpack   BuilderType = "railpack"
)

// Service is a long-lived deployable unit in one environment.
type Service struct {
	ID            string            `json:"id"`
	EnvironmentID string            `json:"environment_id"`
	ProjectID     string            `json:"project_id"`
	Slug          string            `json:"slug"`
	NetworkAlias  string            `json:"network_alias"` // stable, survives blue/green flips
	DeployToken   string            `json:"deploy_token"`

	SourceType ServiceSourceType `json:"source_type"`

	// DockerImage variant
	Image             string             `json:"image,omitempty"`
	RegistryAlias     string             `json:"registry_alias,omitempty"`
	RegistryCredential *RegistryCredential `json:"registry_credential,omitempty"`

	// Git variant
	RepositoryURL string      `json:"repository_url,omitempty"`
	Branch        string      `json:"branch,omitempty"`
	CommitSHA     string      `json:"commit_sha,omitempty"` // empty = HEAD of branch
	Builder       BuilderType `json:"builder,omitempty"`
	BuilderOpts   BuilderOptions `json:"builder_opts,omitempty"`

	Command        string                `json:"command,omitempty"`
	EnvVars        map[string]string     `json:"env_vars,omitempty"`
	Volumes        []*Volume             `json:"volumes,omitempty"`
	Configs        []*Config             `json:"configs,omitempty"`
	Ports          []*PortMapping        `json:"ports,omitempty"`
	URLs           []*URLRoute           `json:"urls,omitempty"`
	Healthcheck    *Healthcheck          `json:"healthcheck,omitempty"`
	Resources      *ResourceRequirements `json:"resources,omitempty"`

	// PendingChanges accumulated by the Change Ledger (C4), not yet applied.
	PendingChanges []*Change `json:"pending_changes,omitempty"`

	// CurrentDeploymentID is the deployment with is_current_production=true,
	// if any.
	CurrentDeploymentID string `json:"current_deployment_id,omitempty"`

	Archived   bool      `json:"archived"`
	ArchivedAt time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BuilderOptions carries per-builder knobs used at plan-synthesis time
// (§4.2.3 step 5).
type BuilderOptions struct {
	DockerfilePath string `json:"dockerfile_path,omitempty"`
	BuildContext   string `json:"build_context,omitempty"`
	NoCache        bool   `json:"no_cache,omitempty"`
	StageTarget    string `json:"stage_target,omitempty"`

	// Static publish options (StaticDir/Nixpacks-static/Railpack-static).
	PublishDirectory string `json:"publish_directory,omitempty"`
	IsSPA            bool   `json:"is_spa,omitempty"`
	IndexPage        string `json:"index_page,omitempty"`
	NotFoundPage     string `json:"not_found_page,omitempty"`
}

// RegistryCredential authenticates an image pull against a private registry.
type RegistryCredential struct {
	Username      string `json:"username"`
	EncryptedPass []byte `json:"encrypted_password"`
}

// Volume is a named persistent mount owned by exactly one service.
type Volume struct {
	ID            string     `json:"id"`
	ServiceID     string     `json:"service_id"`
	Name          string     `json:"name"`
	ContainerPath string     `json:"container_path"`
	Mode          AccessMode `json:"mode"`
	HostPath      string     `json:"host_path,omitempty"` // optional bind

	// DeploymentID names the owning deployment. Nothing in this tree sets
	// or reassigns it.
	DeploymentID string    `json:"deployment_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccessMode is a volume's read/write mode.
type AccessMode string

const (
	AccessModeRW AccessMode = "rw"
	AccessModeRO AccessMode = "ro"
)

// Config is a file-materialised blob owned by exactly one service.
type Config struct {
	ID           string    `json:"id"`
	ServiceID    string    `json:"service_id"`
	Name         string    `json:"name"`
	Contents     string    `json:"contents"`
	MountPath    string    `json:"mount_path"`
	Language     string    `json:"language,omitempty"` // hint for syntax-aware editors
	DeploymentID string    `json:"deployment_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// URLRoute is a (domain, base_path) entry. The pair is globally unique
// across services. A route whose RedirectTo is set is a redirect; otherwise
// it proxies to (service.network_alias, associated_port).
type URLRoute struct {
	ID              string `json:"id"`
	ServiceID       string `json:"service_id"`
	Domain          string `json:"domain"`
	BasePath        string `json:"base_path"` // "/" default
	StripPrefix     bool   `json:"strip_prefix"`
	AssociatedPort  int    `json:"associated_port"`
	RedirectTo      string `json:"redirect_to,omitempty"`
	RedirectPermanent bool `json:"redirect_permanent,omitempty"`
}

// NormalizedBasePath returns the base path used in route-id synthesis: an
// empty path becomes "*".
func (u *URLRoute) NormalizedBasePath() string {
	if u.BasePath == "" {
		return "*"
	}
	return u.BasePath
}

// PortMapping is (host_port, forwarded_port). HostPort == 0 means
// "HTTP-only, reached via URL routes" (spec's host_port == null).
type PortMapping struct {
	ID            string `json:"id"`
	ServiceID     string `json:"service_id"`
	HostPort      int    `json:"host_port,omitempty"` // 0 == unset
	ForwardedPort int    `json:"forwarded_port"`
	Protocol      string `json:"protocol,omitempty"` // "tcp" default
}

// IsHTTPOnly reports whether this port has no host binding.
func (p *PortMapping) IsHTTPOnly() bool { return p.HostPort == 0 }

// HealthcheckType distinguishes the two custom healthcheck kinds.
type HealthcheckType string

const (
	HealthcheckCommand  HealthcheckType = "command"
	HealthcheckHTTPPath HealthcheckType = "http_path"
)

// Healthcheck configures the deployment healthcheck (§4.2.4).
type Healthcheck struct {
	Type            HealthcheckType `json:"type"`
	Value           string          `json:"value"`
	TimeoutSeconds  int             `json:"timeout_seconds"`  // default 30
	IntervalSeconds int             `json:"interval_seconds"` // default 30
	AssociatedPort  int             `json:"associated_port,omitempty"`
}

// ResourceRequirements mirrors the swarm-service resource block.
type ResourceRequirements struct {
	CPULimit          float64 `json:"cpu_limit,omitempty"`
	MemoryLimitBytes  int64   `json:"memory_limit_bytes,omitempty"`
	CPUReservation    float64 `json:"cpu_reservation,omitempty"`
	MemoryReservation int64   `json:"memory_reservation,omitempty"`
}

// ChangeType is one of add/update/delete.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeField names the service attribute a Change mutates. List-valued
// fields (volumes, configs, ports, urls, env_vars) carry an ItemID.
type ChangeField string

const (
	FieldSource         ChangeField = "source"       // image or git repo/branch/commit/builder
	FieldBuilderOptions ChangeField = "builder_opts"
	FieldCommand        ChangeField = "command"
	FieldHealthcheck    ChangeField = "healthcheck"
	FieldResources      ChangeField = "resources"
	FieldEnvVar         ChangeField = "env_var"
	FieldVolume         ChangeField = "volume"
	FieldConfig         ChangeField = "config"
	FieldPort           ChangeField = "port"
	FieldURL            ChangeField = "url"
)

// Change is a pending mutation to a service.
type Change struct {
	ID        string      `json:"id"`
	ServiceID string      `json:"service_id"`
	Field     ChangeField `json:"field"`
	Type      ChangeType  `json:"type"`
	ItemID    string      `json:"item_id,omitempty"` // for add/update/delete of list-valued fields
	NewValue  string      `json:"new_value"`         // JSON-encoded payload
	OldValue  string      `json:"old_value,omitempty"`

	Applied      bool      `json:"applied"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot is the frozen, fully-resolved service definition captured inside
// a Deployment. It is never mutated after creation.
type Snapshot struct {
	ServiceID     string                `json:"service_id"`
	EnvironmentID string                `json:"environment_id"`
	ProjectID     string                `json:"project_id"`
	Slug          string                `json:"slug"`
	NetworkAlias  string                `json:"network_alias"`

	SourceType         ServiceSourceType   `json:"source_type"`
	Image              string              `json:"image,omitempty"`
	RegistryAlias      string              `json:"registry_alias,omitempty"`
	RegistryCredential *RegistryCredential `json:"registry_credential,omitempty"`

	RepositoryURL string         `json:"repository_url,omitempty"`
	Branch        string         `json:"branch,omitempty"`
	CommitSHA     string         `json:"commit_sha,omitempty"`
	Builder       BuilderType    `json:"builder,omitempty"`
	BuilderOpts   BuilderOptions `json:"builder_opts,omitempty"`

	Command     string                `json:"command,omitempty"`
	EnvVars     map[string]string     `json:"env_vars,omitempty"`
	Volumes     []*Volume             `json:"volumes,omitempty"`
	Configs     []*Config             `json:"configs,omitempty"`
	Ports       []*PortMapping        `json:"ports,omitempty"`
	URLs        []*URLRoute           `json:"urls,omitempty"`
	Healthcheck *Healthcheck          `json:"healthcheck,omitempty"`
	Resources   *ResourceRequirements `json:"resources,omitempty"`
}

// DeploymentSlot is the blue/green label on a Deployment.
type DeploymentSlot string

const (
	SlotBlue  DeploymentSlot = "BLUE"
	SlotGreen DeploymentSlot = "GREEN"
)

// Other returns the opposite slot.
func (s DeploymentSlot) Other() DeploymentSlot {
	if s == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// DeploymentStatus is the deployment's externally-visible state.
type DeploymentStatus string

const (
	StatusQueued      DeploymentStatus = "queued"
	StatusPreparing   DeploymentStatus = "preparing"
	StatusBuilding    DeploymentStatus = "building"
	StatusStarting    DeploymentStatus = "starting"
	StatusRestarting  DeploymentStatus = "restarting"
	StatusCancelling  DeploymentStatus = "cancelling"
	StatusHealthy     DeploymentStatus = "healthy"
	StatusUnhealthy   DeploymentStatus = "unhealthy"
	StatusFailed      DeploymentStatus = "failed"
	StatusCancelled   DeploymentStatus = "cancelled"
	StatusSleeping    DeploymentStatus = "sleeping"
	StatusRemoved     DeploymentStatus = "removed"
)

// InFlight reports whether a deployment in this status counts against the
// "exactly one in flight" invariant (spec.md §3 Invariants).
func (s DeploymentStatus) InFlight() bool {
	switch s {
	case StatusQueued, StatusPreparing, StatusBuilding, StatusStarting, StatusRestarting, StatusCancelling:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is immutable outside of the two named
// operator/health-monitor exceptions.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusHealthy, StatusUnhealthy, StatusFailed, StatusCancelled, StatusSleeping, StatusRemoved:
		return true
	default:
		return false
	}
}

// DeploymentStep is a DockerDeploymentStep/GitDeploymentStep value,
// enumerated and totally ordered per spec.md §4.2.2.
type DeploymentStep int

const (
	StepInitialized DeploymentStep = iota
	StepCloningRepository
	StepRepositoryCloned
	StepBuildingImage
	StepImageBuilt
	StepVolumesCreated
	StepConfigsCreated
	StepPreviousDeploymentScaledDown
	StepSwarmServiceCreated
	StepDeploymentExposedToHTTP
	StepServiceExposedToHTTP
	StepFinished
)

func (s DeploymentStep) String() string {
	names := [...]string{
		"INITIALIZED", "CLONING_REPOSITORY", "REPOSITORY_CLONED",
		"BUILDING_IMAGE", "IMAGE_BUILT", "VOLUMES_CREATED", "CONFIGS_CREATED",
		"PREVIOUS_DEPLOYMENT_SCALED_DOWN", "SWARM_SERVICE_CREATED",
		"DEPLOYMENT_EXPOSED_TO_HTTP", "SERVICE_EXPOSED_TO_HTTP", "FINISHED",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "UNKNOWN"
	}
	return names[s]
}

// Deployment is the immutable record produced by applying a Change set.
type Deployment struct {
	ID            string           `json:"id"`
	ServiceID     string           `json:"service_id"`
	EnvironmentID string           `json:"environment_id"`
	ProjectID     string           `json:"project_id"`
	Hash          string           `json:"hash"` // opaque, short, type-prefixed
	Slot          DeploymentSlot   `json:"slot"`
	Status        DeploymentStatus `json:"status"`
	StatusReason  string           `json:"status_reason,omitempty"`
	Step          DeploymentStep   `json:"step"`

	QueuedAt        time.Time `json:"queued_at"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	BuildStartedAt  time.Time `json:"build_started_at,omitempty"`
	BuildFinishedAt time.Time `json:"build_finished_at,omitempty"`

	Snapshot      *Snapshot `json:"snapshot"`
	ChangeIDs     []string  `json:"change_ids,omitempty"`
	IsCurrentProd bool      `json:"is_current_production"`

	CommitSHA     string `json:"commit_sha,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
	CommitAuthor  string `json:"commit_author,omitempty"`
	ImageTag      string `json:"image_tag,omitempty"`
	NetworkAlias  string `json:"network_alias"` // "<slot>-<service.network_alias>"

	// CancelRequested is set by a cancel signal; the orchestrator observes it
	// at step boundaries (§4.2.5).
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Revert accounting for compensation (§4.2.5): ids created by this
	// deployment, so cancellation/failure can delete exactly these.
	CreatedVolumeIDs []string `json:"created_volume_ids,omitempty"`
	CreatedConfigIDs []string `json:"created_config_ids,omitempty"`

	// PreviousDeploymentID / PreviousScaledDown record step 3 and step 10's
	// outcome so compensation (§4.2.5 PREVIOUS_DEPLOYMENT_SCALED_DOWN) and
	// the happy-path step 16 cleanup know what to undo/finish.
	PreviousDeploymentID string `json:"previous_deployment_id,omitempty"`
	PreviousScaledDown   bool   `json:"previous_scaled_down,omitempty"`

	SwarmServiceName string `json:"swarm_service_name,omitempty"`
}

// DeploymentIDShort returns the short deployment_hash used in swarm service
// names and route ids: "dpl-xxxxxxxx".
func DeploymentIDShort(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// --- single-node swarm substrate ---

// Node is the single swarm host the control plane manages (multi-node
// scheduling is an explicit non-goal; the field survives because Task still
// needs somewhere to resolve an address for healthchecks/exec).
type Node struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskState is the swarm task's actual lifecycle state, as reported by the
// container daemon (spec.md §4.2.4's state set).
type TaskState string

const (
	TaskNew       TaskState = "new"
	TaskPending   TaskState = "pending"
	TaskAssigned  TaskState = "assigned"
	TaskAccepted  TaskState = "accepted"
	TaskReady     TaskState = "ready"
	TaskPreparing TaskState = "preparing"
	TaskStarting  TaskState = "starting"
	TaskRunning   TaskState = "running"
	TaskComplete  TaskState = "complete"
	TaskFailed    TaskState = "failed"
	TaskShutdown  TaskState = "shutdown"
	TaskRejected  TaskState = "rejected"
	TaskOrphaned  TaskState = "orphaned"
	TaskRemove    TaskState = "remove"
)

// Task is one running (or scheduled) instance of a swarm service.
type Task struct {
	ID              string    `json:"id"`
	SwarmServiceID  string    `json:"swarm_service_id"`
	DeploymentHash  string    `json:"deployment_hash"`
	ContainerID     string    `json:"container_id,omitempty"`
	NodeID          string    `json:"node_id"`
	DesiredState    TaskState `json:"desired_state"`
	ActualState     TaskState `json:"actual_state"`
	VersionIndex    int64     `json:"version_index"`
	ContainerIP     string    `json:"container_ip,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SwarmService is the container-daemon object the orchestrator creates at
// step 12 and removes on teardown/compensation.
type SwarmService struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"` // srv-<project>-<service>-<hash>
	ServiceID      string            `json:"service_id"`
	DeploymentHash string            `json:"deployment_hash"`
	Image          string            `json:"image"`
	Command        string            `json:"command,omitempty"`
	Env            []string          `json:"env,omitempty"`
	Mounts         []*VolumeMount    `json:"mounts,omitempty"`
	Configs        []*ConfigMount    `json:"configs,omitempty"`
	NetworkID      string            `json:"network_id"`
	Aliases        []string          `json:"aliases"` // [network_alias, <slot>-<network_alias>]
	Ports          []*PortMapping    `json:"ports,omitempty"`
	Resources      *ResourceRequirements `json:"resources,omitempty"`
	Replicas       int               `json:"replicas"`
	Labels         map[string]string `json:"labels,omitempty"`
	RestartPolicy  *RestartPolicy    `json:"restart_policy,omitempty"`
	UpdateConfig   *UpdateConfig     `json:"update_config,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// VolumeMount attaches a Volume to a swarm service's task spec.
type VolumeMount struct {
	VolumeID string `json:"volume_id"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

// ConfigMount attaches a Config to a swarm service's task spec.
type ConfigMount struct {
	ConfigID string `json:"config_id"`
	Target   string `json:"target"`
}

// RestartPolicy mirrors the swarm-service restart policy
// (spec.md §4.2.3 step 12: on-failure, max 3, delay 5s, by default).
type RestartPolicy struct {
	Condition   RestartCondition `json:"condition"`
	MaxAttempts int              `json:"max_attempts"`
	Delay       time.Duration    `json:"delay"`
}

// RestartCondition is when a task should be restarted.
type RestartCondition string

const (
	RestartNever     RestartCondition = "never"
	RestartOnFailure RestartCondition = "on-failure"
	RestartAlways    RestartCondition = "always"
)

// UpdateConfig mirrors the swarm-service update policy (spec.md §4.2.3 step
// 12: start-first, parallelism=1, failure=rollback, by default).
type UpdateConfig struct {
	Parallelism   int    `json:"parallelism"`
	Order         string `json:"order"` // "start-first" | "stop-first"
	FailureAction string `json:"failure_action"`
}

// Network is the overlay network owned by one Environment.
type Network struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Name          string    `json:"name"`
	Subnet        string    `json:"subnet,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Secret is an encrypted blob created through the secrets API
// (Manager.CreateSecret; pkg/security.SecretsManager does the encrypting).
// Registry credentials and deploy tokens are not stored as Secrets.
type Secret struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Data      []byte    `json:"data"` // AES-256-GCM ciphertext, nonce-prefixed
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event mirrors a generic cluster-event shape, retagged for the
// deployment lifecycle (pkg/events carries the EventType catalogue).
type Event struct {
	Type         string            `json:"type"`
	Timestamp    time.Time         `json:"timestamp"`
	ProjectID    string            `json:"project_id,omitempty"`
	ServiceID    string            `json:"service_id,omitempty"`
	DeploymentID string            `json:"deployment_id,omitempty"`
	Message      string            `json:"message"`
	Data         map[string]string `json:"data,omitempty"`
}
