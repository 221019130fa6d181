/*
Package environment implements the Environment Cloner (C8): forking an
environment's declarative state into a new one (spec.md §4.8).

Cloning never copies already-materialised infrastructure (swarm services,
volumes, overlay networks); it reproduces the source environment's
services as pending changes against freshly created service rows, so the
clone goes through the exact same Change Ledger validation and Deployment
Orchestrator path a hand-authored service would.
*/
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
	"github.com/google/uuid"
)

// Store is the subset of pkg/manager.Manager the cloner needs.
type Store interface {
	GetEnvironment(id string) (*types.Environment, error)
	CreateEnvironment(e *types.Environment) error
	ListEnvironmentsByProject(projectID string) ([]*types.Environment, error)
	ListServicesByEnvironment(environmentID string) ([]*types.Service, error)
	CreateService(s *types.Service) error
}

// ChangeLedger is the subset of pkg/ledger.Ledger the cloner needs.
type ChangeLedger interface {
	RequestChange(service *types.Service, change *types.Change) error
	Apply(service *types.Service) (*types.Snapshot, *types.Deployment, error)
}

// Deployer is the subset of pkg/orchestrator.Orchestrator the cloner needs
// to start a deployment when deployServices is requested.
type Deployer interface {
	Run(ctx context.Context, deploymentID string)
}

// Cloner forks an environment (spec.md §4.8).
type Cloner struct {
	store      Store
	ledger     ChangeLedger
	orch       Deployer
	rootDomain string
}

// New creates a Cloner.
func New(store Store, ledger ChangeLedger, orch Deployer, rootDomain string) *Cloner {
	if rootDomain == "" {
		rootDomain = types.RootDomain
	}
	return &Cloner{store: store, ledger: ledger, orch: orch, rootDomain: rootDomain}
}

// Clone creates targetName as a new environment in sourceEnvironmentID's
// project, copies its variables verbatim, and queues every service in it
// as a pending-change service in the new environment. When deployServices
// is true, each cloned service is applied and handed to the orchestrator
// immediately.
func (c *Cloner) Clone(ctx context.Context, sourceEnvironmentID, targetName string, deployServices bool) (*types.Environment, error) {
	source, err := c.store.GetEnvironment(sourceEnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("source environment: %w", err)
	}

	siblings, err := c.store.ListEnvironmentsByProject(source.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	for _, e := range siblings {
		if e.Name == targetName {
			return nil, fmt.Errorf("environment %q already exists in this project", targetName)
		}
	}

	target := &types.Environment{
		ID:        uuid.New().String(),
		ProjectID: source.ProjectID,
		Name:      targetName,
		CreatedAt: time.Now(),
		Variables: copyStringMap(source.Variables),
	}
	if err := c.store.CreateEnvironment(target); err != nil {
		return nil, fmt.Errorf("create target environment: %w", err)
	}

	services, err := c.store.ListServicesByEnvironment(sourceEnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("list source services: %w", err)
	}
	for _, svc := range services {
		if svc.Archived {
			continue
		}
		if err := c.cloneService(ctx, svc, target, deployServices); err != nil {
			return nil, fmt.Errorf("clone service %s: %w", svc.Slug, err)
		}
	}

	return target, nil
}

func (c *Cloner) cloneService(ctx context.Context, src *types.Service, target *types.Environment, deployServices bool) error {
	clone := &types.Service{
		ID:            uuid.New().String(),
		EnvironmentID: target.ID,
		ProjectID:     target.ProjectID,
		Slug:          src.Slug,
		NetworkAlias:  src.NetworkAlias,
		DeployToken:   uuid.New().String(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := c.store.CreateService(clone); err != nil {
		return err
	}

	for _, change := range c.sourceChanges(src, target) {
		if err := c.ledger.RequestChange(clone, change); err != nil {
			return fmt.Errorf("queue %s change: %w", change.Field, err)
		}
	}

	if !deployServices {
		return nil
	}

	_, deployment, err := c.ledger.Apply(clone)
	if err != nil {
		return fmt.Errorf("apply cloned service: %w", err)
	}
	logger := log.WithDeployment(clone.ID, deployment.ID)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("orchestrator run panicked")
			}
		}()
		c.orch.Run(context.Background(), deployment.ID)
	}()
	return nil
}

// sourceChanges builds the change set that reproduces src's currently
// applied state on a freshly created service (spec.md §4.8's attribute
// list), skipping redirect URLs and every port mapping (host-mapped or
// not), and rewriting non-redirect URLs to a preview domain unique within
// target.
func (c *Cloner) sourceChanges(src *types.Service, target *types.Environment) []*types.Change {
	var changes []*types.Change

	changes = append(changes, c.change(types.FieldSource, "", sourcePayload{
		SourceType:         src.SourceType,
		Image:              src.Image,
		RegistryAlias:      src.RegistryAlias,
		RegistryCredential: src.RegistryCredential,
		RepositoryURL:      src.RepositoryURL,
		Branch:             src.Branch,
		CommitSHA:          src.CommitSHA,
		Builder:            src.Builder,
	}))
	changes = append(changes, c.change(types.FieldBuilderOptions, "", src.BuilderOpts))
	if src.Command != "" {
		changes = append(changes, c.change(types.FieldCommand, "", src.Command))
	}
	if src.Healthcheck != nil {
		changes = append(changes, c.change(types.FieldHealthcheck, "", src.Healthcheck))
	}
	if src.Resources != nil {
		changes = append(changes, c.change(types.FieldResources, "", src.Resources))
	}
	for key, value := range src.EnvVars {
		changes = append(changes, c.addChange(types.FieldEnvVar, key, envVarPayload{Key: key, Value: value}))
	}
	for _, v := range src.Volumes {
		changes = append(changes, c.addChange(types.FieldVolume, v.ID, v))
	}
	for _, cfg := range src.Configs {
		changes = append(changes, c.addChange(types.FieldConfig, cfg.ID, cfg))
	}
	for _, u := range src.URLs {
		if u.RedirectTo != "" {
			continue
		}
		preview := &types.URLRoute{
			ID:             u.ID,
			Domain:         previewDomain(src.Slug, target.ID, c.rootDomain),
			BasePath:       u.BasePath,
			StripPrefix:    u.StripPrefix,
			AssociatedPort: u.AssociatedPort,
		}
		changes = append(changes, c.addChange(types.FieldURL, u.ID, preview))
	}

	return changes
}

// change builds a scalar-field (non-list-valued) change: Source, Command,
// Healthcheck, Resources, BuilderOptions. ChangeUpdate is correct here even
// against a brand-new service since these fields carry no per-item
// existence check (see pkg/ledger/validation.go's requireExistingItem).
func (c *Cloner) change(field types.ChangeField, itemID string, payload interface{}) *types.Change {
	return c.newChange(field, types.ChangeUpdate, itemID, payload)
}

// addChange builds a list-valued-field change (EnvVar/Volume/Config/URL).
// These must be ChangeAdd: a cloned service starts with empty lists, and
// ChangeUpdate against a list-valued field requires the item already be
// present (requireExistingItem), which a fresh clone never satisfies.
func (c *Cloner) addChange(field types.ChangeField, itemID string, payload interface{}) *types.Change {
	return c.newChange(field, types.ChangeAdd, itemID, payload)
}

func (c *Cloner) newChange(field types.ChangeField, typ types.ChangeType, itemID string, payload interface{}) *types.Change {
	raw, _ := json.Marshal(payload)
	return &types.Change{
		ID:        uuid.New().String(),
		Field:     field,
		Type:      typ,
		ItemID:    itemID,
		NewValue:  string(raw),
		CreatedAt: time.Now(),
	}
}

// previewDomain synthesises a domain unique within the target environment
// (spec.md §4.8), derived from the target environment's id so repeated
// clones of the same source never collide with each other.
func previewDomain(slug, targetEnvironmentID, rootDomain string) string {
	suffix := targetEnvironmentID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s-%s.%s", slug, suffix, rootDomain)
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sourcePayload mirrors pkg/ledger's unexported wire shape for a
// FieldSource change (see pkg/ledger/validation.go) so a cloned source
// decodes identically on apply.
type sourcePayload struct {
	SourceType         types.ServiceSourceType    `json:"source_type"`
	Image              string                     `json:"image,omitempty"`
	RegistryAlias      string                     `json:"registry_alias,omitempty"`
	RegistryCredential *types.RegistryCredential  `json:"registry_credential,omitempty"`
	RepositoryURL      string                     `json:"repository_url,omitempty"`
	Branch             string                     `json:"branch,omitempty"`
	CommitSHA          string                     `json:"commit_sha,omitempty"`
	Builder            types.BuilderType          `json:"builder,omitempty"`
}

// envVarPayload mirrors pkg/ledger's unexported FieldEnvVar wire shape.
type envVarPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
