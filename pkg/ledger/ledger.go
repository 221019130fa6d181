// Package ledger implements the Change Ledger (spec.md §4.1/C4): it
// accumulates pending Changes against a Service, validates each one against
// the service's currently-applied state plus everything already pending,
// and atomically applies the whole pending set into an immutable Snapshot
// carried by a new Deployment.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/types"
	"github.com/google/uuid"
)

// reservedDomains can never be claimed by a service URL (spec.md §4.1).
var reservedDomains = map[string]bool{
	"zaneapps.internal": true,
	"zane.internal":      true,
}

// Error is a typed ledger failure; callers switch on Kind to decide how to
// surface it (spec.md §4.1 Failure semantics).
type Error struct {
	Kind   string // invalid_change | conflict | not_found
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Reason) }

func invalidChange(format string, a ...interface{}) error {
	return &Error{Kind: "invalid_change", Reason: fmt.Sprintf(format, a...)}
}

func conflict(format string, a ...interface{}) error {
	return &Error{Kind: "conflict", Reason: fmt.Sprintf(format, a...)}
}

func notFound(format string, a ...interface{}) error {
	return &Error{Kind: "not_found", Reason: fmt.Sprintf(format, a...)}
}

// RegistryProbe validates that an image + credential pair is pullable. The
// default implementation is a no-op (spec.md's registry probe hook has no
// concrete registry client in this build); callers that wire pkg/runtime's
// registry support replace it.
type RegistryProbe func(image string, cred *types.RegistryCredential) error

// Ledger applies Change Ledger operations against services held by a
// manager.Manager, the control plane's single Raft-backed state machine.
type Ledger struct {
	mgr     *manager.Manager
	probe   RegistryProbe
	rootDom string
}

// New creates a Ledger backed by mgr. rootDomain is the parent domain of
// the default URL Apply synthesises ("$slug.$root_domain"; the environment
// is not part of it).
func New(mgr *manager.Manager, rootDomain string) *Ledger {
	if rootDomain == "" {
		rootDomain = types.RootDomain
	}
	return &Ledger{mgr: mgr, probe: func(string, *types.RegistryCredential) error { return nil }, rootDom: rootDomain}
}

// WithRegistryProbe overrides the image/credential cross-validation hook.
func (l *Ledger) WithRegistryProbe(p RegistryProbe) *Ledger {
	l.probe = p
	return l
}

// probeSource runs the registry probe against a FieldSource change's
// docker_image payload, if it carries a registry credential (spec.md §4.1:
// "image/credential pair must resolve against the registry").
func (l *Ledger) probeSource(change *types.Change) error {
	var v sourcePayload
	if err := decode(change.NewValue, &v); err != nil {
		return invalidChange("malformed source payload: %v", err)
	}
	if v.SourceType != types.ServiceSourceDockerImage || v.RegistryCredential == nil {
		return nil
	}
	if err := l.probe(v.Image, v.RegistryCredential); err != nil {
		return invalidChange("registry probe failed for %s: %v", v.Image, err)
	}
	return nil
}

// RequestChange validates change against service's live state plus all
// already-pending changes and, on success, persists it as a new pending
// Change.
func (l *Ledger) RequestChange(service *types.Service, change *types.Change) error {
	pending, err := l.mgr.ListPendingChanges(service.ID)
	if err != nil {
		return fmt.Errorf("list pending changes: %w", err)
	}
	pending = sortedByCreation(pending)

	working, err := effective(service, pending)
	if err != nil {
		return err
	}

	if err := validateChange(working, change); err != nil {
		return err
	}
	if change.Field == types.FieldSource {
		if err := l.probeSource(change); err != nil {
			return err
		}
	}

	// Apply to a scratch copy to confirm the resulting state is internally
	// consistent (e.g. doesn't strand an http_path healthcheck with no URL
	// or forwarded port left to serve it).
	scratch := cloneService(working)
	if err := applyChangeToService(scratch, change); err != nil {
		return err
	}
	if err := validateInvariants(scratch); err != nil {
		return err
	}

	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	change.ServiceID = service.ID
	change.Applied = false
	change.CreatedAt = time.Now()

	if err := l.mgr.CreateChange(change); err != nil {
		return fmt.Errorf("persist change: %w", err)
	}

	log.Logger.Info().
		Str("component", "ledger").
		Str("service_id", service.ID).
		Str("change_id", change.ID).
		Str("field", string(change.Field)).
		Str("type", string(change.Type)).
		Msg("change requested")
	return nil
}

// CancelChange removes a pending change, rejecting the cancellation if the
// resulting pending set would violate a service invariant.
func (l *Ledger) CancelChange(service *types.Service, changeID string) error {
	pending, err := l.mgr.ListPendingChanges(service.ID)
	if err != nil {
		return fmt.Errorf("list pending changes: %w", err)
	}
	pending = sortedByCreation(pending)

	idx := -1
	for i, c := range pending {
		if c.ID == changeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return notFound("no pending change %s on service %s", changeID, service.ID)
	}

	remaining := append(append([]*types.Change{}, pending[:idx]...), pending[idx+1:]...)
	working, err := effective(service, remaining)
	if err != nil {
		return err
	}
	if err := validateInvariants(working); err != nil {
		return conflict("cancelling change %s would leave service invalid: %v", changeID, err)
	}

	if err := l.mgr.DeleteChange(changeID); err != nil {
		return fmt.Errorf("delete change: %w", err)
	}
	log.Logger.Info().
		Str("component", "ledger").
		Str("service_id", service.ID).
		Str("change_id", changeID).
		Msg("change cancelled")
	return nil
}

// Apply computes the fully-merged service state from every pending change,
// persists it onto the live service, and clones it into a Snapshot carried
// by a new Deployment. Change -> Snapshot -> Deployment creation is one
// logical step (spec.md §4.6): a caller that wants the atomicity guarantee
// should hold the service's deploy semaphore (pkg/semaphore) around Apply.
func (l *Ledger) Apply(service *types.Service) (*types.Snapshot, *types.Deployment, error) {
	pending, err := l.mgr.ListPendingChanges(service.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list pending changes: %w", err)
	}
	pending = sortedByCreation(pending)

	merged, err := effective(service, pending)
	if err != nil {
		return nil, nil, err
	}
	autoCreateDefaultURL(merged, l.rootDom)

	if err := validateInvariants(merged); err != nil {
		return nil, nil, invalidChange("merged state invalid: %v", err)
	}

	now := time.Now()
	deployment := &types.Deployment{
		ID:            uuid.New().String(),
		ServiceID:     merged.ID,
		EnvironmentID: merged.EnvironmentID,
		ProjectID:     merged.ProjectID,
		QueuedAt:      now,
		Status:        types.StatusQueued,
		Step:          types.StepInitialized,
	}
	deployment.Hash = "dpl-" + types.DeploymentIDShort(deployment.ID)

	prev, err := l.mgr.GetCurrentProductionDeployment(service.ID)
	if err == nil && prev != nil {
		deployment.PreviousDeploymentID = prev.ID
		if prev.Status == types.StatusFailed && prev.Step < types.StepSwarmServiceCreated {
			deployment.Slot = prev.Slot
		} else {
			deployment.Slot = prev.Slot.Other()
		}
	} else {
		deployment.Slot = types.SlotBlue
	}
	deployment.NetworkAlias = fmt.Sprintf("%s-%s", strings.ToLower(string(deployment.Slot)), merged.NetworkAlias)

	snapshot := snapshotFromService(merged)
	deployment.Snapshot = snapshot

	for _, c := range pending {
		c.Applied = true
		c.DeploymentID = deployment.ID
		deployment.ChangeIDs = append(deployment.ChangeIDs, c.ID)
		if err := l.mgr.UpdateChange(c); err != nil {
			return nil, nil, fmt.Errorf("mark change applied: %w", err)
		}
	}

	merged.PendingChanges = nil
	merged.UpdatedAt = now
	if err := l.mgr.UpdateService(merged); err != nil {
		return nil, nil, fmt.Errorf("persist merged service: %w", err)
	}

	if err := l.mgr.CreateDeployment(deployment); err != nil {
		return nil, nil, fmt.Errorf("create deployment: %w", err)
	}

	log.Logger.Info().
		Str("component", "ledger").
		Str("service_id", service.ID).
		Str("deployment_id", deployment.ID).
		Str("hash", deployment.Hash).
		Int("changes_applied", len(pending)).
		Msg("change set applied")
	return snapshot, deployment, nil
}

func sortedByCreation(changes []*types.Change) []*types.Change {
	out := append([]*types.Change{}, changes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// effective returns a copy of service with every pending change folded in,
// in insertion order, per spec.md §4.1 ordering rules.
func effective(service *types.Service, pending []*types.Change) (*types.Service, error) {
	working := cloneService(service)
	for _, c := range pending {
		if err := applyChangeToService(working, c); err != nil {
			return nil, fmt.Errorf("apply pending change %s: %w", c.ID, err)
		}
	}
	return working, nil
}

func cloneService(s *types.Service) *types.Service {
	out := *s
	out.EnvVars = cloneMap(s.EnvVars)
	out.Volumes = cloneVolumes(s.Volumes)
	out.Configs = cloneConfigs(s.Configs)
	out.Ports = clonePorts(s.Ports)
	out.URLs = cloneURLs(s.URLs)
	if s.Healthcheck != nil {
		hc := *s.Healthcheck
		out.Healthcheck = &hc
	}
	if s.Resources != nil {
		r := *s.Resources
		out.Resources = &r
	}
	if s.RegistryCredential != nil {
		rc := *s.RegistryCredential
		out.RegistryCredential = &rc
	}
	out.PendingChanges = nil
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneVolumes(v []*types.Volume) []*types.Volume {
	out := make([]*types.Volume, len(v))
	for i, x := range v {
		c := *x
		out[i] = &c
	}
	return out
}

func cloneConfigs(v []*types.Config) []*types.Config {
	out := make([]*types.Config, len(v))
	for i, x := range v {
		c := *x
		out[i] = &c
	}
	return out
}

func clonePorts(v []*types.PortMapping) []*types.PortMapping {
	out := make([]*types.PortMapping, len(v))
	for i, x := range v {
		c := *x
		out[i] = &c
	}
	return out
}

func cloneURLs(v []*types.URLRoute) []*types.URLRoute {
	out := make([]*types.URLRoute, len(v))
	for i, x := range v {
		c := *x
		out[i] = &c
	}
	return out
}

func snapshotFromService(s *types.Service) *types.Snapshot {
	return &types.Snapshot{
		ServiceID:          s.ID,
		EnvironmentID:      s.EnvironmentID,
		ProjectID:          s.ProjectID,
		Slug:               s.Slug,
		NetworkAlias:       s.NetworkAlias,
		SourceType:         s.SourceType,
		Image:              s.Image,
		RegistryAlias:      s.RegistryAlias,
		RegistryCredential: s.RegistryCredential,
		RepositoryURL:      s.RepositoryURL,
		Branch:             s.Branch,
		CommitSHA:          s.CommitSHA,
		Builder:            s.Builder,
		BuilderOpts:        s.BuilderOpts,
		Command:            s.Command,
		EnvVars:            cloneMap(s.EnvVars),
		Volumes:            cloneVolumes(s.Volumes),
		Configs:            cloneConfigs(s.Configs),
		Ports:              clonePorts(s.Ports),
		URLs:               cloneURLs(s.URLs),
		Healthcheck:        s.Healthcheck,
		Resources:          s.Resources,
	}
}

func decode(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
