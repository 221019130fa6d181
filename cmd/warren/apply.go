package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/warren/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a service manifest",
	Long: `Apply reads a YAML service manifest, translates its spec into a
sequence of change-ledger requests (pkg/ledger.RequestChange), and applies
them in one deployment (pkg/ledger.Apply). Re-applying the same manifest
against an already-deployed service only submits the fields present in the
manifest; fields it omits are left at their current value. spec.source is
used only when the service is created; re-applying does not change an
existing service's source.

Example:
  warren apply -f service.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Manifest file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

// serviceManifest is the on-disk shape of a `warren apply` file. It mirrors
// the change-ledger's fields (pkg/ledger/validation.go) rather than
// types.Service directly: a manifest describes a desired source, not
// already-applied state like CurrentDeploymentID or PendingChanges.
type serviceManifest struct {
	Metadata struct {
		Slug          string `yaml:"slug"`
		EnvironmentID string `yaml:"environmentId"`
	} `yaml:"metadata"`
	Spec struct {
		Source struct {
			Type          types.ServiceSourceType `yaml:"type"`
			Image         string                  `yaml:"image,omitempty"`
			RegistryAlias string                  `yaml:"registryAlias,omitempty"`
			RepositoryURL string                  `yaml:"repositoryUrl,omitempty"`
			Branch        string                  `yaml:"branch,omitempty"`
			Builder       types.BuilderType       `yaml:"builder,omitempty"`
		} `yaml:"source"`
		Command     string                       `yaml:"command,omitempty"`
		Env         map[string]string             `yaml:"env,omitempty"`
		Healthcheck *types.Healthcheck            `yaml:"healthcheck,omitempty"`
		Resources   *types.ResourceRequirements   `yaml:"resources,omitempty"`
		Ports       []types.PortMapping           `yaml:"ports,omitempty"`
		URLs        []types.URLRoute              `yaml:"urls,omitempty"`
		Volumes     []types.Volume                `yaml:"volumes,omitempty"`
		Configs     []types.Config                `yaml:"configs,omitempty"`
	} `yaml:"spec"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var m serviceManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Metadata.Slug == "" {
		return fmt.Errorf("metadata.slug is required")
	}
	if m.Metadata.EnvironmentID == "" {
		return fmt.Errorf("metadata.environmentId is required")
	}

	client := newAPIClient(cmd)

	svc, err := findOrCreateService(client, &m)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Service: %s (%s)\n", svc.Slug, svc.ID)

	changes, err := manifestChanges(&m)
	if err != nil {
		return err
	}
	for _, c := range changes {
		if err := client.post(fmt.Sprintf("/v1/services/%s/changes", svc.ID), c, nil); err != nil {
			return fmt.Errorf("failed to submit %s change: %w", c.Field, err)
		}
	}
	fmt.Printf("✓ Submitted %d change(s)\n", len(changes))

	var result struct {
		ID string `json:"id"`
	}
	if err := client.post(fmt.Sprintf("/v1/services/%s/apply", svc.ID), nil, &result); err != nil {
		return fmt.Errorf("failed to apply: %w", err)
	}
	fmt.Printf("✓ Deployment started: %s\n", result.ID)
	fmt.Printf("  warren deployment get %s\n", result.ID)
	return nil
}

// findOrCreateService looks up a service by slug within the manifest's
// environment, creating it if it does not yet exist. Creation only needs
// enough to pass the ledger's initial validation; the rest of the manifest
// is layered on afterward as ordinary changes.
func findOrCreateService(client *apiClient, m *serviceManifest) (*types.Service, error) {
	var existing []*types.Service
	if err := client.get("/v1/services?environment_id="+m.Metadata.EnvironmentID, &existing); err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	for _, s := range existing {
		if s.Slug == m.Metadata.Slug {
			return s, nil
		}
	}

	svc := types.Service{
		EnvironmentID: m.Metadata.EnvironmentID,
		Slug:          m.Metadata.Slug,
		SourceType:    m.Spec.Source.Type,
		Image:         m.Spec.Source.Image,
		RegistryAlias: m.Spec.Source.RegistryAlias,
		RepositoryURL: m.Spec.Source.RepositoryURL,
		Branch:        m.Spec.Source.Branch,
		Builder:       m.Spec.Source.Builder,
	}
	var created types.Service
	if err := client.post("/v1/services", svc, &created); err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return &created, nil
}

// manifestChanges translates a manifest's spec into the ledger changes that
// bring a service to that state. Each NewValue is JSON-encoded in the shape
// pkg/ledger/validation.go decodes for that field. List-valued fields
// without a manifest-supplied ID get a deterministic one generated here so
// re-applying the same manifest upserts rather than duplicating entries.
func manifestChanges(m *serviceManifest) ([]*types.Change, error) {
	var changes []*types.Change

	if m.Spec.Command != "" {
		c, err := newChange(types.FieldCommand, types.ChangeUpdate, "", m.Spec.Command)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	for key, value := range m.Spec.Env {
		c, err := newChange(types.FieldEnvVar, types.ChangeAdd, key, struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}{Key: key, Value: value})
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if m.Spec.Healthcheck != nil {
		c, err := newChange(types.FieldHealthcheck, types.ChangeUpdate, "", m.Spec.Healthcheck)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if m.Spec.Resources != nil {
		c, err := newChange(types.FieldResources, types.ChangeUpdate, "", m.Spec.Resources)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	for i := range m.Spec.Ports {
		p := m.Spec.Ports[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("port-%d", p.ForwardedPort)
		}
		c, err := newChange(types.FieldPort, types.ChangeAdd, p.ID, p)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	for i := range m.Spec.URLs {
		u := m.Spec.URLs[i]
		if u.ID == "" {
			u.ID = fmt.Sprintf("url-%s-%s", u.Domain, u.BasePath)
		}
		c, err := newChange(types.FieldURL, types.ChangeAdd, u.ID, u)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	for i := range m.Spec.Volumes {
		v := m.Spec.Volumes[i]
		if v.ID == "" {
			v.ID = fmt.Sprintf("volume-%s", v.Name)
		}
		c, err := newChange(types.FieldVolume, types.ChangeAdd, v.ID, v)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	for i := range m.Spec.Configs {
		cfg := m.Spec.Configs[i]
		if cfg.ID == "" {
			cfg.ID = fmt.Sprintf("config-%s", cfg.Name)
		}
		c, err := newChange(types.FieldConfig, types.ChangeAdd, cfg.ID, cfg)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}

	return changes, nil
}

// newChange JSON-encodes payload into NewValue, the wire shape
// types.Change.NewValue expects (see pkg/ledger/validation.go's decode
// helper).
func newChange(field types.ChangeField, typ types.ChangeType, itemID string, payload interface{}) (*types.Change, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", field, err)
	}
	return &types.Change{
		Field:    field,
		Type:     typ,
		ItemID:   itemID,
		NewValue: string(raw),
	}, nil
}
