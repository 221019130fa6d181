package main

import (
	"fmt"

	"github.com/cuemby/warren/pkg/types"
	"github.com/spf13/cobra"
)

// --- projects ---

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create SLUG",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p types.Project
		if err := newAPIClient(cmd).post("/v1/projects", types.Project{Slug: args[0]}, &p); err != nil {
			return err
		}
		fmt.Printf("✓ Project created: %s\n  ID: %s\n", p.Slug, p.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		var projects []*types.Project
		if err := newAPIClient(cmd).get("/v1/projects", &projects); err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("%s\t%s\n", p.ID, p.Slug)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(cmd).delete("/v1/projects/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Project deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectDeleteCmd)
}

// --- environments ---

var environmentCmd = &cobra.Command{
	Use:   "environment",
	Short: "Manage environments",
}

var environmentCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new environment within a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		var e types.Environment
		req := types.Environment{ProjectID: projectID, Name: args[0]}
		if err := newAPIClient(cmd).post("/v1/environments", req, &e); err != nil {
			return err
		}
		fmt.Printf("✓ Environment created: %s\n  ID: %s\n", e.Name, e.ID)
		return nil
	},
}

var environmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List environments in a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		var envs []*types.Environment
		if err := newAPIClient(cmd).get("/v1/environments?project_id="+projectID, &envs); err != nil {
			return err
		}
		for _, e := range envs {
			fmt.Printf("%s\t%s\n", e.ID, e.Name)
		}
		return nil
	},
}

var environmentDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(cmd).delete("/v1/environments/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Environment deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	environmentCreateCmd.Flags().String("project", "", "Project ID (required)")
	_ = environmentCreateCmd.MarkFlagRequired("project")
	environmentListCmd.Flags().String("project", "", "Project ID (required)")
	_ = environmentListCmd.MarkFlagRequired("project")
	environmentCmd.AddCommand(environmentCreateCmd, environmentListCmd, environmentDeleteCmd)
}

// --- services ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage services",
}

var serviceCreateCmd = &cobra.Command{
	Use:   "create SLUG",
	Short: "Declare a new service (docker_image or git source)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		envID, _ := cmd.Flags().GetString("environment")
		image, _ := cmd.Flags().GetString("image")
		repoURL, _ := cmd.Flags().GetString("git")
		branch, _ := cmd.Flags().GetString("branch")

		svc := types.Service{
			EnvironmentID: envID,
			Slug:          args[0],
		}
		if repoURL != "" {
			svc.SourceType = types.ServiceSourceGit
			svc.RepositoryURL = repoURL
			svc.Branch = branch
			svc.Builder = types.BuilderDockerfile
		} else {
			svc.SourceType = types.ServiceSourceDockerImage
			svc.Image = image
		}

		var created types.Service
		if err := newAPIClient(cmd).post("/v1/services", svc, &created); err != nil {
			return err
		}
		fmt.Printf("✓ Service declared: %s\n  ID:           %s\n  Deploy token: %s\n", created.Slug, created.ID, created.DeployToken)
		fmt.Println("  Use `warren service change` to configure it, then `warren service apply` to deploy.")
		return nil
	},
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List services in an environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		envID, _ := cmd.Flags().GetString("environment")
		var services []*types.Service
		if err := newAPIClient(cmd).get("/v1/services?environment_id="+envID, &services); err != nil {
			return err
		}
		for _, s := range services {
			fmt.Printf("%s\t%s\t%s\n", s.ID, s.Slug, s.SourceType)
		}
		return nil
	},
}

var serviceGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a service's declared state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var s types.Service
		if err := newAPIClient(cmd).get("/v1/services/"+args[0], &s); err != nil {
			return err
		}
		fmt.Printf("ID:          %s\nSlug:        %s\nSource:      %s\nCurrent:     %s\nPending:     %d change(s)\n",
			s.ID, s.Slug, s.SourceType, s.CurrentDeploymentID, len(s.PendingChanges))
		return nil
	},
}

var serviceDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Archive a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(cmd).delete("/v1/services/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Service archived: %s\n", args[0])
		return nil
	},
}

var serviceChangeCmd = &cobra.Command{
	Use:   "change ID",
	Short: "Request a change against a service's pending set (applied on `service apply`)",
	Long: `Queues a single field change into the Change Ledger. --field and
--value are required; --type is one of add/update/delete ("update" for
scalar fields like source or healthcheck, any of the three for
list-valued fields like volumes/configs/ports/urls combined with
--item-id).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, _ := cmd.Flags().GetString("field")
		changeType, _ := cmd.Flags().GetString("type")
		itemID, _ := cmd.Flags().GetString("item-id")
		value, _ := cmd.Flags().GetString("value")

		change := types.Change{
			Field:    types.ChangeField(field),
			Type:     types.ChangeType(changeType),
			ItemID:   itemID,
			NewValue: value,
		}
		var created types.Change
		if err := newAPIClient(cmd).post("/v1/services/"+args[0]+"/changes", change, &created); err != nil {
			return err
		}
		fmt.Printf("✓ Change queued: %s (%s)\n", created.ID, created.Field)
		return nil
	},
}

var serviceApplyCmd = &cobra.Command{
	Use:   "apply ID",
	Short: "Apply pending changes and start a deployment",
	Long: `Folds every pending change into a new snapshot and hands it to the
deployment orchestrator. Returns immediately with the queued deployment;
poll it with "warren deployment get" or tail logs via the log sink.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dep map[string]interface{}
		if err := newAPIClient(cmd).post("/v1/services/"+args[0]+"/apply", nil, &dep); err != nil {
			return err
		}
		fmt.Printf("✓ Deployment queued: %v\n", dep["id"])
		return nil
	},
}

func init() {
	serviceCreateCmd.Flags().String("environment", "", "Environment ID (required)")
	_ = serviceCreateCmd.MarkFlagRequired("environment")
	serviceCreateCmd.Flags().String("image", "", "Docker image (for docker_image services)")
	serviceCreateCmd.Flags().String("git", "", "Git repository URL (for git services)")
	serviceCreateCmd.Flags().String("branch", "main", "Git branch")

	serviceListCmd.Flags().String("environment", "", "Environment ID (required)")
	_ = serviceListCmd.MarkFlagRequired("environment")

	serviceChangeCmd.Flags().String("field", "", "Field to change (required)")
	_ = serviceChangeCmd.MarkFlagRequired("field")
	serviceChangeCmd.Flags().String("type", "update", "Change type: add, update, delete")
	serviceChangeCmd.Flags().String("item-id", "", "Item ID for list-valued fields")
	serviceChangeCmd.Flags().String("value", "", "New value, JSON-encoded for structured fields")

	serviceCmd.AddCommand(serviceCreateCmd, serviceListCmd, serviceGetCmd, serviceDeleteCmd, serviceChangeCmd, serviceApplyCmd)
}

// --- deployments ---

var deploymentCmd = &cobra.Command{
	Use:   "deployment",
	Short: "Inspect and cancel deployments",
}

var deploymentGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a deployment's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var d types.Deployment
		if err := newAPIClient(cmd).get("/v1/deployments/"+args[0], &d); err != nil {
			return err
		}
		fmt.Printf("ID:     %s\nStatus: %s\nStep:   %s\n", d.ID, d.Status, d.Step)
		if d.StatusReason != "" {
			fmt.Printf("Reason: %s\n", d.StatusReason)
		}
		return nil
	},
}

var deploymentCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Request cancellation of an in-flight deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(cmd).post("/v1/deployments/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		fmt.Printf("✓ Cancellation requested: %s\n", args[0])
		return nil
	},
}

func init() {
	deploymentCmd.AddCommand(deploymentGetCmd, deploymentCancelCmd)
}

// --- nodes ---

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect the cluster's (single) node",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var nodes []*types.Node
		if err := newAPIClient(cmd).get("/v1/nodes", &nodes); err != nil {
			return err
		}
		for _, n := range nodes {
			fmt.Printf("%s\t%s\t%s\n", n.ID, n.Hostname, n.Address)
		}
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
}

// --- secrets ---

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted secrets",
}

var secretCreateCmd = &cobra.Command{
	Use:   "create NAME VALUE",
	Short: "Store an encrypted secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"name": args[0], "data": args[1]}
		var out map[string]interface{}
		if err := newAPIClient(cmd).post("/v1/secrets", body, &out); err != nil {
			return err
		}
		fmt.Printf("✓ Secret created: %s\n  ID: %v\n", args[0], out["id"])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(cmd).delete("/v1/secrets/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Secret deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretCreateCmd, secretDeleteCmd)
}
