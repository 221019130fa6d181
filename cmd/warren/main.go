package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warren/pkg/api"
	"github.com/cuemby/warren/pkg/archiver"
	"github.com/cuemby/warren/pkg/build"
	"github.com/cuemby/warren/pkg/embedded"
	"github.com/cuemby/warren/pkg/environment"
	"github.com/cuemby/warren/pkg/health"
	"github.com/cuemby/warren/pkg/ledger"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/logsink"
	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/orchestrator"
	"github.com/cuemby/warren/pkg/proxy"
	"github.com/cuemby/warren/pkg/reconciler"
	"github.com/cuemby/warren/pkg/runtime"
	"github.com/cuemby/warren/pkg/semaphore"
	"github.com/cuemby/warren/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - a self-hosted PaaS control plane for a single Docker Swarm node",
	Long: `Warren turns a single Docker Swarm node into a self-hosted platform:
declare projects, environments, and services, then apply them to get
zero-downtime, health-gated, blue/green deployments behind a
programmable reverse proxy.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Warren version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("api", "http://127.0.0.1:8080", "Control plane API address")
	rootCmd.PersistentFlags().String("token", os.Getenv("WARREN_TOKEN"), "API bearer token (default: $WARREN_TOKEN)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(environmentCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(deploymentCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(secretCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// --- cluster ---

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the Warren control plane",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the control plane and run it in the foreground",
	Long: `Bootstrap initializes this node's Raft log, starts the deployment
orchestrator, reconciler, and proxy-facing API server, and blocks until
interrupted. There is exactly one node (spec.md §9 scopes multi-node
placement out); this command both creates and runs that node.`,
	RunE: runClusterInit,
}

func init() {
	clusterInitCmd.Flags().String("node-id", "warren-0", "Node identifier")
	clusterInitCmd.Flags().String("bind-addr", "127.0.0.1:7000", "Raft transport bind address")
	clusterInitCmd.Flags().String("api-addr", "0.0.0.0:8080", "API server bind address")
	clusterInitCmd.Flags().String("health-addr", "127.0.0.1:8081", "Health/metrics server bind address")
	clusterInitCmd.Flags().String("data-dir", "./data", "Raft + BoltDB data directory")
	clusterInitCmd.Flags().String("root-domain", "zaneapps.internal", "Default domain suffix for auto-generated service URLs")
	clusterInitCmd.Flags().String("proxy-addr", "http://127.0.0.1:2019", "Reverse proxy admin API address")
	clusterInitCmd.Flags().String("logsink-addr", "http://127.0.0.1:8082", "Build/runtime log sink endpoint")
	clusterCmd.AddCommand(clusterInitCmd)
}

func runClusterInit(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	rootDomain, _ := cmd.Flags().GetString("root-domain")
	proxyAddr, _ := cmd.Flags().GetString("proxy-addr")
	logsinkAddr, _ := cmd.Flags().GetString("logsink-addr")

	fmt.Println("Initializing Warren control plane...")
	fmt.Printf("  Node ID:      %s\n", nodeID)
	fmt.Printf("  Raft Address: %s\n", bindAddr)
	fmt.Printf("  API Address:  %s\n", apiAddr)
	fmt.Printf("  Data Dir:     %s\n", dataDir)
	fmt.Println()

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	if err := mgr.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap control plane: %w", err)
	}
	fmt.Println("✓ Raft log bootstrapped")

	node := &types.Node{
		ID:        nodeID,
		Hostname:  nodeID,
		Address:   bindAddr,
		CreatedAt: time.Now(),
	}
	if err := mgr.CreateNode(node); err != nil {
		fmt.Printf("Warning: failed to register node record: %v\n", err)
	}

	sem := semaphore.NewRegistry()
	rt := runtime.NewSwarmRuntime()
	bp := build.NewPipeline()
	px := proxy.NewClient(proxyAddr)
	be := embedded.NewBuilderEnsurer()
	mon := health.NewMonitor(mgr, rt)
	logs := logsink.NewForwarder(logsinkAddr)

	orch := orchestrator.New(mgr, sem, rt, bp, px, be, mon, mgr.SecretsManager(), logs, rootDomain)
	l := ledger.New(mgr, rootDomain)
	arch := archiver.New(mgr, px, mon, rt, be)
	cloner := environment.New(mgr, l, orch, rootDomain)

	recon := reconciler.NewReconciler(mgr, sem)
	recon.Start()
	fmt.Println("✓ Reconciler started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go logs.Run(ctx)

	healthSrv := api.NewHealthServer(mgr)
	go func() {
		if err := healthSrv.Start(healthAddr); err != nil {
			log.Logger.Error().Err(err).Msg("health server stopped")
		}
	}()
	fmt.Printf("✓ Health/metrics:  http://%s/{health,ready,metrics}\n", healthAddr)

	apiSrv := api.NewServer(mgr, l, orch, arch, cloner)
	errCh := make(chan error, 1)
	go func() {
		if err := apiSrv.Start(ctx, apiAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)
	fmt.Printf("✓ API listening:   http://%s\n", apiAddr)

	cliToken, err := mgr.GenerateJoinToken("cli")
	if err != nil {
		fmt.Printf("Warning: failed to generate CLI token: %v\n", err)
	} else {
		fmt.Println()
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println("  CLI access token (valid 24h)")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Printf("  %s\n", cliToken.Token)
		fmt.Println()
		fmt.Println("Export it for subsequent CLI calls:")
		fmt.Printf("  export WARREN_TOKEN=%s\n", cliToken.Token)
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}

	fmt.Println()
	fmt.Println("Control plane running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	cancel()
	recon.Stop()
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}
