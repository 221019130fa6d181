/*
Package build implements the Build Pipeline (C5): cloning a service's
repository, synthesising builder inputs for each of the four Git builder
types, and invoking the image build (spec.md §4.2.3 steps 4-7, §4.4). Like
pkg/embedded and pkg/runtime, it drives external tooling (git, docker
buildx) through os/exec rather than a client library, since neither has a
stable Go API for what this package needs.
*/
package build

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/types"
)

// CloneResult is the outcome of checking out a repository at a ref.
type CloneResult struct {
	Dir           string
	CommitSHA     string
	CommitAuthor  string
	CommitMessage string
}

// Plan is the generated build input for one of the four Git builders.
type Plan struct {
	DockerfilePath    string
	BuildContext      string
	DefaultEnv        map[string]string
	CaddyfileContents string // non-empty only for static variants
}

// Pipeline runs clone, plan synthesis and image build activities.
type Pipeline struct {
	runCmd func(ctx context.Context, dir, name string, args ...string) *exec.Cmd
}

// NewPipeline creates a Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{runCmd: commandIn}
}

func commandIn(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd
}

// Clone checks out repoURL at ref (a commit SHA, or "" for the branch
// HEAD) into a fresh temp directory. Distinguishes clone_failed (the
// repository itself could not be reached) from checkout_failed (the ref
// does not exist in an otherwise-reachable repository).
func (p *Pipeline) Clone(ctx context.Context, repoURL, branch, ref string) (*CloneResult, error) {
	dir, err := os.MkdirTemp("", "warren-build-*")
	if err != nil {
		return nil, fmt.Errorf("fatal: create temp dir: %w", err)
	}

	args := []string{"clone", "--depth", "50"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dir)

	cmd := p.runCmd(ctx, "", "git", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("clone_failed: %w (%s)", err, strings.TrimSpace(out.String()))
	}

	if ref != "" {
		checkout := p.runCmd(ctx, dir, "git", "checkout", ref)
		var cout bytes.Buffer
		checkout.Stdout = &cout
		checkout.Stderr = &cout
		if err := checkout.Run(); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("checkout_failed: %w (%s)", err, strings.TrimSpace(cout.String()))
		}
	}

	sha, _ := p.runOutput(ctx, dir, "git", "rev-parse", "HEAD")
	author, _ := p.runOutput(ctx, dir, "git", "log", "-1", "--format=%an")
	message, _ := p.runOutput(ctx, dir, "git", "log", "-1", "--format=%s")

	return &CloneResult{
		Dir:           dir,
		CommitSHA:     strings.TrimSpace(sha),
		CommitAuthor:  strings.TrimSpace(author),
		CommitMessage: strings.TrimSpace(message),
	}, nil
}

func (p *Pipeline) runOutput(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := p.runCmd(ctx, dir, name, args...)
	out, err := cmd.Output()
	return string(out), err
}

// SynthesizePlan produces the Dockerfile/context/env a build will use,
// per the builder declared on the service (spec.md §4.2.3 step 5).
func (p *Pipeline) SynthesizePlan(svc *types.Snapshot, workDir string, buildEnv map[string]string) (*Plan, error) {
	switch svc.Builder {
	case types.BuilderDockerfile:
		return p.planDockerfile(svc, workDir, buildEnv)
	case types.BuilderStaticDir:
		return p.planStaticDir(svc, workDir)
	case types.BuilderNixpacks:
		return p.planNixpacks(svc, workDir, buildEnv)
	case types.BuilderRailpack:
		return p.planRailpack(svc, workDir)
	default:
		return nil, fmt.Errorf("build_failed: unknown builder %q", svc.Builder)
	}
}

func (p *Pipeline) planDockerfile(svc *types.Snapshot, workDir string, buildEnv map[string]string) (*Plan, error) {
	opts := svc.BuilderOpts
	dockerfilePath := "Dockerfile"
	buildContext := "."
	if opts.DockerfilePath != "" {
		dockerfilePath = opts.DockerfilePath
	}
	if opts.BuildContext != "" {
		buildContext = opts.BuildContext
	}

	envPath := filepath.Join(workDir, buildContext, ".env")
	if err := writeEnvFile(envPath, buildEnv); err != nil {
		return nil, fmt.Errorf("build_failed: write .env: %w", err)
	}

	return &Plan{
		DockerfilePath: filepath.Join(workDir, dockerfilePath),
		BuildContext:   filepath.Join(workDir, buildContext),
		DefaultEnv:     buildEnv,
	}, nil
}

func (p *Pipeline) planStaticDir(svc *types.Snapshot, workDir string) (*Plan, error) {
	opts := svc.BuilderOpts
	publishDir := "."
	indexPage := "index.html"
	if opts.PublishDirectory != "" {
		publishDir = opts.PublishDirectory
	}
	if opts.IndexPage != "" {
		indexPage = opts.IndexPage
	}
	notFoundPage := opts.NotFoundPage
	isSPA := opts.IsSPA

	caddyfilePath := filepath.Join(workDir, "Caddyfile")
	var caddyfile string
	if data, err := os.ReadFile(caddyfilePath); err == nil {
		caddyfile = string(data)
	} else {
		caddyfile = synthesizeCaddyfile(isSPA, indexPage, notFoundPage)
	}

	dockerfile := fmt.Sprintf("FROM caddy:2-alpine\nCOPY %s /srv\nCOPY Caddyfile /etc/caddy/Caddyfile\n", publishDir)
	dockerfilePath := filepath.Join(workDir, "Dockerfile.warren-static")
	if err := os.WriteFile(dockerfilePath, []byte(dockerfile), 0o644); err != nil {
		return nil, fmt.Errorf("build_failed: write generated dockerfile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "Caddyfile"), []byte(caddyfile), 0o644); err != nil {
		return nil, fmt.Errorf("build_failed: write generated Caddyfile: %w", err)
	}

	return &Plan{
		DockerfilePath:    dockerfilePath,
		BuildContext:      workDir,
		CaddyfileContents: caddyfile,
	}, nil
}

func synthesizeCaddyfile(isSPA bool, indexPage, notFoundPage string) string {
	if isSPA {
		return fmt.Sprintf(":80 {\n\troot * /srv\n\ttry_files {path} /%s\n\tfile_server\n}\n", indexPage)
	}
	if notFoundPage != "" {
		return fmt.Sprintf(":80 {\n\troot * /srv\n\thandle_errors 404 {\n\t\trewrite * /%s\n\t\tfile_server\n\t}\n\tfile_server\n}\n", notFoundPage)
	}
	return ":80 {\n\troot * /srv\n\tfile_server\n}\n"
}

func (p *Pipeline) planNixpacks(svc *types.Snapshot, workDir string, buildEnv map[string]string) (*Plan, error) {
	args := []string{"plan", "."}
	for k, v := range buildEnv {
		args = append(args, "--env", fmt.Sprintf("%s=%s", k, v))
	}
	out, err := p.runOutput(context.Background(), workDir, "nixpacks", args...)
	if err != nil {
		return nil, fmt.Errorf("build_failed: nixpacks plan: %w (%s)", err, strings.TrimSpace(out))
	}

	dockerfilePath := filepath.Join(workDir, ".nixpacks", "Dockerfile")
	opts := svc.BuilderOpts
	if opts.IsSPA {
		// Static mode: append a stage copying the build output into Caddy.
		existing, _ := os.ReadFile(dockerfilePath)
		publishDir := opts.PublishDirectory
		if publishDir == "" {
			publishDir = "/app/dist"
		}
		appended := string(existing) + fmt.Sprintf("\nFROM caddy:2-alpine AS static\nCOPY --from=0 %s /srv\n", publishDir)
		if err := os.WriteFile(dockerfilePath, []byte(appended), 0o644); err != nil {
			return nil, fmt.Errorf("build_failed: append static stage: %w", err)
		}
	}

	return &Plan{
		DockerfilePath: dockerfilePath,
		BuildContext:   workDir,
		DefaultEnv:     buildEnv,
	}, nil
}

func (p *Pipeline) planRailpack(svc *types.Snapshot, workDir string) (*Plan, error) {
	config := map[string]interface{}{
		"provider": "railpack",
	}
	opts := svc.BuilderOpts
	if opts.IsSPA {
		config["deploy"] = map[string]interface{}{
			"caddy": map[string]interface{}{
				"asset":      "Caddyfile",
				"publicRoot": opts.PublishDirectory,
			},
		}
		caddyfile := synthesizeCaddyfile(true, opts.IndexPage, opts.NotFoundPage)
		if err := os.WriteFile(filepath.Join(workDir, "Caddyfile"), []byte(caddyfile), 0o644); err != nil {
			return nil, fmt.Errorf("build_failed: write Caddyfile: %w", err)
		}
	}

	configPath := filepath.Join(workDir, "railpack.json")
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("build_failed: marshal railpack config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("build_failed: write railpack config: %w", err)
	}

	return &Plan{BuildContext: workDir}, nil
}

var successPattern = regexp.MustCompile(`(?i)successfully built ([0-9a-f]+)`)
var shaPattern = regexp.MustCompile(`sha256:([0-9a-f]{12,64})`)

// BuildImage runs `docker buildx build` against plan using builderName,
// streaming stdout line by line to logSink (the C3 forwarder) with ANSI
// preserved, up to 1000 chars per line (spec.md §4.4). Returns the image
// id found in the build output.
func (p *Pipeline) BuildImage(ctx context.Context, builderName string, builderType types.BuilderType, plan *Plan, imageTag string, buildArgs map[string]string, noCache bool, stageTarget string, logSink io.Writer) (string, error) {
	timer := metrics.NewTimer()
	outcome := "success"
	defer func() {
		timer.ObserveDurationVec(metrics.BuildDuration, string(builderType))
		metrics.BuildsTotal.WithLabelValues(string(builderType), outcome).Inc()
	}()

	args := []string{"buildx", "build", "--builder", builderName, "--load", "--tag", imageTag}
	if plan.DockerfilePath != "" {
		args = append(args, "--file", plan.DockerfilePath)
	}
	if noCache {
		args = append(args, "--no-cache")
	}
	if stageTarget != "" {
		args = append(args, "--target", stageTarget)
	}
	for k, v := range buildArgs {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, plan.BuildContext)

	cmd := p.runCmd(ctx, plan.BuildContext, "docker", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		outcome = "failed"
		return "", fmt.Errorf("build_failed: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	logger := log.WithComponent("build")
	if err := cmd.Start(); err != nil {
		outcome = "failed"
		return "", fmt.Errorf("build_failed: %w", err)
	}

	var imageID string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 1000 {
			line = line[:1000]
		}
		if logSink != nil {
			fmt.Fprintln(logSink, line)
		}
		logger.Debug().Str("image_tag", imageTag).Msg(line)

		if m := successPattern.FindStringSubmatch(line); len(m) == 2 {
			imageID = m[1]
		}
		if m := shaPattern.FindStringSubmatch(line); len(m) == 2 {
			imageID = m[1]
		}
	}

	if err := cmd.Wait(); err != nil {
		outcome = "failed"
		return "", fmt.Errorf("build_failed: %w", err)
	}
	if imageID == "" {
		imageID = imageTag
	}
	return imageID, nil
}

// Cleanup removes the temporary working directory created by Clone. It
// runs unconditionally in the orchestrator's terminal step, even when the
// deployment was cancelled (spec.md §4.4).
func (p *Pipeline) Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func writeEnvFile(path string, vars map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for k, v := range vars {
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}
