/*
Package embedded ensures the per-environment buildkit builder the Build
Pipeline (C5) needs exists before a Git deployment's image build step runs
(spec.md §4.2.3 step 6): "Ensure a buildkit builder exists for the
environment (named builder-zane-<env_id>, attached to the env overlay
network). Create on demand."

This is not an embedded-containerd binary manager: running containerd
inside a VM on macOS has no role here (pkg/runtime drives the container
orchestration daemon through the docker CLI). What this package keeps is
the "ensure a long-lived helper exists, create it on demand" shape, now
pointed at `docker buildx` builder instances instead of containerd itself;
a builder is not monitored once it exists.
*/
package embedded

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/cuemby/warren/pkg/log"
)

// BuilderName is the deterministic buildx builder name for an environment.
func BuilderName(environmentID string) string {
	return fmt.Sprintf("builder-zane-%s", environmentID)
}

// BuilderEnsurer creates buildx builders on demand and remembers which
// environments already have one, so repeated deploys don't re-shell-out.
type BuilderEnsurer struct {
	mu      sync.Mutex
	ensured map[string]bool
	runCmd  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewBuilderEnsurer creates a new BuilderEnsurer.
func NewBuilderEnsurer() *BuilderEnsurer {
	return &BuilderEnsurer{
		ensured: make(map[string]bool),
		runCmd:  runCommand,
	}
}

// Ensure guarantees a buildx builder exists for environmentID, attached to
// networkName, creating it if necessary.
func (b *BuilderEnsurer) Ensure(ctx context.Context, environmentID, networkName string) (string, error) {
	name := BuilderName(environmentID)

	b.mu.Lock()
	already := b.ensured[name]
	b.mu.Unlock()
	if already {
		return name, nil
	}

	logger := log.WithEnvironmentID(environmentID)

	if out, err := b.runCmd(ctx, "docker", "buildx", "inspect", name); err == nil {
		logger.Debug().Str("builder", name).Msg("buildx builder already exists")
		_ = out
		b.mu.Lock()
		b.ensured[name] = true
		b.mu.Unlock()
		return name, nil
	}

	logger.Info().Str("builder", name).Msg("creating buildx builder")
	args := []string{
		"buildx", "create",
		"--name", name,
		"--driver", "docker-container",
		"--driver-opt", fmt.Sprintf("network=%s", networkName),
		"--bootstrap",
	}
	if out, err := b.runCmd(ctx, "docker", args...); err != nil {
		return "", fmt.Errorf("failed to create buildx builder %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}

	b.mu.Lock()
	b.ensured[name] = true
	b.mu.Unlock()
	return name, nil
}

// Remove tears down an environment's builder (used by the Archiver, C10,
// on environment archival).
func (b *BuilderEnsurer) Remove(ctx context.Context, environmentID string) error {
	name := BuilderName(environmentID)
	b.mu.Lock()
	delete(b.ensured, name)
	b.mu.Unlock()

	if _, err := b.runCmd(ctx, "docker", "buildx", "rm", name); err != nil {
		return fmt.Errorf("failed to remove buildx builder %s: %w", name, err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}
