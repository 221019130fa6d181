package build

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeCaddyfile_SPAFallsBackToIndex(t *testing.T) {
	cf := synthesizeCaddyfile(true, "index.html", "")
	assert.Contains(t, cf, "try_files {path} /index.html")
}

func TestSynthesizeCaddyfile_NotFoundPage(t *testing.T) {
	cf := synthesizeCaddyfile(false, "index.html", "404.html")
	assert.Contains(t, cf, "handle_errors 404")
	assert.Contains(t, cf, "rewrite * /404.html")
}

func TestSynthesizeCaddyfile_PlainStatic(t *testing.T) {
	cf := synthesizeCaddyfile(false, "index.html", "")
	assert.NotContains(t, cf, "try_files")
	assert.NotContains(t, cf, "handle_errors")
	assert.Contains(t, cf, "file_server")
}

func TestPlanDockerfile_DefaultsAndOverrides(t *testing.T) {
	p := NewPipeline()
	workDir := t.TempDir()

	snap := &types.Snapshot{Builder: types.BuilderDockerfile}
	plan, err := p.planDockerfile(snap, workDir, map[string]string{"KEY": "value"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "Dockerfile"), plan.DockerfilePath)
	assert.Equal(t, workDir, plan.BuildContext)

	data, err := os.ReadFile(filepath.Join(workDir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "KEY=value")

	snap.BuilderOpts = types.BuilderOptions{DockerfilePath: "docker/Dockerfile.prod", BuildContext: "app"}
	plan, err = p.planDockerfile(snap, workDir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "docker/Dockerfile.prod"), plan.DockerfilePath)
	assert.Equal(t, filepath.Join(workDir, "app"), plan.BuildContext)
}

func TestPlanStaticDir_GeneratesDockerfileAndCaddyfile(t *testing.T) {
	p := NewPipeline()
	workDir := t.TempDir()

	snap := &types.Snapshot{Builder: types.BuilderStaticDir, BuilderOpts: types.BuilderOptions{IsSPA: true, PublishDirectory: "dist"}}
	plan, err := p.planStaticDir(snap, workDir)
	require.NoError(t, err)

	df, err := os.ReadFile(plan.DockerfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(df), "COPY dist /srv")
	assert.Contains(t, plan.CaddyfileContents, "try_files")
}

func TestPlanStaticDir_UsesExistingCaddyfileIfPresent(t *testing.T) {
	p := NewPipeline()
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "Caddyfile"), []byte("# custom\n"), 0o644))

	snap := &types.Snapshot{Builder: types.BuilderStaticDir}
	plan, err := p.planStaticDir(snap, workDir)
	require.NoError(t, err)
	assert.Equal(t, "# custom\n", plan.CaddyfileContents)
}

func TestPlanRailpack_SPAWritesCaddyfileAndConfig(t *testing.T) {
	p := NewPipeline()
	workDir := t.TempDir()

	snap := &types.Snapshot{Builder: types.BuilderRailpack, BuilderOpts: types.BuilderOptions{IsSPA: true, PublishDirectory: "build"}}
	plan, err := p.planRailpack(snap, workDir)
	require.NoError(t, err)
	assert.Equal(t, workDir, plan.BuildContext)

	_, err = os.Stat(filepath.Join(workDir, "railpack.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(workDir, "Caddyfile"))
	require.NoError(t, err)
}

func TestSynthesizePlan_DispatchesOnBuilder(t *testing.T) {
	p := NewPipeline()
	workDir := t.TempDir()

	_, err := p.SynthesizePlan(&types.Snapshot{Builder: types.BuilderType("unknown")}, workDir, nil)
	assert.ErrorContains(t, err, "build_failed")

	plan, err := p.SynthesizePlan(&types.Snapshot{Builder: types.BuilderDockerfile}, workDir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "Dockerfile"), plan.DockerfilePath)
}

// fakeCommand replaces Pipeline.runCmd with a shell invocation that prints
// canned output, so BuildImage's output-parsing regexes can be exercised
// without a real docker/buildx binary.
func fakeCommand(output string) func(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", `printf '%s' "$1"`, "_", output)
		cmd.Dir = dir
		return cmd
	}
}

func TestBuildImage_ParsesImageIDFromOutput(t *testing.T) {
	p := &Pipeline{runCmd: fakeCommand("Step 3/3 : CMD [\"run\"]\nSuccessfully built a1b2c3d4e5f6\n")}
	var logs bytes.Buffer

	imageID, err := p.BuildImage(context.Background(), "warren-builder", types.BuilderDockerfile, &Plan{BuildContext: t.TempDir()}, "app:latest", nil, false, "", &logs)
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4e5f6", imageID)
	assert.Contains(t, logs.String(), "Successfully built")
}

func TestBuildImage_FallsBackToImageTagWhenUnparsed(t *testing.T) {
	p := &Pipeline{runCmd: fakeCommand("unrelated build log line\n")}

	imageID, err := p.BuildImage(context.Background(), "warren-builder", types.BuilderDockerfile, &Plan{BuildContext: t.TempDir()}, "app:latest", nil, false, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "app:latest", imageID)
}

func TestCleanup_EmptyDirIsNoop(t *testing.T) {
	p := NewPipeline()
	assert.NoError(t, p.Cleanup(""))
}

func TestCleanup_RemovesDirectory(t *testing.T) {
	p := NewPipeline()
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	require.NoError(t, p.Cleanup(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
