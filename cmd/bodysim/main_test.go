package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/bodysim"
	"github.com/gogpu/bodysim/internal/config"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestStepCommand(t *testing.T) {
	out, _, err := execute(t, "step",
		"--bodies", "100", "--budget", "4800", "--seed", "3", "--print", "2", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "device")
	assert.Contains(t, out, "software")
	assert.Contains(t, out, "4x1x1")
	assert.Contains(t, out, "RADIUS")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, 5+1+2, len(lines), "summary, header and two bodies")
}

func TestStepCommandPlot(t *testing.T) {
	out, _, err := execute(t, "step", "--bodies", "50", "--budget", "2400", "--seed", "1", "--plot")
	require.NoError(t, err)
	assert.Contains(t, out, "displacement per body")
}

func TestStepCommandZeroBodies(t *testing.T) {
	out, _, err := execute(t, "step", "--bodies", "0", "--budget", "240", "--plot")
	require.NoError(t, err)
	assert.NotContains(t, out, "RADIUS")
	assert.Contains(t, out, "no bodies to chart")
}

func TestStepCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bodies over budget", []string{"--bodies", "11", "--budget", "240"}},
		{"unknown backend", []string{"--backend", "metal", "--budget", "240", "--bodies", "1"}},
		{"missing kernel", []string{"--kernel", "/nonexistent/k.wgsl", "--budget", "240", "--bodies", "1"}},
		{"missing config", []string{"--config", "/nonexistent/c.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := execute(t, append([]string{"step"}, tt.args...)...)
			assert.Error(t, err)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestStepCommandBadKernel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wgsl")
	require.NoError(t, os.WriteFile(path, []byte("fn nothing() {}"), 0644))
	_, _, err := execute(t, "step", "--kernel", path, "--budget", "240", "--bodies", "1")
	assert.ErrorIs(t, err, bodysim.ErrPipelineBuild)
}

func TestStepCommandConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bodysim.yaml")
	cfg := config.DefaultConfig()
	cfg.Bodies = 20
	cfg.BudgetBytes = 24 * 64
	cfg.Seed = 11
	cfg.Print = 1
	require.NoError(t, config.Save(path, cfg))

	out, _, err := execute(t, "step", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "bodies     20")

	// Flags win over the file.
	out, _, err = execute(t, "step", "--config", path, "--bodies", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "bodies     30")
}

func TestStepCommandVerbose(t *testing.T) {
	_, stderr, err := execute(t, "step", "-v", "--bodies", "4", "--budget", "240", "--seed", "2")
	require.NoError(t, err)
	assert.Contains(t, stderr, "pipeline built")
	assert.Contains(t, stderr, "step completed")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	out, _, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, _, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing file without --force")

	_, _, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestKernelCommand(t *testing.T) {
	out, _, err := execute(t, "kernel")
	require.NoError(t, err)
	assert.Equal(t, bodysim.DefaultKernelSource(), out)
	assert.Contains(t, out, "@workgroup_size(64)")
}

func TestInfoCommand(t *testing.T) {
	out, _, err := execute(t, "info", "--workers", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "software")
	assert.Contains(t, out, "65535")
}

func TestInfoNativeUnavailable(t *testing.T) {
	_, _, err := execute(t, "info", "--backend", "native")
	if err == nil {
		t.Skip("built with wgpunative")
	}
	assert.ErrorIs(t, err, bodysim.ErrBackendUnavailable)
}

func TestReportDisplacements(t *testing.T) {
	n := 2*maxChartPoints + 1
	r := report{before: make([]bodysim.Body, n), after: make([]bodysim.Body, n)}
	for i := range r.after {
		r.after[i].Position = mgl32.Vec2{3, 4}
	}
	d := r.displacements()
	assert.LessOrEqual(t, len(d), maxChartPoints)
	for _, v := range d {
		assert.InDelta(t, 5.0, v, 1e-6)
	}
}

func TestReportSummary(t *testing.T) {
	var buf bytes.Buffer
	r := report{device: "test", grid: bodysim.Grid{X: 3, Y: 1, Z: 1}, elapsed: time.Millisecond}
	require.NoError(t, r.writeSummary(&buf))
	assert.Contains(t, buf.String(), "3x1x1 (192 invocations)")
	assert.Contains(t, buf.String(), "0.016")
}
