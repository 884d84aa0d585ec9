package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_NoFileNoEnvReturnsDocumentedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations_per_run: 99\nstrike_threshold: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 99, cfg.MaxIterationsPerRun)
	require.Equal(t, 5, cfg.StrikeThreshold)
	// Untouched fields keep their documented defaults.
	require.Equal(t, Default().SandboxPoolMax, cfg.SandboxPoolMax)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_EnvironmentVariableOverridesDefault(t *testing.T) {
	t.Setenv("AGENTCORE_MAX_ITERATIONS_PER_TASK", "17")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 17, cfg.MaxIterationsPerTask)
}

func TestLoad_EnvironmentVariableOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strike_threshold: 5\n"), 0o644))
	t.Setenv("AGENTCORE_STRIKE_THRESHOLD", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.StrikeThreshold)
}

func TestDefault_MatchesDocumentedTunables(t *testing.T) {
	d := Default()
	require.Equal(t, 30*time.Second, d.ToolCallTimeout)
	require.Equal(t, 0.85, d.SkillConfidenceThreshold)
	require.Equal(t, 0.70, d.StructuredTaskThreshold)
	require.Equal(t, 300*time.Second, d.ConfirmationTimeout)
}
