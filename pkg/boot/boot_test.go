package boot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flocka2a "github.com/flock-run/flock/pkg/a2a"
	"github.com/flock-run/flock/pkg/flockconfig"
)

func TestResolveRoleHonorsDeclaredRoles(t *testing.T) {
	cfg := &flockconfig.Config{}
	assert.Equal(t, flocka2a.RoleWorker, resolveRole(cfg, flockconfig.GatewayAgent{ID: "w1"}))
	assert.Equal(t, flocka2a.RoleSysadmin, resolveRole(cfg, flockconfig.GatewayAgent{ID: "sa", Role: "sysadmin"}))
	assert.Equal(t, flocka2a.RoleSystem, resolveRole(cfg, flockconfig.GatewayAgent{ID: "sys", Role: "system"}))
	assert.Equal(t, flocka2a.RoleWorker, resolveRole(cfg, flockconfig.GatewayAgent{ID: "x", Role: "gibberish"}))
}

func TestResolveRoleOrchestratorIDsOverrideDeclaredRole(t *testing.T) {
	cfg := &flockconfig.Config{OrchestratorIDs: []string{"w1"}}
	got := resolveRole(cfg, flockconfig.GatewayAgent{ID: "w1", Role: "worker"})
	assert.Equal(t, flocka2a.RoleOrchestrator, got)
}

func TestSeedWorkspaceRegeneratesToolingButSeedsIdentityOnce(t *testing.T) {
	homePath := filepath.Join(t.TempDir(), "agents", "worker-1")
	ga := flockconfig.GatewayAgent{ID: "worker-1", Role: "worker", Model: "test-model"}

	require.NoError(t, seedWorkspace(homePath, ga))

	// The agent owns SOUL.md after first boot; operators and the agent
	// itself may edit it.
	soulPath := filepath.Join(homePath, "SOUL.md")
	require.NoError(t, os.WriteFile(soulPath, []byte("edited by agent"), 0o644))
	agentsPath := filepath.Join(homePath, "AGENTS.md")
	require.NoError(t, os.WriteFile(agentsPath, []byte("stale"), 0o644))

	require.NoError(t, seedWorkspace(homePath, ga))

	soul, err := os.ReadFile(soulPath)
	require.NoError(t, err)
	assert.Equal(t, "edited by agent", string(soul), "SOUL.md is seed-once")

	agents, err := os.ReadFile(agentsPath)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", string(agents), "AGENTS.md is regenerated every boot")

	for _, name := range []string{"IDENTITY.md", "MEMORY.md", "USER.md", "HEARTBEAT.md", "TOOLS.md"} {
		_, err := os.Stat(filepath.Join(homePath, name))
		assert.NoError(t, err, name)
	}
	info, err := os.Stat(filepath.Join(homePath, "memory"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAppendUnique(t *testing.T) {
	assert.Equal(t, []string{"a"}, appendUnique(nil, "a"))
	assert.Equal(t, []string{"a", "b"}, appendUnique([]string{"a"}, "b"))
	assert.Equal(t, []string{"a", "b"}, appendUnique([]string{"a", "b"}, "a"))
}
