package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/martinemde/codepair/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	assert.Equal(t, "gemini", cfg.Model.Provider)
	assert.Equal(t, 0, cfg.Conversation.MaxTurns, "conversations are unbounded by default")
	assert.Equal(t, "Approved", cfg.Conversation.ApproveTrigger)
	assert.Equal(t, "exit", cfg.Conversation.ExitTrigger)
	assert.Equal(t, "java", cfg.Sandbox.Toolchain)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.RunTimeout)
	assert.Equal(t, 4222, cfg.NATS.Port)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, 8080, cfg.Web.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CODEPAIR_CONFIG", "/nonexistent/codepair.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaults().Model, cfg.Model)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("CODEPAIR_CONFIG", "/nonexistent/codepair.yaml")
	t.Setenv("CODEPAIR_MODEL", "gemini-2.5-pro")
	t.Setenv("CODEPAIR_API_KEY", "key-123")
	t.Setenv("CODEPAIR_MAX_TURNS", "12")
	t.Setenv("CODEPAIR_TOOLCHAIN", "sh")
	t.Setenv("CODEPAIR_NATS_URL", "nats://bus:4222")
	t.Setenv("CODEPAIR_WEB_PORT", "9090")
	t.Setenv("CODEPAIR_NATS_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.Model.Name)
	assert.Equal(t, "key-123", cfg.Model.APIKey)
	assert.Equal(t, 12, cfg.Conversation.MaxTurns)
	assert.Equal(t, "sh", cfg.Sandbox.Toolchain)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.False(t, cfg.NATS.Embedded)
	assert.Equal(t, 9090, cfg.Web.Port)
	assert.Equal(t, 4222, cfg.NATS.Port, "unparsable overrides are ignored")
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codepair.yaml")
	t.Setenv("TEST_GEMINI_KEY", "from-env")

	data := `
model:
  provider: openai
  name: gpt-4o
  api_key: ${TEST_GEMINI_KEY}
  temperature: 0.2
conversation:
  max_turns: 30
  approve_trigger: LGTM
sandbox:
  toolchain: shell
  run_timeout: 3s
store:
  enabled: true
  path: /tmp/runs.db
log:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "from-env", cfg.Model.APIKey)
	require.NotNil(t, cfg.Model.Temperature)
	assert.InDelta(t, 0.2, *cfg.Model.Temperature, 1e-9)
	assert.Equal(t, 30, cfg.Conversation.MaxTurns)
	assert.Equal(t, "LGTM", cfg.Conversation.ApproveTrigger)
	assert.Equal(t, "exit", cfg.Conversation.ExitTrigger, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Sandbox.RunTimeout)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"bad yaml":      "model: [",
		"bad toolchain": "sandbox:\n  toolchain: cobol\n",
		"negative":      "conversation:\n  max_turns: -1\n",
		"bad format":    "log:\n  format: xml\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestSandboxSettings(t *testing.T) {
	cfg := defaults()
	cfg.Sandbox.Toolchain = "sh"
	cfg.Sandbox.BaseDir = "/tmp/sb"

	sc, err := cfg.SandboxSettings()
	require.NoError(t, err)
	assert.Equal(t, sandbox.ShellToolchain(), sc.Toolchain)
	assert.Equal(t, "/tmp/sb", sc.BaseDir)
	assert.Equal(t, cfg.Sandbox.RunTimeout, sc.RunTimeout)
}
