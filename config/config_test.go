package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, int64(4096), cfg.LLM.MaxTokens)
	assert.Equal(t, 10, cfg.Engine.MaxIterations)
	assert.Equal(t, 10, cfg.Engine.MaxPriorTurns)
	assert.Equal(t, "json", cfg.Engine.ToolCallParser)
	assert.Equal(t, 5*time.Second, cfg.Stream.CompleteRetention)
	assert.Equal(t, time.Second, cfg.Stream.ErrorRetention)
	assert.Equal(t, 300*time.Second, cfg.Memory.SearchTTL)
	assert.Equal(t, time.Hour, cfg.Memory.StatsTTL)
	assert.Equal(t, 0.7, cfg.Memory.MinSimilarity)
	assert.Equal(t, 10, cfg.Memory.EmbedEvery)
	assert.Equal(t, 50, cfg.Memory.VectorThreshold)
	assert.Equal(t, "memory", cfg.VectorStore.Driver)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "Asia/Bangkok", cfg.Tools.DefaultTimezone)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "agentexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: text
llm:
  provider: anthropic
  model: claude-sonnet-4-5
engine:
  max_iterations: 4
stream:
  complete_retention: 250ms
memory:
  min_similarity: 0.5
cache:
  driver: redis
agents_file: agents.yaml
`), 0o600))

	t.Setenv("AGENTEXEC_LLM_MODEL", "claude-from-env")
	t.Setenv("AGENTEXEC_SERVER_ADDR", ":9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-from-env", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.Engine.MaxIterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.CompleteRetention)
	assert.Equal(t, 0.5, cfg.Memory.MinSimilarity)
	assert.Equal(t, "agents.yaml", cfg.AgentsFile)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AGENTEXEC_LLM_PROVIDER=scripted\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("AGENTEXEC_LLM_PROVIDER") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "scripted", cfg.LLM.Provider)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "bedrock"
	cfg.Log.Level = "loud"
	cfg.Engine.MaxIterations = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, `llm.provider: unsupported value "bedrock"`)
	assert.ErrorContains(t, err, "log.level")
	assert.ErrorContains(t, err, "engine.max_iterations must be positive")
}
