package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koscakluka/ema-group/core/llms"
	"github.com/koscakluka/ema-group/core/providers"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ema-group.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
agent:
  llm_provider: groq_llm
  turn_timeout: 15s
llm_configs:
  groq_llm:
    llm_api_key: gsk-test
    model: llama-3.3-70b-versatile
    interrupt_method: system
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":12393", cfg.Server.ListenAddr)
	assert.Equal(t, 256, cfg.Server.SendQueueSize)
	assert.Equal(t, 15*time.Second, cfg.Agent.TurnTimeout)
	assert.Equal(t, "Mao", cfg.Agent.CharacterName)
	assert.NotEmpty(t, cfg.Agent.SessionTags)

	settings := cfg.ProviderSettings()
	assert.Equal(t, "gsk-test", settings.APIKey)
	assert.Equal(t, "llama-3.3-70b-versatile", settings.Model)
	assert.Equal(t, 1.0, settings.Temperature)
	assert.Equal(t, llms.InterruptMethodSystem, settings.InterruptMethod)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
llm_configs:
  openai_compatible_llm:
    model: qwen
`)
	t.Setenv("EMA_GROUP_SERVER_LISTEN_ADDR", "127.0.0.1:9000")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsUnsupportedProvider(t *testing.T) {
	path := writeConfig(t, `
agent:
  llm_provider: llama_cpp_llm
`)

	_, err := Load(viper.New(), path)
	require.Error(t, err)

	var unsupported *providers.UnsupportedProviderError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "llama_cpp_llm", unsupported.Name)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	path := writeConfig(t, `
llm_configs:
  openai_compatible_llm:
    model: ""
    temperature: 3
tts:
  provider: deepgram
storage:
  in_memory: false
`)

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "model is required")
	assert.ErrorContains(t, err, "tts.deepgram.api_key is required")
	assert.ErrorContains(t, err, "storage.dir is required")
}

func TestValidateRejectsUnknownInterruptMethod(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{SendQueueSize: 1, RateLimit: RateLimitConfig{PerSecond: 1, Burst: 1}},
		Agent:  AgentConfig{LLMProvider: "openai_llm", TurnTimeout: time.Second},
		LLMConfigs: map[string]LLMConfig{
			"openai_llm": {Model: "gpt-4o", InterruptMethod: "assistant"},
		},
		Storage: StorageConfig{InMemory: true},
	}
	assert.ErrorContains(t, cfg.Validate(), "unknown interrupt method")

	cfg.LLMConfigs["openai_llm"] = LLMConfig{Model: "gpt-4o"}
	assert.NoError(t, cfg.Validate())
}
