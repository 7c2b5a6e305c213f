// Package config loads and validates the server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/koscakluka/ema-group/core/llms"
	"github.com/koscakluka/ema-group/core/providers"
	"github.com/spf13/viper"
)

const (
	configName = "ema-group"
	configType = "yaml"
	envPrefix  = "EMA_GROUP"
)

type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Agent      AgentConfig          `mapstructure:"agent"`
	LLMConfigs map[string]LLMConfig `mapstructure:"llm_configs"`
	TTS        TTSConfig            `mapstructure:"tts"`
	Storage    StorageConfig        `mapstructure:"storage"`
}

type ServerConfig struct {
	ListenAddr     string          `mapstructure:"listen_addr"`
	WSPath         string          `mapstructure:"ws_path"`
	MetricsAddr    string          `mapstructure:"metrics_addr"`
	MetricsPath    string          `mapstructure:"metrics_path"`
	SendQueueSize  int             `mapstructure:"send_queue_size"`
	ReadLimitBytes int64           `mapstructure:"read_limit_bytes"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type AgentConfig struct {
	CharacterName   string        `mapstructure:"character_name"`
	Avatar          string        `mapstructure:"avatar"`
	SystemPrompt    string        `mapstructure:"system_prompt"`
	LLMProvider     string        `mapstructure:"llm_provider"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	SessionTags     []string      `mapstructure:"session_tags"`
	EmotionKeywords []string      `mapstructure:"emotion_keywords"`
}

// LLMConfig are the settings of a single provider entry.
type LLMConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	APIKey          string  `mapstructure:"llm_api_key"`
	Model           string  `mapstructure:"model"`
	OrganizationID  string  `mapstructure:"organization_id"`
	ProjectID       string  `mapstructure:"project_id"`
	Temperature     float64 `mapstructure:"temperature"`
	InterruptMethod string  `mapstructure:"interrupt_method"`
	Template        string  `mapstructure:"template"`
}

type TTSConfig struct {
	Provider string         `mapstructure:"provider"`
	Deepgram DeepgramConfig `mapstructure:"deepgram"`
}

type DeepgramConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Voice      string `mapstructure:"voice"`
	SampleRate int    `mapstructure:"sample_rate"`
}

type StorageConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

const (
	TTSProviderNone     = "none"
	TTSProviderDeepgram = "deepgram"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":12393")
	v.SetDefault("server.ws_path", "/client-ws")
	v.SetDefault("server.metrics_addr", ":9464")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.send_queue_size", 256)
	v.SetDefault("server.read_limit_bytes", 8<<20)
	v.SetDefault("server.rate_limit.per_second", 5.0)
	v.SetDefault("server.rate_limit.burst", 10)

	v.SetDefault("agent.character_name", "Mao")
	v.SetDefault("agent.system_prompt", "You are a friendly assistant chatting with a group of people. Keep your answers short and conversational.")
	v.SetDefault("agent.llm_provider", string(providers.OpenAICompatible))
	v.SetDefault("agent.turn_timeout", 60*time.Second)
	v.SetDefault("agent.history_limit", 50)
	v.SetDefault("agent.session_tags", []string{"🌱", "🌸", "🍀", "🌊", "🔥", "⭐"})

	v.SetDefault("tts.provider", TTSProviderNone)
	v.SetDefault("tts.deepgram.sample_rate", 24000)

	v.SetDefault("storage.in_memory", true)
}

// Load reads the configuration. An explicit path must exist; without one
// the working directory and the user config dir are searched and a missing
// file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "ema-group"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything the rest of the server trusts without looking
// again.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.SendQueueSize <= 0 {
		errs = append(errs, errors.New("server.send_queue_size must be positive"))
	}
	if c.Server.RateLimit.PerSecond <= 0 || c.Server.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("server.rate_limit must be positive"))
	}
	if c.Agent.TurnTimeout <= 0 {
		errs = append(errs, errors.New("agent.turn_timeout must be positive"))
	}

	if !providers.IsSupported(c.Agent.LLMProvider) {
		errs = append(errs, &providers.UnsupportedProviderError{Name: c.Agent.LLMProvider})
	} else if llmConfig, ok := c.LLMConfigs[c.Agent.LLMProvider]; !ok {
		errs = append(errs, fmt.Errorf("llm_configs.%s is missing", c.Agent.LLMProvider))
	} else if err := llmConfig.validate(); err != nil {
		errs = append(errs, fmt.Errorf("llm_configs.%s: %w", c.Agent.LLMProvider, err))
	}

	switch c.TTS.Provider {
	case TTSProviderNone, "":
	case TTSProviderDeepgram:
		if c.TTS.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("tts.deepgram.api_key is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tts provider %q", c.TTS.Provider))
	}

	if !c.Storage.InMemory && c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required unless storage.in_memory is set"))
	}

	return errors.Join(errs...)
}

func (c LLMConfig) validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v outside [0, 2]", c.Temperature)
	}
	if _, err := llms.ParseInterruptMethod(c.InterruptMethod); err != nil {
		return err
	}
	return nil
}

// ProviderSettings returns the typed settings of the selected provider.
func (c *Config) ProviderSettings() providers.Settings {
	llmConfig := c.LLMConfigs[c.Agent.LLMProvider]

	temperature := llmConfig.Temperature
	if temperature == 0 {
		temperature = 1.0
	}

	settings := providers.Settings{
		BaseURL:         llmConfig.BaseURL,
		APIKey:          llmConfig.APIKey,
		Model:           llmConfig.Model,
		OrganizationID:  llmConfig.OrganizationID,
		ProjectID:       llmConfig.ProjectID,
		Temperature:     temperature,
		InterruptMethod: llms.InterruptMethod(llmConfig.InterruptMethod),
		Template:        llmConfig.Template,
	}
	return settings
}
