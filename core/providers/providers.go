// Package providers resolves a configured provider name to a ready to use
// stateless LLM client.
package providers

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/koscakluka/ema-group/core/llms"
	"github.com/koscakluka/ema-group/core/llms/openai"
	"github.com/koscakluka/ema-group/core/llms/template"
)

type Name string

const (
	OpenAICompatible Name = "openai_compatible_llm"
	OpenAI           Name = "openai_llm"
	Gemini           Name = "gemini_llm"
	Zhipu            Name = "zhipu_llm"
	DeepSeek         Name = "deepseek_llm"
	Groq             Name = "groq_llm"
	Mistral          Name = "mistral_llm"
	LMStudio         Name = "lmstudio_llm"
	Ollama           Name = "ollama_llm"
	Template         Name = "stateless_llm_with_template"
)

// Settings are the validated per-provider options.
type Settings struct {
	BaseURL         string
	APIKey          string
	Model           string
	OrganizationID  string
	ProjectID       string
	Temperature     float64
	InterruptMethod llms.InterruptMethod
	Template        string

	HTTPClient *http.Client
}

type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %q", e.Name)
}

type constructor func(Settings) (llms.Client, error)

type provider struct {
	defaults    Settings
	constructor constructor
}

var table = map[Name]provider{
	OpenAICompatible: {constructor: newOpenAICompatible},
	OpenAI: {
		defaults:    Settings{BaseURL: openai.DefaultBaseURL, InterruptMethod: llms.InterruptMethodSystem},
		constructor: newOpenAICompatible,
	},
	Gemini: {
		defaults:    Settings{BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/"},
		constructor: newOpenAICompatible,
	},
	Zhipu: {
		defaults:    Settings{BaseURL: "https://open.bigmodel.cn/api/paas/v4/"},
		constructor: newOpenAICompatible,
	},
	DeepSeek: {
		defaults:    Settings{BaseURL: "https://api.deepseek.com/v1"},
		constructor: newOpenAICompatible,
	},
	Groq: {
		defaults:    Settings{BaseURL: "https://api.groq.com/openai/v1"},
		constructor: newOpenAICompatible,
	},
	Mistral: {
		defaults:    Settings{BaseURL: "https://api.mistral.ai/v1"},
		constructor: newOpenAICompatible,
	},
	LMStudio: {
		defaults:    Settings{BaseURL: "http://localhost:11434", APIKey: "default_api_key", InterruptMethod: llms.InterruptMethodSystem},
		constructor: newOpenAICompatible,
	},
	Ollama: {
		defaults:    Settings{BaseURL: "http://localhost:11434/v1", APIKey: "ollama", InterruptMethod: llms.InterruptMethodSystem},
		constructor: newOpenAICompatible,
	},
	Template: {constructor: newTemplate},
}

// Names lists every provider Resolve accepts.
func Names() []Name {
	names := make([]Name, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func IsSupported(name string) bool {
	_, ok := table[Name(name)]
	return ok
}

// Defaults returns the settings a provider falls back to for fields left
// empty.
func Defaults(name string) (Settings, error) {
	p, ok := table[Name(name)]
	if !ok {
		return Settings{}, &UnsupportedProviderError{Name: name}
	}
	return p.defaults, nil
}

// Resolve constructs the client for name. Construction never touches the
// network.
func Resolve(name string, settings Settings) (llms.Client, error) {
	p, ok := table[Name(name)]
	if !ok {
		return nil, &UnsupportedProviderError{Name: name}
	}

	client, err := p.constructor(withDefaults(settings, p.defaults))
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s client: %w", name, err)
	}
	return client, nil
}

func withDefaults(settings, defaults Settings) Settings {
	if settings.BaseURL == "" {
		settings.BaseURL = defaults.BaseURL
	}
	if settings.APIKey == "" {
		settings.APIKey = defaults.APIKey
	}
	if settings.InterruptMethod == "" {
		settings.InterruptMethod = defaults.InterruptMethod
	}
	return settings
}

func newOpenAICompatible(settings Settings) (llms.Client, error) {
	return openai.NewClient(openai.Config{
		BaseURL:         settings.BaseURL,
		APIKey:          settings.APIKey,
		Model:           settings.Model,
		OrganizationID:  settings.OrganizationID,
		ProjectID:       settings.ProjectID,
		Temperature:     settings.Temperature,
		InterruptMethod: settings.InterruptMethod,
		HTTPClient:      settings.HTTPClient,
	})
}

func newTemplate(settings Settings) (llms.Client, error) {
	return template.NewClient(template.Config{
		BaseURL:         settings.BaseURL,
		APIKey:          settings.APIKey,
		Model:           settings.Model,
		Template:        settings.Template,
		Temperature:     settings.Temperature,
		InterruptMethod: settings.InterruptMethod,
		HTTPClient:      settings.HTTPClient,
	})
}
