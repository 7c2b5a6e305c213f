// Package template drives raw completion endpoints (llama.cpp server,
// vLLM, text-generation-webui) where the chat prompt has to be assembled
// client side from a template.
package template

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	texttemplate "text/template"

	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/llms"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTemplate renders a ChatML prompt.
const DefaultTemplate = `{{if .Instructions}}<|im_start|>system
{{.Instructions}}<|im_end|>
{{end}}{{range .History}}<|im_start|>{{.Role}}
{{if .Name}}{{.Name}}: {{end}}{{.Content}}<|im_end|>
{{end}}<|im_start|>user
{{.Prompt}}<|im_end|>
<|im_start|>assistant
`

type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Template        string
	Temperature     float64
	InterruptMethod llms.InterruptMethod
	HTTPClient      *http.Client
}

type Client struct {
	client          openai.Client
	model           string
	template        *texttemplate.Template
	temperature     float64
	interruptMethod llms.InterruptMethod
}

// promptData is what the template sees.
type promptData struct {
	Instructions string
	Character    string
	History      []llms.Message
	Prompt       string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("template: model is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("template: base url is required")
	}
	if strings.TrimSpace(cfg.Template) == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.InterruptMethod == "" {
		cfg.InterruptMethod = llms.InterruptMethodUser
	}

	tmpl, err := texttemplate.New("prompt").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &Client{
		client:          openai.NewClient(opts...),
		model:           cfg.Model,
		template:        tmpl,
		temperature:     cfg.Temperature,
		interruptMethod: cfg.InterruptMethod,
	}, nil
}

func (c *Client) InterruptMethod() llms.InterruptMethod {
	return c.interruptMethod
}

// Render produces the raw prompt sent to the completion endpoint.
func (c *Client) Render(history []llms.Message, input inputs.BatchInput, opts ...llms.CompleteOption) (string, error) {
	options := llms.ApplyCompleteOptions(opts...)

	var sb strings.Builder
	if err := c.template.Execute(&sb, promptData{
		Instructions: options.Instructions,
		Character:    options.CharacterName,
		History:      history,
		Prompt:       input.Prompt(),
	}); err != nil {
		return "", fmt.Errorf("failed to render prompt template: %w", err)
	}
	return sb.String(), nil
}

func (c *Client) Complete(_ context.Context, history []llms.Message, input inputs.BatchInput, opts ...llms.CompleteOption) (llms.Stream, error) {
	prompt, err := c.Render(history, input, opts...)
	if err != nil {
		return nil, err
	}

	temperature := c.temperature
	if options := llms.ApplyCompleteOptions(opts...); options.Temperature != nil {
		temperature = *options.Temperature
	}

	return &Stream{
		client: &c.client,
		params: openai.CompletionNewParams{
			Model:       openai.CompletionNewParamsModel(c.model),
			Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
			Temperature: openai.Float(temperature),
		},
	}, nil
}
