// Package openai talks to any chat completion endpoint that follows the
// OpenAI wire format (OpenAI itself, Groq, DeepSeek, Mistral, Gemini's
// compatibility layer, LM Studio, Ollama and friends).
package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/llms"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	OrganizationID  string
	ProjectID       string
	Temperature     float64
	InterruptMethod llms.InterruptMethod

	// HTTPClient replaces the instrumented default client.
	HTTPClient *http.Client
}

type Client struct {
	client          openai.Client
	model           string
	temperature     float64
	interruptMethod llms.InterruptMethod
}

// NewClient builds a client without touching the network.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.InterruptMethod == "" {
		cfg.InterruptMethod = llms.InterruptMethodUser
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.OrganizationID != "" {
		opts = append(opts, option.WithOrganization(cfg.OrganizationID))
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithProject(cfg.ProjectID))
	}

	return &Client{
		client:          openai.NewClient(opts...),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		interruptMethod: cfg.InterruptMethod,
	}, nil
}

func (c *Client) InterruptMethod() llms.InterruptMethod {
	return c.interruptMethod
}

// Complete prepares a streaming chat completion. The request is only sent
// once the returned stream is iterated.
func (c *Client) Complete(_ context.Context, history []llms.Message, input inputs.BatchInput, opts ...llms.CompleteOption) (llms.Stream, error) {
	options := llms.ApplyCompleteOptions(opts...)

	temperature := c.temperature
	if options.Temperature != nil {
		temperature = *options.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    toChatMessages(options.Instructions, history, input),
		Temperature: openai.Float(temperature),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	return &Stream{client: &c.client, params: params}, nil
}
