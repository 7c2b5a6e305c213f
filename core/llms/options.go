package llms

import (
	"context"

	"github.com/koscakluka/ema-group/core/inputs"
)

// Client is a stateless model client: everything it needs to answer is
// passed with each call.
type Client interface {
	Complete(ctx context.Context, history []Message, input inputs.BatchInput, opts ...CompleteOption) (Stream, error)
	InterruptMethod() InterruptMethod
}

type CompleteOptions struct {
	Instructions  string
	CharacterName string
	Temperature   *float64
}

type CompleteOption func(*CompleteOptions)

func WithInstructions(instructions string) CompleteOption {
	return func(o *CompleteOptions) { o.Instructions = instructions }
}

func WithCharacterName(name string) CompleteOption {
	return func(o *CompleteOptions) { o.CharacterName = name }
}

// WithTemperature overrides the temperature the client was configured with.
func WithTemperature(temperature float64) CompleteOption {
	return func(o *CompleteOptions) { o.Temperature = &temperature }
}

func ApplyCompleteOptions(opts ...CompleteOption) CompleteOptions {
	options := CompleteOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
