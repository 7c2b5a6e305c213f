package template

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-group/core/llms"
	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/koscakluka/ema-group/core/llms/template")

type Stream struct {
	client *openai.Client
	params openai.CompletionNewParams
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt template completion stream")
		defer span.End()

		stream := s.client.Completions.NewStreaming(ctx, s.params)
		defer stream.Close()

		for stream.Next() {
			completion := stream.Current()
			for _, choice := range completion.Choices {
				var finishReason *string
				if choice.FinishReason != "" {
					reason := string(choice.FinishReason)
					finishReason = &reason
				}
				if choice.Text == "" && finishReason == nil {
					continue
				}
				if !yield(llms.NewContentChunk(choice.Text, finishReason), nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			err = fmt.Errorf("completion stream failed: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}
	}
}
