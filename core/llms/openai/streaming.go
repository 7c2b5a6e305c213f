package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/koscakluka/ema-group/core/llms"
	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Stream struct {
	client *openai.Client
	params openai.ChatCompletionNewParams
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream", trace.WithAttributes(
			attribute.String("llm.model", s.params.Model),
			attribute.Int("llm.messages", len(s.params.Messages)),
		))
		defer span.End()

		requestStartedAt := time.Now()
		var firstTokenAt time.Time

		stream := s.client.Chat.Completions.NewStreaming(ctx, s.params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 {
				usage := llms.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
					TotalTime:    time.Since(requestStartedAt).Seconds(),
				}
				if !firstTokenAt.IsZero() {
					usage.TimeToFirstToken = firstTokenAt.Sub(requestStartedAt).Seconds()
				}
				span.SetAttributes(attribute.Int("llm.usage.total_tokens", usage.TotalTokens))
				if !yield(llms.NewUsageChunk(usage), nil) {
					return
				}
			}

			for _, choice := range chunk.Choices {
				var finishReason *string
				if choice.FinishReason != "" {
					reason := choice.FinishReason
					finishReason = &reason
				}
				if choice.Delta.Content == "" && finishReason == nil {
					continue
				}
				if firstTokenAt.IsZero() {
					firstTokenAt = time.Now()
					span.AddEvent("first token")
				}
				if !yield(llms.NewContentChunk(choice.Delta.Content, finishReason), nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			err = fmt.Errorf("chat completion stream failed: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.DebugContext(ctx, "chat completion stream failed", "error", err)
			yield(nil, err)
		}
	}
}
