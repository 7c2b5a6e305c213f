package llms

import (
	"context"
	"strings"
)

type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// TimeToFirstToken is measured from the request being sent.
	//
	// Note: This might be just an approximation.
	TimeToFirstToken float64
	// TotalTime represents the total time it took to complete the request.
	TotalTime float64
}

type contentChunk struct {
	content      string
	finishReason *string
}

func (c contentChunk) Content() string       { return c.content }
func (c contentChunk) FinishReason() *string { return c.finishReason }

// NewContentChunk wraps a piece of generated text. finishReason is nil for
// every chunk but the last one.
func NewContentChunk(content string, finishReason *string) StreamContentChunk {
	return contentChunk{content: content, finishReason: finishReason}
}

type usageChunk struct {
	usage Usage
}

func (c usageChunk) Usage() Usage          { return c.usage }
func (c usageChunk) FinishReason() *string { return nil }

func NewUsageChunk(usage Usage) StreamUsageChunk {
	return usageChunk{usage: usage}
}

// Collect drains the stream and returns the concatenated content.
func Collect(ctx context.Context, stream Stream) (string, error) {
	var sb strings.Builder
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return sb.String(), err
		}
		if content, ok := chunk.(StreamContentChunk); ok {
			sb.WriteString(content.Content())
		}
	}
	return sb.String(), nil
}
