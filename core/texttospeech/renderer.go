// Package texttospeech turns response text into playable audio together
// with the volume envelope clients use for lip sync.
package texttospeech

import (
	"context"

	"github.com/koscakluka/ema-group/core/audio"
)

type Renderer interface {
	Render(ctx context.Context, text string) (*Rendering, error)
}

type Rendering struct {
	// Audio is a complete WAV file.
	Audio   []byte
	Volumes []float64
	// SliceLength is the window, in milliseconds, each volume covers.
	SliceLength int
}

// NewRendering packages raw linear16 PCM.
func NewRendering(pcm []byte, encoding audio.EncodingInfo) *Rendering {
	return &Rendering{
		Audio:       audio.WAV(pcm, encoding.SampleRate),
		Volumes:     audio.SliceVolumes(pcm, encoding, audio.DefaultSliceLength),
		SliceLength: audio.DefaultSliceLength,
	}
}

// Silent renders nothing. Responses are then delivered as text only.
type Silent struct{}

func (Silent) Render(context.Context, string) (*Rendering, error) {
	return nil, nil
}
