// Package inputs describes what a participant can submit to a group: text
// fragments, image and file references, a few behavioural flags and the
// turn intent.
package inputs

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jinzhu/copier"
)

var (
	ErrEmptyBatch         = errors.New("batch input has no content")
	ErrUnknownFlag        = errors.New("unknown input flag")
	ErrUnknownIntent      = errors.New("unknown turn intent")
	ErrUnknownTextSource  = errors.New("unknown text source")
	ErrUnknownImageSource = errors.New("unknown image source")
)

type TextSource string

const (
	TextSourceInput     TextSource = "input"
	TextSourceClipboard TextSource = "clipboard"
)

type ImageSource string

const (
	ImageSourceCamera    ImageSource = "camera"
	ImageSourceScreen    ImageSource = "screen"
	ImageSourceClipboard ImageSource = "clipboard"
	ImageSourceUpload    ImageSource = "upload"
)

// TextTurnInput is one piece of text attributable to a sender.
type TextTurnInput struct {
	Source   TextSource `json:"source"`
	Content  string     `json:"content"`
	FromName string     `json:"from_name,omitempty"`
}

type ImageRef struct {
	Source   ImageSource `json:"source"`
	Data     string      `json:"data"`
	MIMEType string      `json:"mime_type"`
}

type FileRef struct {
	Name     string `json:"name"`
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// BatchInput is the unit of work submitted on behalf of a participant. It is
// immutable once constructed, accessors hand out copies.
type BatchInput struct {
	texts  []TextTurnInput
	images []ImageRef
	files  []FileRef
	flags  Flags
	intent Intent
}

func NewBatchInput(texts []TextTurnInput, images []ImageRef, files []FileRef, flags Flags, intent Intent) (BatchInput, error) {
	if intent == "" {
		intent = IntentNormal
	}
	if !slices.Contains(intents, intent) {
		return BatchInput{}, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}

	batch := BatchInput{flags: flags, intent: intent}
	if err := copier.CopyWithOption(&batch.texts, &texts, copier.Option{DeepCopy: true}); err != nil {
		return BatchInput{}, fmt.Errorf("failed to copy texts: %w", err)
	}
	if err := copier.CopyWithOption(&batch.images, &images, copier.Option{DeepCopy: true}); err != nil {
		return BatchInput{}, fmt.Errorf("failed to copy images: %w", err)
	}
	if err := copier.CopyWithOption(&batch.files, &files, copier.Option{DeepCopy: true}); err != nil {
		return BatchInput{}, fmt.Errorf("failed to copy files: %w", err)
	}

	for i := range batch.texts {
		switch batch.texts[i].Source {
		case "":
			batch.texts[i].Source = TextSourceInput
		case TextSourceInput, TextSourceClipboard:
		default:
			return BatchInput{}, fmt.Errorf("%w: %q", ErrUnknownTextSource, batch.texts[i].Source)
		}
	}
	for _, image := range batch.images {
		switch image.Source {
		case ImageSourceCamera, ImageSourceScreen, ImageSourceClipboard, ImageSourceUpload:
		default:
			return BatchInput{}, fmt.Errorf("%w: %q", ErrUnknownImageSource, image.Source)
		}
	}

	if !batch.hasText() && len(batch.images) == 0 && len(batch.files) == 0 {
		return BatchInput{}, ErrEmptyBatch
	}

	return batch, nil
}

func (b BatchInput) Texts() []TextTurnInput { return slices.Clone(b.texts) }
func (b BatchInput) Images() []ImageRef     { return slices.Clone(b.images) }
func (b BatchInput) Files() []FileRef       { return slices.Clone(b.files) }
func (b BatchInput) Flags() Flags           { return b.flags }

func (b BatchInput) Intent() Intent {
	if b.intent == "" {
		return IntentNormal
	}
	return b.intent
}

// Preempts reports whether the batch should cut into an in-flight turn
// instead of waiting in the queue.
func (b BatchInput) Preempts() bool {
	return b.Intent().Preempts() || b.flags.ProactiveSpeak
}

func (b BatchInput) hasText() bool {
	return slices.ContainsFunc(b.texts, func(text TextTurnInput) bool {
		return strings.TrimSpace(text.Content) != ""
	})
}

// Prompt flattens the text fragments into the user message handed to the
// model. Clipboard fragments are labelled so the model can tell them apart
// from typed input.
func (b BatchInput) Prompt() string {
	var sb strings.Builder
	for _, text := range b.texts {
		content := strings.TrimSpace(text.Content)
		if content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if text.FromName != "" {
			sb.WriteString(text.FromName)
			sb.WriteString(": ")
		}
		if text.Source == TextSourceClipboard {
			sb.WriteString("[Clipboard content]: ")
		}
		sb.WriteString(content)
	}

	if len(b.images) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%d image(s) attached]", len(b.images))
	}
	if len(b.files) > 0 {
		names := make([]string, 0, len(b.files))
		for _, file := range b.files {
			names = append(names, file.Name)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[Files attached: %s]", strings.Join(names, ", "))
	}

	return sb.String()
}

// Sender returns the first from_name carried by the batch.
func (b BatchInput) Sender() string {
	for _, text := range b.texts {
		if text.FromName != "" {
			return text.FromName
		}
	}
	return ""
}
