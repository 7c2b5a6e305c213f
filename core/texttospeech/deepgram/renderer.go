// Package deepgram renders speech with Deepgram's streaming speak API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-group/core/audio"
	"github.com/koscakluka/ema-group/core/texttospeech"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultEndpoint = "wss://api.deepgram.com/v1/speak"

var (
	tracer = otel.Tracer("github.com/koscakluka/ema-group/core/texttospeech/deepgram")
	logger = otelslog.NewLogger("github.com/koscakluka/ema-group/core/texttospeech/deepgram")
)

type Voice string

const (
	VoiceAsteriaEn Voice = "aura-2-asteria-en"
	VoiceThaliaEn  Voice = "aura-2-thalia-en"
	VoiceAndromeda Voice = "aura-2-andromeda-en"
	VoiceOrionEn   Voice = "aura-2-orion-en"
	VoiceArcasEn   Voice = "aura-2-arcas-en"
)

const defaultVoice = VoiceThaliaEn

func GetAvailableVoices() []Voice {
	return []Voice{VoiceAsteriaEn, VoiceThaliaEn, VoiceAndromeda, VoiceOrionEn, VoiceArcasEn}
}

type Config struct {
	APIKey     string
	Voice      Voice
	SampleRate int
	// Endpoint overrides the Deepgram speak URL.
	Endpoint string
}

type Renderer struct {
	apiKey   string
	voice    Voice
	encoding audio.EncodingInfo
	endpoint string
	dialer   *websocket.Dialer
}

func NewRenderer(cfg Config) (*Renderer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram api key is required")
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if !slices.Contains(GetAvailableVoices(), cfg.Voice) {
		return nil, fmt.Errorf("invalid voice %q", cfg.Voice)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	return &Renderer{
		apiKey:   cfg.APIKey,
		voice:    cfg.Voice,
		encoding: audio.EncodingInfo{SampleRate: cfg.SampleRate, Format: audio.EncodingLinear16},
		endpoint: cfg.Endpoint,
		dialer:   websocket.DefaultDialer,
	}, nil
}

type websocketMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

func speakMsg(text string) websocketMessage {
	return websocketMessage{Type: "Speak", Text: text}
}

// Render opens a speak session, sends the text followed by a flush and
// collects audio until Deepgram confirms the flush.
func (r *Renderer) Render(ctx context.Context, text string) (*texttospeech.Rendering, error) {
	ctx, span := tracer.Start(ctx, "render speech", trace.WithAttributes(
		attribute.String("tts.voice", string(r.voice)),
		attribute.Int("tts.text_length", len(text)),
	))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	pcm, err := r.speak(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return texttospeech.NewRendering(pcm, r.encoding), nil
}

func (r *Renderer) speak(ctx context.Context, text string) ([]byte, error) {
	endpoint, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("encoding", r.encoding.Format.Name())
	query.Set("sample_rate", strconv.Itoa(r.encoding.SampleRate))
	query.Set("model", string(r.voice))
	query.Set("container", "none")
	endpoint.RawQuery = query.Encode()

	conn, _, err := r.dialer.DialContext(ctx, endpoint.String(), http.Header{"Authorization": {"token " + r.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	defer conn.Close()

	// Unblocks ReadMessage when the turn is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(speakMsg(text)); err != nil {
		return nil, fmt.Errorf("failed to send speak message: %w", err)
	}
	if err := conn.WriteJSON(flushMsg); err != nil {
		return nil, fmt.Errorf("failed to send flush message: %w", err)
	}

	var pcm []byte
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("websocket read error: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			pcm = append(pcm, msg...)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				continue
			}
			switch parsedMsg.Type {
			case "Flushed":
				_ = conn.WriteJSON(closeMsg)
				return pcm, nil
			case "Warning":
				logger.WarnContext(ctx, "deepgram warning", "description", parsedMsg.Description)
			case "Error":
				return nil, fmt.Errorf("deepgram error: %s", parsedMsg.Description)
			}
		}
	}
}
