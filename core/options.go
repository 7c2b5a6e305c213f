package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-group/core/llms"
	"github.com/koscakluka/ema-group/core/memory"
	"github.com/koscakluka/ema-group/core/texttospeech"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultTurnTimeout  = 60 * time.Second
	defaultHistoryLimit = 50
	storeWriteTimeout   = 5 * time.Second
)

type OrchestratorOption func(*Orchestrator)

type character struct {
	name         string
	avatar       string
	instructions string
}

func WithBaseContext(ctx context.Context) OrchestratorOption {
	return func(o *Orchestrator) { o.baseContext = ctx }
}

func WithLLM(client llms.Client) OrchestratorOption {
	return func(o *Orchestrator) { o.llm = client }
}

// WithRenderer enables speech. Without it responses are sent as text only.
func WithRenderer(renderer texttospeech.Renderer) OrchestratorOption {
	return func(o *Orchestrator) { o.renderer = renderer }
}

// WithHistoryStore sets the append-only log of processed turns.
func WithHistoryStore(store memory.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.history = store }
}

// WithMemoryStore sets the store replayed to the model as context.
func WithMemoryStore(store memory.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.memory = store }
}

// WithTurnTimeout bounds each collaborator call. Expiry fails the turn.
func WithTurnTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.turnTimeout = timeout
		}
	}
}

func WithCharacter(name, avatar, instructions string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.character = character{name: name, avatar: avatar, instructions: instructions}
	}
}

// WithSessionTags sets the decorative markers a new group picks from.
func WithSessionTags(tags ...string) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionTags = tags }
}

// WithEmotionKeywords sets the bracketed markers turned into expression
// actions.
func WithEmotionKeywords(keywords ...string) OrchestratorOption {
	return func(o *Orchestrator) { o.emotionKeywords = keywords }
}

// WithHistoryLimit caps how many stored messages are replayed to the model.
func WithHistoryLimit(limit int) OrchestratorOption {
	return func(o *Orchestrator) { o.historyLimit = limit }
}

func WithMetricsRegisterer(reg prometheus.Registerer) OrchestratorOption {
	return func(o *Orchestrator) { o.metricsRegisterer = reg }
}
