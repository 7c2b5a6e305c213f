package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/llms"
	"github.com/koscakluka/ema-group/core/memory"
	"github.com/koscakluka/ema-group/core/payloads"
	"github.com/koscakluka/ema-group/core/texttospeech"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator coordinates groups: it takes submissions, runs admitted
// turns against the model and broadcasts what comes back.
type Orchestrator struct {
	baseContext context.Context
	cancel      context.CancelFunc

	registry  *GroupRegistry
	scheduler *TurnScheduler
	router    *BroadcastRouter
	clients   *clientDirectory
	metrics   *Metrics

	llm      llms.Client
	renderer texttospeech.Renderer
	history  memory.Store
	memory   memory.Store

	character         character
	turnTimeout       time.Duration
	historyLimit      int
	sessionTags       []string
	emotionKeywords   []string
	metricsRegisterer prometheus.Registerer

	turns     sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		baseContext:  context.Background(),
		renderer:     texttospeech.Silent{},
		history:      memory.NewInMemory(),
		memory:       memory.NewInMemory(),
		turnTimeout:  defaultTurnTimeout,
		historyLimit: defaultHistoryLimit,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.baseContext, o.cancel = context.WithCancel(o.baseContext)
	o.registry = NewGroupRegistry(o.sessionTags)
	o.clients = newClientDirectory()
	if o.metricsRegisterer != nil {
		o.metrics = NewMetrics(o.metricsRegisterer, o.registry.Len)
	}
	o.scheduler = newTurnScheduler(o.baseContext, o.registry, o.metrics)
	o.router = newBroadcastRouter(o.registry, o.clients, o.metrics)

	return o
}

// Close cancels every running turn and waits for them to return.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.cancel()
		o.turns.Wait()
	})
}

func (o *Orchestrator) Registry() *GroupRegistry { return o.registry }
func (o *Orchestrator) Router() *BroadcastRouter { return o.router }

// Connect registers a client channel so it can join groups.
func (o *Orchestrator) Connect(ch ClientChannel) error {
	if o.closed.Load() {
		return ErrClosed
	}
	o.clients.add(ch)
	logger.Debug("client connected", "client_id", ch.ID())
	return nil
}

// Disconnect removes the client from every group it joined.
func (o *Orchestrator) Disconnect(clientID string) {
	for _, groupID := range o.clients.remove(clientID) {
		_ = o.leave(groupID, clientID)
	}
	logger.Debug("client disconnected", "client_id", clientID)
}

func (o *Orchestrator) Join(groupID, clientID string) error {
	if o.closed.Load() {
		return ErrClosed
	}
	if o.clients.get(clientID) == nil {
		return ErrUnknownClient
	}

	var evicted bool
	o.registry.withGroup(groupID, true, func(g *GroupState) {
		g.members[clientID] = struct{}{}
		o.clients.join(clientID, groupID)
		_, evicted = o.router.sendLocked(g, o.groupUpdate(g), "")
	})
	if evicted {
		o.registry.RemoveIfIdle(groupID)
	}

	logger.Info("client joined group", "group_id", groupID, "client_id", clientID)
	return nil
}

func (o *Orchestrator) Leave(groupID, clientID string) error {
	if err := o.leave(groupID, clientID); err != nil {
		return err
	}
	o.clients.leave(clientID, groupID)
	return nil
}

func (o *Orchestrator) leave(groupID, clientID string) error {
	var member bool
	found := o.registry.withGroup(groupID, false, func(g *GroupState) {
		if member = g.isMember(clientID); !member {
			return
		}
		if _, preempted := g.removeMember(clientID); preempted {
			o.metrics.preempted()
		}
		if len(g.members) > 0 {
			o.router.sendLocked(g, o.groupUpdate(g), "")
		}
	})
	switch {
	case !found:
		return ErrUnknownGroup
	case !member:
		return ErrNotMember
	}

	o.registry.RemoveIfIdle(groupID)
	logger.Info("client left group", "group_id", groupID, "client_id", clientID)
	return nil
}

func (o *Orchestrator) groupUpdate(g *GroupState) payloads.Payload {
	return payloads.NewGroupUpdate(g.memberIDs()).Stamp(g.id, "", g.generation, g.sessionTag)
}

// HandleBatchInput submits batch on behalf of senderID. The call returns
// once the turn has been admitted, queued or has preempted the active one;
// the response is delivered asynchronously through the group broadcast.
func (o *Orchestrator) HandleBatchInput(ctx context.Context, groupID, senderID string, batch inputs.BatchInput) (SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "handle batch input", trace.WithAttributes(
		attribute.String("group.id", groupID),
		attribute.String("client.id", senderID),
		attribute.String("turn.intent", string(batch.Intent())),
	))
	defer span.End()

	if o.closed.Load() {
		span.SetStatus(codes.Error, ErrClosed.Error())
		return SubmitResult{}, ErrClosed
	}

	turn := &QueuedTurn{
		ID:          uuid.NewString(),
		Input:       batch,
		SubmittedBy: senderID,
		EnqueuedAt:  time.Now(),
	}

	result := o.scheduler.Submit(groupID, turn, func(g *GroupState, result SubmitResult) {
		if result.Decision == DecisionPreempted {
			signal := payloads.NewControl(payloads.ControlInterruptSignal).Stamp(g.id, turn.ID, result.Generation, g.sessionTag)
			o.router.sendLocked(g, signal, "")
		}
		relay := payloads.NewUserInput(batch.Prompt(), senderName(turn)).Stamp(g.id, turn.ID, result.Generation, g.sessionTag)
		o.router.sendLocked(g, relay, senderID)
	})

	span.SetAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.String("turn.decision", result.Decision.String()),
		attribute.Int64("group.generation", int64(result.Generation)),
	)
	logger.InfoContext(ctx, "turn submitted",
		"group_id", groupID,
		"turn_id", turn.ID,
		"client_id", senderID,
		"decision", result.Decision.String(),
		"generation", result.Generation,
	)
	if result.Superseded != nil {
		logger.InfoContext(ctx, "pending interrupt superseded", "group_id", groupID, "turn_id", result.Superseded.ID)
	}

	if result.Admission != nil {
		o.startTurn(result.Admission)
	}
	return result, nil
}

// Interrupt stops the group's active response without submitting anything.
func (o *Orchestrator) Interrupt(groupID, clientID string) bool {
	return o.scheduler.Interrupt(groupID, func(g *GroupState) {
		signal := payloads.NewControl(payloads.ControlInterruptSignal).Stamp(g.id, "", g.generation, g.sessionTag)
		o.router.sendLocked(g, signal, "")
		logger.Info("turn interrupted", "group_id", groupID, "client_id", clientID, "generation", g.generation)
	})
}

// Forward relays payload from sourceGroupID into targetGroupID. The relay
// is a plain broadcast: it neither queues nor preempts anything in the
// target group and keeps the source group's id and generation.
func (o *Orchestrator) Forward(sourceGroupID, targetGroupID string, payload payloads.Payload) int {
	payload = payload.AsForwarded()
	if payload.GroupID == "" {
		payload.GroupID = sourceGroupID
	}
	return o.router.SendToGroup(targetGroupID, payload, "")
}

func (o *Orchestrator) Snapshot(groupID string) (GroupSnapshot, bool) {
	var snapshot GroupSnapshot
	found := o.registry.withGroup(groupID, false, func(g *GroupState) {
		snapshot = g.snapshot()
	})
	return snapshot, found
}

func (o *Orchestrator) startTurn(admission *Admission) {
	o.turns.Add(1)
	go func() {
		defer o.turns.Done()
		o.runTurn(admission)
	}()
}

func (o *Orchestrator) stamp(admission *Admission, payload payloads.Payload) payloads.Payload {
	return payload.Stamp(admission.GroupID, admission.Turn.ID, admission.Generation, admission.SessionTag)
}

func (o *Orchestrator) runTurn(admission *Admission) {
	ctx, span := tracer.Start(admission.Context(), "process turn", trace.WithAttributes(
		attribute.String("group.id", admission.GroupID),
		attribute.String("turn.id", admission.Turn.ID),
		attribute.Int64("group.generation", int64(admission.Generation)),
	))
	defer span.End()

	o.router.SendIfCurrent(admission.GroupID, admission.Generation,
		o.stamp(admission, payloads.NewControl(payloads.ControlChainStart)), "")

	turnCtx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	sentences, err := o.respond(turnCtx, admission)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s", ErrCollaboratorTimeout, o.turnTimeout)
	}
	if err != nil && ctx.Err() == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.finishTurn(ctx, admission, joinSentences(sentences), err)
}

// respond streams the model's answer and broadcasts it sentence by
// sentence. It returns the sentences delivered so far, even on error.
func (o *Orchestrator) respond(ctx context.Context, admission *Admission) ([]string, error) {
	if o.llm == nil {
		return nil, &CollaboratorError{Collaborator: "llm", Err: errors.New("no llm configured")}
	}

	records, err := o.memory.Snapshot(ctx, admission.GroupID)
	if err != nil {
		logger.WarnContext(ctx, "failed to read memory, continuing without history", "group_id", admission.GroupID, "error", err)
		records = nil
	}

	stream, err := o.llm.Complete(ctx, memory.Messages(records, o.historyLimit), admission.Turn.Input,
		llms.WithInstructions(o.character.instructions),
		llms.WithCharacterName(o.character.name),
	)
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "llm", Err: err}
	}

	buffer := newTextBuffer()
	stop := context.AfterFunc(ctx, buffer.Clear)
	defer stop()

	read := panicSafeNamedWorker("llm stream", func(ctx context.Context) error {
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				return err
			}
			if content, ok := chunk.(llms.StreamContentChunk); ok && content.Content() != "" {
				buffer.AddChunk(content.Content())
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	})
	go func() {
		if err := read(ctx); err != nil {
			buffer.Fail(err)
			return
		}
		buffer.TextComplete()
	}()

	var sentences []string
	for sentence := range buffer.Sentences {
		text, err := o.speak(ctx, admission, sentence)
		if err != nil {
			return sentences, err
		}
		if text != "" {
			sentences = append(sentences, text)
		}
	}

	if err := ctx.Err(); err != nil {
		return sentences, err
	}
	if err := buffer.Err(); err != nil {
		return sentences, &CollaboratorError{Collaborator: "llm", Err: err}
	}
	return sentences, nil
}

// speak renders one sentence and broadcasts it. Speech failures degrade to
// a text only payload.
func (o *Orchestrator) speak(ctx context.Context, admission *Admission, sentence string) (string, error) {
	text, actions := payloads.ExtractActions(sentence, o.emotionKeywords)
	if text == "" && actions.IsEmpty() {
		return "", nil
	}

	speech := payloads.Speech{
		Text:    text,
		Name:    o.character.name,
		Avatar:  o.character.avatar,
		Actions: actions,
	}

	if text != "" {
		rendering, err := o.renderer.Render(ctx, text)
		switch {
		case ctx.Err() != nil:
			return text, ctx.Err()
		case err != nil:
			logger.WarnContext(ctx, "speech rendering failed, sending text only",
				"group_id", admission.GroupID, "turn_id", admission.Turn.ID,
				"error", &CollaboratorError{Collaborator: "tts", Err: err})
		case rendering != nil:
			speech.Audio = rendering.Audio
			speech.Volumes = rendering.Volumes
			speech.SliceLength = rendering.SliceLength
		}
	}

	if !o.router.SendIfCurrent(admission.GroupID, admission.Generation, o.stamp(admission, payloads.NewAudio(speech)), "") {
		return text, ErrStaleResult
	}
	return text, nil
}

func (o *Orchestrator) finishTurn(ctx context.Context, admission *Admission, response string, turnErr error) {
	result := o.scheduler.Finish(admission.GroupID, admission.Turn.ID, admission.Generation, func(g *GroupState, current bool) {
		switch {
		case !current:
			o.recordInterrupted(admission, response)
		case turnErr != nil:
			o.router.sendLocked(g, o.stamp(admission, payloads.NewError(fmt.Sprintf("turn failed: %v", turnErr))), "")
			o.router.sendLocked(g, o.stamp(admission, payloads.NewControl(payloads.ControlChainEnd)), "")
		default:
			o.commit(g, admission, response)
			o.router.sendLocked(g, o.stamp(admission, payloads.NewFullText(response, o.character.name, o.character.avatar)), "")
			o.router.sendLocked(g, o.stamp(admission, payloads.NewControl(payloads.ControlChainEnd)), "")
		}
	})

	outcome := "completed"
	switch {
	case result.Stale:
		outcome = "cancelled"
		logger.DebugContext(ctx, "discarded stale turn result",
			"group_id", admission.GroupID, "turn_id", admission.Turn.ID, "generation", admission.Generation)
	case turnErr != nil:
		outcome = "failed"
		logger.ErrorContext(ctx, "turn failed",
			"group_id", admission.GroupID, "turn_id", admission.Turn.ID, "error", turnErr)
	}
	o.metrics.turnFinished(outcome)

	if result.Next != nil {
		o.startTurn(result.Next)
	}
}

// commit runs under the group lock, so turns reach the history in
// admission order.
func (o *Orchestrator) commit(g *GroupState, admission *Admission, response string) {
	flags := admission.Turn.Input.Flags()
	records := o.exchange(admission, response)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.baseContext), storeWriteTimeout)
	defer cancel()

	if !flags.SkipHistory {
		g.history = append(g.history, admission.Turn.ID)
		if err := o.history.Append(ctx, admission.GroupID, records...); err != nil {
			logger.ErrorContext(ctx, "failed to append history", "group_id", admission.GroupID, "turn_id", admission.Turn.ID, "error", err)
		}
	}
	if !flags.SkipMemory {
		if err := o.memory.Append(ctx, admission.GroupID, records...); err != nil {
			logger.ErrorContext(ctx, "failed to append memory", "group_id", admission.GroupID, "turn_id", admission.Turn.ID, "error", err)
		}
	}
}

// recordInterrupted keeps what was said before the interruption in memory
// so the model knows it was cut off.
func (o *Orchestrator) recordInterrupted(admission *Admission, response string) {
	if admission.Turn.Input.Flags().SkipMemory || response == "" {
		return
	}

	records := o.exchange(admission, response)
	role := llms.MessageRoleUser
	if o.llm != nil {
		role = o.llm.InterruptMethod().Role()
	}
	records = append(records, memory.Record{
		ID:        uuid.NewString(),
		TurnID:    admission.Turn.ID,
		Role:      role,
		Content:   llms.InterruptedNote,
		Timestamp: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.baseContext), storeWriteTimeout)
	defer cancel()
	if err := o.memory.Append(ctx, admission.GroupID, records...); err != nil {
		logger.ErrorContext(ctx, "failed to record interrupted turn", "group_id", admission.GroupID, "turn_id", admission.Turn.ID, "error", err)
	}
}

func (o *Orchestrator) exchange(admission *Admission, response string) []memory.Record {
	now := time.Now()
	return []memory.Record{
		{
			ID:        uuid.NewString(),
			TurnID:    admission.Turn.ID,
			Role:      llms.MessageRoleUser,
			Name:      senderName(admission.Turn),
			Content:   admission.Turn.Input.Prompt(),
			Timestamp: now,
		},
		{
			ID:        uuid.NewString(),
			TurnID:    admission.Turn.ID,
			Role:      llms.MessageRoleAssistant,
			Name:      o.character.name,
			Content:   response,
			Timestamp: now,
		},
	}
}
