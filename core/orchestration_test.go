package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/llms"
	"github.com/koscakluka/ema-group/core/memory"
	"github.com/koscakluka/ema-group/core/payloads"
)

func submit(t *testing.T, o *Orchestrator, groupID, senderID, text string, intent inputs.Intent) SubmitResult {
	t.Helper()

	result, err := o.HandleBatchInput(context.Background(), groupID, senderID, newTestBatch(t, text, intent))
	if err != nil {
		t.Fatalf("failed to submit %q: %v", text, err)
	}
	return result
}

func snapshot(t *testing.T, o *Orchestrator, groupID string) GroupSnapshot {
	t.Helper()

	s, ok := o.Snapshot(groupID)
	if !ok {
		t.Fatalf("group %s not found", groupID)
	}
	return s
}

func TestTurnsFromTwoMembersAreProcessedInOrder(t *testing.T) {
	llm := newStubLLM()
	first := newGatedStream("First ", "answer.", false)
	second := newGatedStream("Second ", "answer.", false)
	llm.respond("T1", first)
	llm.respond("T2", second)

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a, b := newRecordingChannel("A"), newRecordingChannel("B")
	connectAll(t, o, "G1", a, b)

	r1 := submit(t, o, "G1", "A", "T1", inputs.IntentNormal)
	if r1.Decision != DecisionAdmitted || r1.Generation != 1 {
		t.Fatalf("expected T1 to be admitted at generation 1, got %+v", r1)
	}
	if s := snapshot(t, o, "G1"); s.CurrentSpeaker != "A" || s.State != StateProcessing {
		t.Fatalf("expected A to be speaking, got %+v", s)
	}

	r2 := submit(t, o, "G1", "B", "T2", inputs.IntentNormal)
	if r2.Decision != DecisionQueued {
		t.Fatalf("expected T2 to be queued, got %s", r2.Decision)
	}
	if s := snapshot(t, o, "G1"); !slices.Equal(s.QueuedTurnIDs, []string{r2.TurnID}) {
		t.Fatalf("expected T2 in the queue, got %v", s.QueuedTurnIDs)
	}

	close(first.release)
	waitForCondition(t, time.Second, "B to become the speaker", func() bool {
		return snapshot(t, o, "G1").CurrentSpeaker == "B"
	})

	close(second.release)
	waitForCondition(t, time.Second, "both full texts", func() bool {
		return len(a.ofType(payloads.TypeFullText)) == 2 && len(b.ofType(payloads.TypeFullText)) == 2
	})

	for _, ch := range []*recordingChannel{a, b} {
		fullTexts := ch.ofType(payloads.TypeFullText)
		if fullTexts[0].Text != "First answer." || fullTexts[1].Text != "Second answer." {
			t.Fatalf("%s received full texts out of order: %v", ch.id, ch.texts(payloads.TypeFullText))
		}
		if fullTexts[0].TurnID != r1.TurnID || fullTexts[1].TurnID != r2.TurnID {
			t.Fatalf("%s received full texts with wrong turn ids", ch.id)
		}
		if fullTexts[0].Generation != 1 || fullTexts[1].Generation != 2 {
			t.Fatalf("unexpected generations %d and %d", fullTexts[0].Generation, fullTexts[1].Generation)
		}

		controls := ch.texts(payloads.TypeControl)
		expected := []string{payloads.ControlChainStart, payloads.ControlChainEnd, payloads.ControlChainStart, payloads.ControlChainEnd}
		if !slices.Equal(controls, expected) {
			t.Fatalf("%s received unexpected controls %v", ch.id, controls)
		}
	}

	waitForCondition(t, time.Second, "the group to go idle", func() bool {
		return snapshot(t, o, "G1").State == StateIdle
	})
	s := snapshot(t, o, "G1")
	if !slices.Equal(s.History, []string{r1.TurnID, r2.TurnID}) {
		t.Fatalf("unexpected history %v", s.History)
	}
	if s.CurrentSpeaker != "" || s.Generation != 2 {
		t.Fatalf("unexpected idle snapshot %+v", s)
	}
}

func TestInterruptDiscardsPreemptedResult(t *testing.T) {
	llm := newStubLLM()
	stale := newGatedStream("", "Stale answer.", true)
	llm.respond("T3", stale)
	llm.respond("T4", textStream("Fresh answer."))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	c := newRecordingChannel("C")
	connectAll(t, o, "G2", c)

	r3 := submit(t, o, "G2", "C", "T3", inputs.IntentNormal)
	waitForCondition(t, time.Second, "T3 to reach the model", func() bool {
		return slices.Contains(llm.calls(), "T3")
	})

	r4 := submit(t, o, "G2", "C", "T4", inputs.IntentInterrupt)
	if r4.Decision != DecisionPreempted || r4.Generation != 2 {
		t.Fatalf("expected preemption at generation 2, got %+v", r4)
	}
	if r4.Preempted == nil || r4.Preempted.ID != r3.TurnID {
		t.Fatalf("expected T3 to be preempted")
	}

	waitForCondition(t, time.Second, "T4 to complete", func() bool {
		return len(c.ofType(payloads.TypeFullText)) == 1
	})

	// The model only now returns the answer for the cancelled turn.
	close(stale.release)
	<-stale.done

	if texts := c.texts(payloads.TypeFullText); !slices.Equal(texts, []string{"Fresh answer."}) {
		t.Fatalf("unexpected full texts %v", texts)
	}
	for _, payload := range c.received() {
		if payload.DisplayText != nil && strings.Contains(payload.DisplayText.Text, "Stale") {
			t.Fatalf("stale output reached the group: %+v", payload)
		}
	}

	var controls []string
	for _, payload := range c.ofType(payloads.TypeControl) {
		controls = append(controls, fmt.Sprintf("%s@%d", payload.Text, payload.Generation))
	}
	expected := []string{
		payloads.ControlChainStart + "@1",
		payloads.ControlInterruptSignal + "@2",
		payloads.ControlChainStart + "@3",
		payloads.ControlChainEnd + "@3",
	}
	if !slices.Equal(controls, expected) {
		t.Fatalf("unexpected controls %v", controls)
	}

	waitForCondition(t, time.Second, "the group to go idle", func() bool {
		return snapshot(t, o, "G2").State == StateIdle
	})
	if history := snapshot(t, o, "G2").History; !slices.Equal(history, []string{r4.TurnID}) {
		t.Fatalf("preempted turn must not enter the history, got %v", history)
	}
}

func TestUserInputIsRelayedToOtherMembers(t *testing.T) {
	llm := newStubLLM()
	llm.respond("Hello", textStream("Hi."))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a, b := newRecordingChannel("A"), newRecordingChannel("B")
	connectAll(t, o, "G", a, b)
	submit(t, o, "G", "A", "Hello", inputs.IntentNormal)

	waitForCondition(t, time.Second, "the response", func() bool {
		return len(b.ofType(payloads.TypeFullText)) == 1
	})

	if relayed := a.ofType(payloads.TypeUserInput); len(relayed) != 0 {
		t.Fatalf("sender must not receive its own input, got %+v", relayed)
	}
	relayed := b.ofType(payloads.TypeUserInput)
	if len(relayed) != 1 || relayed[0].Text != "Hello" || relayed[0].DisplayText.Name != "A" {
		t.Fatalf("unexpected relay %+v", relayed)
	}
	if len(a.ofType(payloads.TypeFullText)) != 1 {
		t.Fatalf("sender should receive the response")
	}
}

func TestFailingMemberIsDroppedWithoutAffectingOthers(t *testing.T) {
	llm := newStubLLM()
	llm.respond("Hello", textStream("Hello there."))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a, b := newRecordingChannel("A"), newRecordingChannel("B")
	connectAll(t, o, "G", a, b)
	a.setFailing()

	submit(t, o, "G", "B", "Hello", inputs.IntentNormal)
	waitForCondition(t, time.Second, "the response", func() bool {
		return len(b.ofType(payloads.TypeFullText)) == 1
	})

	if a.Alive() {
		t.Fatalf("failing channel should be marked dead")
	}
	if members := snapshot(t, o, "G").Members; !slices.Equal(members, []string{"B"}) {
		t.Fatalf("expected only B to remain, got %v", members)
	}
}

func TestGroupOfDeadMembersIsReclaimed(t *testing.T) {
	llm := newStubLLM()
	llm.respond("Hello", newGatedStream("", "Never sent.", false))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)
	a.setFailing()

	submit(t, o, "G", "A", "Hello", inputs.IntentNormal)
	waitForCondition(t, time.Second, "the group to be reclaimed", func() bool {
		return o.Registry().Len() == 0
	})
}

func TestTurnTimeoutFailsTurnAndAdvancesQueue(t *testing.T) {
	llm := newStubLLM()
	llm.respond("slow", newGatedStream("", "Too late.", false))
	llm.respond("next", textStream("Done."))

	o := NewOrchestrator(WithLLM(llm), WithTurnTimeout(50*time.Millisecond))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)

	submit(t, o, "G", "A", "slow", inputs.IntentNormal)
	next := submit(t, o, "G", "A", "next", inputs.IntentNormal)

	waitForCondition(t, 2*time.Second, "the queued turn to complete", func() bool {
		return len(a.ofType(payloads.TypeFullText)) == 1
	})

	failures := a.ofType(payloads.TypeError)
	if len(failures) != 1 || !strings.Contains(failures[0].Text, ErrCollaboratorTimeout.Error()) {
		t.Fatalf("expected a timeout error payload, got %+v", failures)
	}
	waitForCondition(t, time.Second, "the group to go idle", func() bool {
		return snapshot(t, o, "G").State == StateIdle
	})
	if history := snapshot(t, o, "G").History; !slices.Equal(history, []string{next.TurnID}) {
		t.Fatalf("failed turn must not enter the history, got %v", history)
	}
}

func TestModelErrorIsBroadcastAndQueueAdvances(t *testing.T) {
	llm := newStubLLM()
	llm.fail("boom", errors.New("rate limited"))
	llm.respond("fine", textStream("All good."))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)

	submit(t, o, "G", "A", "boom", inputs.IntentNormal)
	submit(t, o, "G", "A", "fine", inputs.IntentNormal)

	waitForCondition(t, time.Second, "the second turn", func() bool {
		return len(a.ofType(payloads.TypeFullText)) == 1
	})

	failures := a.ofType(payloads.TypeError)
	if len(failures) != 1 || !strings.Contains(failures[0].Text, "rate limited") {
		t.Fatalf("expected the model error to be broadcast, got %+v", failures)
	}
	controls := a.texts(payloads.TypeControl)
	expected := []string{payloads.ControlChainStart, payloads.ControlChainEnd, payloads.ControlChainStart, payloads.ControlChainEnd}
	if !slices.Equal(controls, expected) {
		t.Fatalf("unexpected controls %v", controls)
	}
}

func TestCompletedTurnsFeedTheModelHistory(t *testing.T) {
	llm := newStubLLM()
	llm.respond("Hello", textStream("Hello there."))
	llm.respond("Again", textStream("Still here."))

	o := NewOrchestrator(WithLLM(llm), WithCharacter("Mao", "", ""))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)

	submit(t, o, "G", "A", "Hello", inputs.IntentNormal)
	submit(t, o, "G", "A", "Again", inputs.IntentNormal)
	waitForCondition(t, time.Second, "both turns", func() bool {
		return len(a.ofType(payloads.TypeFullText)) == 2
	})

	llm.mu.Lock()
	history := llm.histories[1]
	llm.mu.Unlock()

	if len(history) != 2 {
		t.Fatalf("expected the first exchange in the history, got %+v", history)
	}
	if history[0].Role != llms.MessageRoleUser || history[0].Content != "Hello" || history[0].Name != "A" {
		t.Fatalf("unexpected user message %+v", history[0])
	}
	if history[1].Role != llms.MessageRoleAssistant || history[1].Content != "Hello there." {
		t.Fatalf("unexpected assistant message %+v", history[1])
	}
}

func TestSkipFlagsKeepTurnOutOfStores(t *testing.T) {
	llm := newStubLLM()
	llm.respond("quiet", textStream("Noted."))

	history, mem := memory.NewInMemory(), memory.NewInMemory()
	o := NewOrchestrator(WithLLM(llm), WithHistoryStore(history), WithMemoryStore(mem))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)

	batch, err := inputs.NewBatchInput([]inputs.TextTurnInput{{Content: "quiet"}}, nil, nil, inputs.Flags{SkipHistory: true}, inputs.IntentNormal)
	if err != nil {
		t.Fatalf("failed to build batch: %v", err)
	}
	if _, err := o.HandleBatchInput(context.Background(), "G", "A", batch); err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	waitForCondition(t, time.Second, "the response", func() bool {
		return len(a.ofType(payloads.TypeFullText)) == 1
	})

	if refs := snapshot(t, o, "G").History; len(refs) != 0 {
		t.Fatalf("expected no history refs, got %v", refs)
	}
	if records, _ := history.Snapshot(context.Background(), "G"); len(records) != 0 {
		t.Fatalf("expected empty history store, got %+v", records)
	}
	if records, _ := mem.Snapshot(context.Background(), "G"); len(records) != 2 {
		t.Fatalf("expected the exchange in memory, got %+v", records)
	}
}

func TestInterruptedTurnIsRememberedWithNote(t *testing.T) {
	llm := newStubLLM()
	llm.method = llms.InterruptMethodSystem
	llm.respond("T5", newGatedStream("Partial one. ", "Never said.", false))
	llm.respond("T6", textStream("Sure."))

	mem := memory.NewInMemory()
	o := NewOrchestrator(WithLLM(llm), WithMemoryStore(mem))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)

	submit(t, o, "G", "A", "T5", inputs.IntentNormal)
	waitForCondition(t, time.Second, "the partial answer", func() bool {
		return slices.Contains(a.texts(payloads.TypeAudio), "Partial one.")
	})

	submit(t, o, "G", "A", "T6", inputs.IntentInterrupt)
	waitForCondition(t, time.Second, "T6 to complete", func() bool {
		return len(a.ofType(payloads.TypeFullText)) == 1
	})

	records, err := mem.Snapshot(context.Background(), "G")
	if err != nil {
		t.Fatalf("failed to read memory: %v", err)
	}
	var got []string
	for _, record := range records {
		got = append(got, fmt.Sprintf("%s:%s", record.Role, record.Content))
	}
	expected := []string{
		"user:T5",
		"assistant:Partial one.",
		"system:" + llms.InterruptedNote,
		"user:T6",
		"assistant:Sure.",
	}
	if !slices.Equal(got, expected) {
		t.Fatalf("unexpected memory %v", got)
	}
}

func TestBareInterruptStopsActiveTurn(t *testing.T) {
	llm := newStubLLM()
	llm.respond("T7", newGatedStream("", "Never said.", false))
	llm.respond("T8", textStream("Eight."))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)

	submit(t, o, "G", "A", "T7", inputs.IntentNormal)
	submit(t, o, "G", "A", "T8", inputs.IntentNormal)

	if !o.Interrupt("G", "A") {
		t.Fatalf("expected the active turn to be interrupted")
	}
	waitForCondition(t, time.Second, "T8 to complete", func() bool {
		return len(a.ofType(payloads.TypeFullText)) == 1
	})

	if texts := a.texts(payloads.TypeFullText); !slices.Equal(texts, []string{"Eight."}) {
		t.Fatalf("unexpected full texts %v", texts)
	}
	if !slices.Contains(a.texts(payloads.TypeControl), payloads.ControlInterruptSignal) {
		t.Fatalf("expected an interrupt signal")
	}
	if o.Interrupt("unknown", "A") {
		t.Fatalf("unknown group has nothing to interrupt")
	}
}

func TestForwardDoesNotTouchTargetScheduling(t *testing.T) {
	o := NewOrchestrator(WithLLM(newStubLLM()))
	defer o.Close()

	a, b := newRecordingChannel("A"), newRecordingChannel("B")
	connectAll(t, o, "G1", a)
	connectAll(t, o, "G2", b)

	delivered := o.Forward("G1", "G2", payloads.NewFullText("relayed", "Mao", ""))
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}

	forwarded := b.ofType(payloads.TypeFullText)
	if len(forwarded) != 1 || !forwarded[0].IsForwarded() || forwarded[0].GroupID != "G1" {
		t.Fatalf("unexpected forwarded payload %+v", forwarded)
	}
	if len(a.ofType(payloads.TypeFullText)) != 0 {
		t.Fatalf("source group must not receive the relay")
	}
	if s := snapshot(t, o, "G2"); s.Generation != 0 || s.State != StateIdle || len(s.QueuedTurnIDs) != 0 {
		t.Fatalf("forwarding changed the target's scheduling: %+v", s)
	}
}

func TestLastMemberLeavingReclaimsGroup(t *testing.T) {
	llm := newStubLLM()
	llm.respond("T", newGatedStream("", "Never said.", false))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)
	submit(t, o, "G", "A", "T", inputs.IntentNormal)

	if err := o.Leave("G", "A"); err != nil {
		t.Fatalf("failed to leave: %v", err)
	}
	waitForCondition(t, time.Second, "the group to be reclaimed", func() bool {
		return o.Registry().Len() == 0
	})
	if err := o.Leave("G", "A"); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}

	// Rejoining starts from a clean slate.
	if err := o.Join("G", "A"); err != nil {
		t.Fatalf("failed to rejoin: %v", err)
	}
	if s := snapshot(t, o, "G"); s.Generation != 0 || len(s.History) != 0 {
		t.Fatalf("expected a fresh group, got %+v", s)
	}
}

func TestLeavingDropsQueuedTurnsOfLeaver(t *testing.T) {
	llm := newStubLLM()
	llm.respond("T1", newGatedStream("", "Done.", false))

	o := NewOrchestrator(WithLLM(llm))
	defer o.Close()

	a, b := newRecordingChannel("A"), newRecordingChannel("B")
	connectAll(t, o, "G", a, b)

	submit(t, o, "G", "A", "T1", inputs.IntentNormal)
	submit(t, o, "G", "B", "T2", inputs.IntentNormal)
	r3 := submit(t, o, "G", "A", "T3", inputs.IntentNormal)

	if err := o.Leave("G", "B"); err != nil {
		t.Fatalf("failed to leave: %v", err)
	}
	if err := o.Leave("G", "B"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}

	s := snapshot(t, o, "G")
	if !slices.Equal(s.QueuedTurnIDs, []string{r3.TurnID}) {
		t.Fatalf("expected only T3 to stay queued, got %v", s.QueuedTurnIDs)
	}
	if s.State != StateProcessing || s.CurrentSpeaker != "A" {
		t.Fatalf("the active turn should be unaffected, got %+v", s)
	}

	updates := a.ofType(payloads.TypeGroupUpdate)
	if last := updates[len(updates)-1]; !slices.Equal(last.Members, []string{"A"}) {
		t.Fatalf("expected a group update without B, got %v", last.Members)
	}
}

func TestDisconnectLeavesAllGroups(t *testing.T) {
	o := NewOrchestrator()
	defer o.Close()

	a, b := newRecordingChannel("A"), newRecordingChannel("B")
	connectAll(t, o, "G1", a)
	connectAll(t, o, "G2", b)
	if err := o.Join("G2", "A"); err != nil {
		t.Fatalf("failed to join: %v", err)
	}

	o.Disconnect("A")

	if _, ok := o.Snapshot("G1"); ok {
		t.Fatalf("G1 should have been reclaimed")
	}
	if members := snapshot(t, o, "G2").Members; !slices.Equal(members, []string{"B"}) {
		t.Fatalf("expected only B in G2, got %v", members)
	}
	if err := o.Join("G1", "A"); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient after disconnect, got %v", err)
	}
}

func TestClosedOrchestratorRejectsWork(t *testing.T) {
	o := NewOrchestrator()
	o.Close()

	if err := o.Connect(newRecordingChannel("A")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := o.HandleBatchInput(context.Background(), "G", "A", newTestBatch(t, "hi", inputs.IntentNormal)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseStopsRunningTurns(t *testing.T) {
	llm := newStubLLM()
	stream := newGatedStream("", "Never said.", false)
	llm.respond("T", stream)

	o := NewOrchestrator(WithLLM(llm))
	a := newRecordingChannel("A")
	connectAll(t, o, "G", a)
	submit(t, o, "G", "A", "T", inputs.IntentNormal)

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for close")
	}
}
