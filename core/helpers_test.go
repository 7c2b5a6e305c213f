package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/llms"
	"github.com/koscakluka/ema-group/core/payloads"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

type stubLLM struct {
	mu        sync.Mutex
	streams   map[string]llms.Stream
	errs      map[string]error
	prompts   []string
	histories [][]llms.Message
	method    llms.InterruptMethod
}

func newStubLLM() *stubLLM {
	return &stubLLM{streams: map[string]llms.Stream{}, errs: map[string]error{}}
}

func (s *stubLLM) respond(prompt string, stream llms.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[prompt] = stream
}

func (s *stubLLM) fail(prompt string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[prompt] = err
}

func (s *stubLLM) Complete(_ context.Context, history []llms.Message, input inputs.BatchInput, _ ...llms.CompleteOption) (llms.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompt := input.Prompt()
	s.prompts = append(s.prompts, prompt)
	s.histories = append(s.histories, history)
	if err, ok := s.errs[prompt]; ok {
		return nil, err
	}
	if stream, ok := s.streams[prompt]; ok {
		return stream, nil
	}
	return nil, errors.New("unexpected prompt " + prompt)
}

func (s *stubLLM) InterruptMethod() llms.InterruptMethod {
	if s.method == "" {
		return llms.InterruptMethodUser
	}
	return s.method
}

func (s *stubLLM) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// textStream yields its text word by word.
type textStream string

func (s textStream) Chunks(context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, word := range strings.SplitAfter(string(s), " ") {
			if !yield(llms.NewContentChunk(word, nil), nil) {
				return
			}
		}
	}
}

// gatedStream yields before right away and after once release is closed.
// Unless ignoreCancel is set it gives up when the context is cancelled.
type gatedStream struct {
	before, after string
	ignoreCancel  bool
	release       chan struct{}
	done          chan struct{}
}

func newGatedStream(before, after string, ignoreCancel bool) *gatedStream {
	return &gatedStream{
		before:       before,
		after:        after,
		ignoreCancel: ignoreCancel,
		release:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (s *gatedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		defer close(s.done)

		if s.before != "" && !yield(llms.NewContentChunk(s.before, nil), nil) {
			return
		}

		if s.ignoreCancel {
			<-s.release
		} else {
			select {
			case <-s.release:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}

		if s.after != "" {
			yield(llms.NewContentChunk(s.after, nil), nil)
		}
	}
}

type recordingChannel struct {
	id string

	mu       sync.Mutex
	payloads []payloads.Payload
	failing  bool
	dead     bool
}

func newRecordingChannel(id string) *recordingChannel {
	return &recordingChannel{id: id}
}

func (c *recordingChannel) ID() string { return c.id }

func (c *recordingChannel) Send(payload payloads.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingChannel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

func (c *recordingChannel) MarkDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
}

func (c *recordingChannel) setFailing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = true
}

func (c *recordingChannel) received() []payloads.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]payloads.Payload(nil), c.payloads...)
}

func (c *recordingChannel) ofType(kind payloads.Type) []payloads.Payload {
	var matching []payloads.Payload
	for _, payload := range c.received() {
		if payload.Type == kind {
			matching = append(matching, payload)
		}
	}
	return matching
}

func (c *recordingChannel) texts(kind payloads.Type) []string {
	var texts []string
	for _, payload := range c.ofType(kind) {
		if payload.DisplayText != nil && kind != payloads.TypeControl {
			texts = append(texts, payload.DisplayText.Text)
		} else {
			texts = append(texts, payload.Text)
		}
	}
	return texts
}

func connectAll(t *testing.T, o *Orchestrator, groupID string, channels ...*recordingChannel) {
	t.Helper()

	for _, ch := range channels {
		if err := o.Connect(ch); err != nil {
			t.Fatalf("failed to connect %s: %v", ch.id, err)
		}
		if err := o.Join(groupID, ch.id); err != nil {
			t.Fatalf("failed to join %s: %v", ch.id, err)
		}
	}
}

func groupsOf(d *clientDirectory, clientID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	groups := make([]string, 0, len(d.memberships[clientID]))
	for groupID := range d.memberships[clientID] {
		groups = append(groups, groupID)
	}
	return groups
}
