package orchestration

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// textBuffer hands streamed model output from the goroutine reading the
// stream to the turn runner. Clear unblocks a waiting reader for good.
type textBuffer struct {
	mu             sync.Mutex
	chunks         []string
	chunksConsumed int
	textComplete   bool
	cleared        bool
	err            error
	updateSignal   chan struct{}
}

func newTextBuffer() *textBuffer {
	return &textBuffer{updateSignal: make(chan struct{}, 1)}
}

func (b *textBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) TextComplete() {
	b.mu.Lock()
	b.textComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Fail ends the text with an error.
func (b *textBuffer) Fail(err error) {
	b.mu.Lock()
	b.err = err
	b.textComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *textBuffer) Chunks(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.chunksConsumed < len(b.chunks) {
			chunk := b.chunks[b.chunksConsumed]
			b.chunksConsumed++
			b.mu.Unlock()
			if !yield(chunk) {
				return
			}
			continue
		}

		if b.textComplete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// Sentences regroups the chunks into sentences, trimmed of surrounding
// whitespace. Trailing text without a terminator is yielded once the text
// is complete.
func (b *textBuffer) Sentences(yield func(string) bool) {
	pending := ""
	for chunk := range b.Chunks {
		pending += chunk
		for {
			end := sentenceEnd(pending)
			if end < 0 {
				break
			}
			sentence := strings.TrimSpace(pending[:end])
			pending = pending[end:]
			if sentence == "" {
				continue
			}
			if !yield(sentence) {
				return
			}
		}
	}

	if b.isCleared() {
		return
	}
	if rest := strings.TrimSpace(pending); rest != "" {
		yield(rest)
	}
}

func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.chunks, "")
}

func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) isCleared() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleared
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}

// sentenceEnd returns the byte offset just past the first complete
// sentence in s, or -1. Latin terminators only count once followed by
// whitespace so "3.14" is not split mid stream.
func sentenceEnd(s string) int {
	for i, r := range s {
		width := utf8.RuneLen(r)
		switch r {
		case '\n', '。', '！', '？':
			return i + width
		case '.', '!', '?':
			next := i + width
			if next < len(s) && (s[next] == ' ' || s[next] == '\n' || s[next] == '\t') {
				return next
			}
		}
	}
	return -1
}
