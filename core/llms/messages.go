package llms

import (
	"fmt"
)

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single entry of the conversation history handed to a model.
type Message struct {
	Role    MessageRole
	Name    string
	Content string
}

// InterruptMethod decides how an interruption is recorded in the history:
// some providers reject consecutive system messages mid conversation, so the
// note can be sent as a user message instead.
type InterruptMethod string

const (
	InterruptMethodSystem InterruptMethod = "system"
	InterruptMethodUser   InterruptMethod = "user"
)

const InterruptedNote = "[Interrupted by user]"

func ParseInterruptMethod(raw string) (InterruptMethod, error) {
	switch InterruptMethod(raw) {
	case "":
		return InterruptMethodUser, nil
	case InterruptMethodSystem, InterruptMethodUser:
		return InterruptMethod(raw), nil
	default:
		return "", fmt.Errorf("unknown interrupt method %q", raw)
	}
}

// Role returns the history role used to record an interruption.
func (m InterruptMethod) Role() MessageRole {
	if m == InterruptMethodSystem {
		return MessageRoleSystem
	}
	return MessageRoleUser
}
