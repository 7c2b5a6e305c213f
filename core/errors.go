package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrCollaboratorTimeout is reported when a turn runs past its deadline.
	ErrCollaboratorTimeout = errors.New("collaborator call timed out")
	// ErrStaleResult marks a result that belongs to a preempted generation.
	// It is never surfaced to clients.
	ErrStaleResult = errors.New("stale result discarded")

	ErrUnknownClient = errors.New("unknown client")
	ErrNotMember     = errors.New("client is not a member of the group")
	ErrUnknownGroup  = errors.New("unknown group")
	ErrClosed        = errors.New("orchestrator closed")
)

// CollaboratorError wraps a failure of the model or speech collaborator.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// SendError is a failed delivery to one client.
type SendError struct {
	ClientID string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to client %s failed: %v", e.ClientID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
