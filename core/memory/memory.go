// Package memory persists what was said in a group. The same store shape
// backs both the append-only history log and the context replayed to the
// model on every turn.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/koscakluka/ema-group/core/llms"
)

var ErrClosed = errors.New("memory store closed")

// Record is one persisted message.
type Record struct {
	ID        string           `msgpack:"id"`
	TurnID    string           `msgpack:"turn_id"`
	Role      llms.MessageRole `msgpack:"role"`
	Name      string           `msgpack:"name,omitempty"`
	Content   string           `msgpack:"content"`
	Timestamp time.Time        `msgpack:"ts"`
}

type Store interface {
	Append(ctx context.Context, groupID string, records ...Record) error
	Snapshot(ctx context.Context, groupID string) ([]Record, error)
	Close() error
}

// Messages converts records into model history, keeping at most the last
// limit entries (all of them when limit <= 0).
func Messages(records []Record, limit int) []llms.Message {
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	messages := make([]llms.Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, llms.Message{Role: record.Role, Name: record.Name, Content: record.Content})
	}
	return messages
}
