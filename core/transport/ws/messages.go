package ws

import (
	"fmt"

	"github.com/koscakluka/ema-group/core/inputs"
)

type MessageType string

const (
	MessageJoinGroup  MessageType = "join-group"
	MessageLeaveGroup MessageType = "leave-group"
	MessageTextInput  MessageType = "text-input"
	MessageInterrupt  MessageType = "interrupt"
	MessageHeartbeat  MessageType = "heartbeat"
	MessageForward    MessageType = "forward"
)

// Message is anything a client can send over the socket.
type Message struct {
	Type    MessageType `json:"type" jsonschema:"enum=join-group,enum=leave-group,enum=text-input,enum=interrupt,enum=heartbeat,enum=forward"`
	GroupID string      `json:"group_id,omitempty" jsonschema:"description=Target group; required for everything but heartbeat. For forward it is the group relayed from"`

	// TargetGroupID is where a forward message is relayed to.
	TargetGroupID string `json:"target_group_id,omitempty"`

	// Text and FromName are a shorthand for a single entry in Texts.
	Text     string                 `json:"text,omitempty"`
	FromName string                 `json:"from_name,omitempty"`
	Texts    []inputs.TextTurnInput `json:"texts,omitempty"`
	Images   []inputs.ImageRef      `json:"images,omitempty"`
	Files    []inputs.FileRef       `json:"files,omitempty"`
	Flags    map[string]bool        `json:"flags,omitempty" jsonschema:"description=Any of proactive_speak skip_memory skip_history"`
	Intent   string                 `json:"intent,omitempty" jsonschema:"enum=normal,enum=interrupt,enum=proactive_speak"`
}

func (m Message) validate() error {
	switch m.Type {
	case MessageHeartbeat:
		return nil
	case MessageJoinGroup, MessageLeaveGroup, MessageTextInput, MessageInterrupt:
		if m.GroupID == "" {
			return fmt.Errorf("%s requires group_id", m.Type)
		}
		return nil
	case MessageForward:
		switch {
		case m.GroupID == "" || m.TargetGroupID == "":
			return fmt.Errorf("%s requires group_id and target_group_id", m.Type)
		case m.GroupID == m.TargetGroupID:
			return fmt.Errorf("%s target must differ from group_id", m.Type)
		case m.Text == "":
			return fmt.Errorf("%s requires text", m.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

// Batch builds the turn input carried by a text-input message.
func (m Message) Batch() (inputs.BatchInput, error) {
	flags, err := inputs.ParseFlags(m.Flags)
	if err != nil {
		return inputs.BatchInput{}, err
	}
	intent, err := inputs.ParseIntent(m.Intent)
	if err != nil {
		return inputs.BatchInput{}, err
	}

	texts := m.Texts
	if m.Text != "" {
		texts = append([]inputs.TextTurnInput{{Source: inputs.TextSourceInput, Content: m.Text, FromName: m.FromName}}, texts...)
	}
	return inputs.NewBatchInput(texts, m.Images, m.Files, flags, intent)
}
