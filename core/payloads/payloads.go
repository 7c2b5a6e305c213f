// Package payloads holds the outbound wire contract delivered to group
// members.
package payloads

import (
	"encoding/base64"
)

type Type string

const (
	TypeAudio       Type = "audio"
	TypeFullText    Type = "full-text"
	TypeControl     Type = "control"
	TypeError       Type = "error"
	TypeGroupUpdate Type = "group-update"
	TypeUserInput   Type = "user-input"
)

const (
	ControlChainStart      = "conversation-chain-start"
	ControlChainEnd        = "conversation-chain-end"
	ControlInterruptSignal = "interrupt-signal"
	ControlHeartbeatAck    = "heartbeat-ack"
)

type DisplayText struct {
	Text   string `json:"text"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Actions struct {
	Expressions []string `json:"expressions,omitempty"`
	Pictures    []string `json:"pictures,omitempty"`
	Sounds      []string `json:"sounds,omitempty"`
}

func (a *Actions) IsEmpty() bool {
	return a == nil || (len(a.Expressions) == 0 && len(a.Pictures) == 0 && len(a.Sounds) == 0)
}

// Payload is one message pushed to a client. Recipients keep only payloads
// carrying the latest generation for a group.
type Payload struct {
	Type        Type         `json:"type"`
	Audio       *string      `json:"audio,omitempty"`
	Volumes     []float64    `json:"volumes,omitempty"`
	SliceLength *int         `json:"slice_length,omitempty"`
	DisplayText *DisplayText `json:"display_text,omitempty"`
	Actions     *Actions     `json:"actions,omitempty"`
	Forwarded   *bool        `json:"forwarded,omitempty"`

	GroupID    string   `json:"group_id,omitempty"`
	TurnID     string   `json:"turn_id,omitempty"`
	Generation uint64   `json:"generation,omitempty"`
	SessionTag string   `json:"session_tag,omitempty"`
	Text       string   `json:"text,omitempty"`
	Members    []string `json:"members,omitempty"`
}

// Speech is everything needed to build an audio payload for one segment of
// a response.
type Speech struct {
	Text        string
	Audio       []byte
	Volumes     []float64
	SliceLength int
	Name        string
	Avatar      string
	Actions     Actions
}

func NewAudio(speech Speech) Payload {
	payload := Payload{
		Type:        TypeAudio,
		DisplayText: &DisplayText{Text: speech.Text, Name: speech.Name, Avatar: speech.Avatar},
	}
	if len(speech.Audio) > 0 {
		encoded := base64.StdEncoding.EncodeToString(speech.Audio)
		payload.Audio = &encoded
		payload.Volumes = speech.Volumes
		sliceLength := speech.SliceLength
		payload.SliceLength = &sliceLength
	}
	if !speech.Actions.IsEmpty() {
		actions := speech.Actions
		payload.Actions = &actions
	}
	return payload
}

func NewFullText(text, name, avatar string) Payload {
	return Payload{Type: TypeFullText, Text: text, DisplayText: &DisplayText{Text: text, Name: name, Avatar: avatar}}
}

func NewControl(signal string) Payload {
	return Payload{Type: TypeControl, Text: signal}
}

func NewError(message string) Payload {
	return Payload{Type: TypeError, Text: message}
}

func NewGroupUpdate(members []string) Payload {
	return Payload{Type: TypeGroupUpdate, Members: members}
}

func NewUserInput(text, from string) Payload {
	return Payload{Type: TypeUserInput, Text: text, DisplayText: &DisplayText{Text: text, Name: from}}
}

// AsForwarded returns a copy of the payload marked as relayed from another
// group.
func (p Payload) AsForwarded() Payload {
	forwarded := true
	p.Forwarded = &forwarded
	return p
}

func (p Payload) IsForwarded() bool {
	return p.Forwarded != nil && *p.Forwarded
}

// Stamp tags the payload with the group and turn it belongs to.
func (p Payload) Stamp(groupID, turnID string, generation uint64, sessionTag string) Payload {
	p.GroupID = groupID
	p.TurnID = turnID
	p.Generation = generation
	p.SessionTag = sessionTag
	return p
}
