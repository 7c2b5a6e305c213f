package ws

import (
	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-group/core/payloads"
)

// InboundSchema describes the messages clients send.
func InboundSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(Message{})
}

// OutboundSchema describes the payloads the server pushes.
func OutboundSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(payloads.Payload{})
}
