package protocol

import (
	"encoding/json"
	"fmt"
)

// JSON is the default codec, readable by legacy MQTT game clients.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return CodecJSON }

// Encode implements Codec.
func (JSON) Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(toWire(m))
}

// Decode implements Codec. Unknown fields are ignored.
func (JSON) Decode(payload []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}
