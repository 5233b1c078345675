package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack encodes the JSON document layout as MessagePack.
type Msgpack struct{}

// Name implements Codec.
func (Msgpack) Name() string { return CodecMsgpack }

// Encode implements Codec.
func (Msgpack) Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	w := toWire(m)
	return msgpack.Marshal(&w)
}

// Decode implements Codec.
func (Msgpack) Decode(payload []byte) (Message, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(payload, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}
