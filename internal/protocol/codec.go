package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCodec is returned by Lookup for unsupported codec names.
var ErrUnknownCodec = errors.New("protocol: unknown codec")

// Codec converts messages to and from payload bytes. Every peer on a topic must use the
// same codec.
type Codec interface {
	Name() string
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// Codec names accepted by Lookup.
const (
	CodecJSON    = "json"
	CodecBinary  = "binary"
	CodecMsgpack = "msgpack"
)

// Names lists the available codecs.
func Names() []string { return []string{CodecJSON, CodecBinary, CodecMsgpack} }

// Lookup resolves a codec by name; the empty name selects JSON.
func Lookup(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSON{}, nil
	case CodecBinary, "protobuf":
		return Binary{}, nil
	case CodecMsgpack:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCodec, name)
	}
}
