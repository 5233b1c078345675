package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"flappysync/internal/state"
)

// Field numbers of the binary layout. The layout is protobuf compatible:
//
//	message Envelope {
//	  uint32 version = 1;
//	  uint32 kind    = 2;
//	  string sender  = 3;
//	  uint32 tag     = 4;
//	  double y       = 5;
//	  uint32 score   = 6;
//	  bool   alive   = 7;
//	  uint32 phase   = 8;
//	  sint64 seed    = 9;
//	}
const (
	fieldVersion protowire.Number = 1
	fieldKind    protowire.Number = 2
	fieldSender  protowire.Number = 3
	fieldTag     protowire.Number = 4
	fieldY       protowire.Number = 5
	fieldScore   protowire.Number = 6
	fieldAlive   protowire.Number = 7
	fieldPhase   protowire.Number = 8
	fieldSeed    protowire.Number = 9
)

// Binary is a compact protobuf wire encoding of Message.
type Binary struct{}

// Name implements Codec.
func (Binary) Name() string { return CodecBinary }

// Encode implements Codec.
func (Binary) Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	version := m.Version
	if version == 0 {
		version = Version
	}
	buf := make([]byte, 0, 48+len(m.Sender))
	buf = appendVarint(buf, fieldVersion, uint64(version))
	buf = appendVarint(buf, fieldKind, uint64(m.Kind))
	buf = protowire.AppendTag(buf, fieldSender, protowire.BytesType)
	buf = protowire.AppendString(buf, m.Sender)
	if m.Phase != PhaseUnknown {
		buf = appendVarint(buf, fieldPhase, uint64(m.Phase))
	}
	switch m.Kind {
	case KindState:
		buf = appendVarint(buf, fieldTag, uint64(m.Tag))
		buf = protowire.AppendTag(buf, fieldY, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, math.Float64bits(m.Y))
		buf = appendVarint(buf, fieldScore, uint64(m.Score))
		buf = appendVarint(buf, fieldAlive, protowire.EncodeBool(m.Alive))
	case KindRoundStart:
		buf = protowire.AppendTag(buf, fieldSeed, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(m.Seed))
	}
	return buf, nil
}

func appendVarint(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

// Decode implements Codec. Unknown fields are skipped.
func (Binary) Decode(payload []byte) (Message, error) {
	m := Message{Version: Version}
	if len(payload) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		payload = payload[n:]

		var err error
		switch {
		case num == fieldSender && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(payload)
			m.Sender = v
		case num == fieldY && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(payload)
			m.Y = math.Float64frombits(v)
		case typ == protowire.VarintType && num >= fieldVersion && num <= fieldSeed:
			var v uint64
			v, n = protowire.ConsumeVarint(payload)
			if n >= 0 {
				err = m.setVarint(num, v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
		}
		if n < 0 {
			return Message{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		if err != nil {
			return Message{}, err
		}
		payload = payload[n:]
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m *Message) setVarint(num protowire.Number, v uint64) error {
	switch num {
	case fieldVersion:
		if v > math.MaxInt32 {
			return fmt.Errorf("%w: v%d", ErrUnsupportedVersion, v)
		}
		if v != 0 {
			m.Version = int(v)
		}
	case fieldKind:
		m.Kind = Kind(v)
		if uint64(m.Kind) != v {
			return fmt.Errorf("%w: kind %d", ErrMalformed, v)
		}
	case fieldTag:
		m.Tag = state.Tag(v)
		if !m.Tag.Valid() {
			return fmt.Errorf("%w: tag %d", ErrMalformed, v)
		}
	case fieldScore:
		if v > math.MaxInt32 {
			return fmt.Errorf("%w: score %d", ErrMalformed, v)
		}
		m.Score = int(v)
	case fieldAlive:
		m.Alive = protowire.DecodeBool(v)
	case fieldPhase:
		m.Phase = Phase(v)
		if m.Phase > PhaseEnded {
			return fmt.Errorf("%w: phase %d", ErrMalformed, v)
		}
	case fieldSeed:
		m.Seed = protowire.DecodeZigZag(v)
	}
	return nil
}
