// Package segment implements the STP wire codec: a 4-byte big-endian
// header (type, sequence number) optionally followed by a DATA payload.
package segment

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Type is the STP segment type carried in the first two header bytes.
type Type uint16

const (
	Data Type = iota
	Ack
	Syn
	Fin
	Reset
)

func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case Ack:
		return "ACK"
	case Syn:
		return "SYN"
	case Fin:
		return "FIN"
	case Reset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

func (t Type) valid() bool {
	return t <= Reset
}

const (
	// HeaderLength is the fixed size, in bytes, of the STP header.
	HeaderLength = 4
	// MSS is the maximum number of payload bytes a DATA segment may carry.
	MSS = 1000
)

// Sentinel errors returned by Decode. Callers add context with
// github.com/pkg/errors.Wrap where the extra detail (which endpoint,
// which datagram) is useful.
var (
	ErrShortHeader       = errors.New("segment: datagram shorter than header")
	ErrBadType           = errors.New("segment: type out of range")
	ErrPayloadOnControl  = errors.New("segment: non-DATA segment carries a payload")
	ErrPayloadTooLarge   = errors.New("segment: payload exceeds MSS")
)

// Segment is a decoded STP wire unit.
type Segment struct {
	Type    Type
	Seq     uint16
	Payload []byte
}

// Encode serializes s into a newly allocated buffer.
func Encode(s Segment) []byte {
	buf := make([]byte, HeaderLength+len(s.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(s.Type))
	binary.BigEndian.PutUint16(buf[2:4], s.Seq)
	copy(buf[HeaderLength:], s.Payload)
	return buf
}

// Decode parses buf into a Segment. It fails if buf is shorter than the
// header, the type field is out of range, a non-DATA segment carries
// payload bytes, or the payload exceeds MSS. The returned Segment's Payload aliases buf; callers
// that retain it beyond the current read must copy it.
func Decode(buf []byte) (Segment, error) {
	if len(buf) < HeaderLength {
		return Segment{}, ErrShortHeader
	}
	typ := Type(binary.BigEndian.Uint16(buf[0:2]))
	if !typ.valid() {
		return Segment{}, ErrBadType
	}
	seq := binary.BigEndian.Uint16(buf[2:4])
	payload := buf[HeaderLength:]
	if typ != Data && len(payload) > 0 {
		return Segment{}, ErrPayloadOnControl
	}
	if len(payload) > MSS {
		return Segment{}, ErrPayloadTooLarge
	}
	return Segment{Type: typ, Seq: seq, Payload: payload}, nil
}
