// Package packet implements the framed wire protocol described in spec.md
// §4.1 and §6: a 3-byte header (type tag, u16_le length) followed by that
// many body bytes.
package packet

import (
	"encoding/binary"
	"errors"
)

// Kind is the packet type tag.
type Kind uint8

const (
	KindHandshake        Kind = 0x01
	KindMilestoneRequest Kind = 0x03
	KindMessageRequest   Kind = 0x0B
	KindMessageBroadcast Kind = 0x0A
	KindHeartbeat        Kind = 0x06
)

func (k Kind) valid() bool {
	switch k {
	case KindHandshake, KindMilestoneRequest, KindMessageRequest, KindMessageBroadcast, KindHeartbeat:
		return true
	default:
		return false
	}
}

// HeaderLength is the fixed 3-byte header size (spec.md §4.1).
const HeaderLength = 3

// Errors surfaced by the framer; all are Malformed/Fatal class per spec.md
// §7 and close the owning peer session.
var (
	ErrInvalidTypeTag = errors.New("packet: invalid type tag")
	ErrBodyTooLarge   = errors.New("packet: body exceeds configured maximum")
	ErrMalformedBody  = errors.New("packet: malformed body")
)

// Packet is a framed, type-tagged body. Body is opaque to this package; the
// per-kind structured forms live in bodies.go.
type Packet struct {
	Type Kind
	Body []byte
}

// Encode produces the 3-byte header plus body.
func Encode(p Packet) []byte {
	out := make([]byte, HeaderLength+len(p.Body))
	out[0] = byte(p.Type)
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(p.Body)))
	copy(out[3:], p.Body)
	return out
}
