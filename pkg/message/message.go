// Package message implements the wire-level Message type, its payloads and
// ids (spec.md §3, §6): immutable payload with (network-id, parent-1-id,
// parent-2-id, optional payload, nonce), content-addressed by a BLAKE2b-256
// digest over its canonical encoding.
package message

import "golang.org/x/crypto/blake2b"

// Message is the immutable unit gossiped and stored in the tangle.
type Message struct {
	NetworkID uint64
	Parent1   MessageID
	Parent2   MessageID
	Payload   Payload // nil for a payload-less message
	Nonce     uint64
}

// Encode produces the canonical byte encoding described in spec.md §6.
func (m *Message) Encode() []byte {
	w := &writer{}
	w.u64(m.NetworkID)
	w.bytes(m.Parent1[:])
	w.bytes(m.Parent2[:])
	if m.Payload == nil {
		w.u32(0)
	} else {
		encoded := EncodePayload(m.Payload)
		w.u32(uint32(len(encoded)))
		w.bytes(encoded)
	}
	w.u64(m.Nonce)
	return w.buf
}

// Decode parses the canonical byte encoding produced by Encode.
func Decode(b []byte) (*Message, error) {
	r := newReader(b)
	m := &Message{}
	var err error
	if m.NetworkID, err = r.u64(); err != nil {
		return nil, err
	}
	p1, err := r.take(IDLength)
	if err != nil {
		return nil, err
	}
	copy(m.Parent1[:], p1)
	p2, err := r.take(IDLength)
	if err != nil {
		return nil, err
	}
	copy(m.Parent2[:], p2)
	payloadLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	if payloadLen > 0 {
		payloadBytes, err := r.take(int(payloadLen))
		if err != nil {
			return nil, err
		}
		m.Payload, err = DecodePayload(payloadBytes)
		if err != nil {
			return nil, err
		}
	}
	if m.Nonce, err = r.u64(); err != nil {
		return nil, err
	}
	return m, nil
}

// ID computes the content-addressed MessageID over raw, the already-encoded
// bytes of a Message (spec.md §3: "BLAKE2b digest over the canonical byte
// encoding").
func ID(raw []byte) MessageID {
	return MessageID(blake2b.Sum256(raw))
}
