package packet

import "encoding/binary"

// Handshake is the first packet exchanged by peers (spec.md §4.2, §6).
type Handshake struct {
	Port              uint16
	TimestampMs       uint64
	NetworkID         [32]byte
	MWM               uint8
	SupportedVersions []byte // bitmap, variable length
}

// Encode produces the Handshake body layout: u16_be port | u64_be timestamp_ms
// | u8[32] network_id | u8 mwm | u8[] supported_versions_bitmap.
func (h *Handshake) Encode() []byte {
	b := make([]byte, 2+8+32+1+len(h.SupportedVersions))
	binary.BigEndian.PutUint16(b[0:2], h.Port)
	binary.BigEndian.PutUint64(b[2:10], h.TimestampMs)
	copy(b[10:42], h.NetworkID[:])
	b[42] = h.MWM
	copy(b[43:], h.SupportedVersions)
	return b
}

// DecodeHandshake parses the body produced by Encode.
func DecodeHandshake(b []byte) (*Handshake, error) {
	if len(b) < 43 {
		return nil, ErrMalformedBody
	}
	h := &Handshake{
		Port:        binary.BigEndian.Uint16(b[0:2]),
		TimestampMs: binary.BigEndian.Uint64(b[2:10]),
		MWM:         b[42],
	}
	copy(h.NetworkID[:], b[10:42])
	h.SupportedVersions = append([]byte(nil), b[43:]...)
	return h, nil
}

// MilestoneRequest asks for the milestone at Index; Index 0 means "any"
// (i.e. the peer's latest known milestone).
type MilestoneRequest struct {
	Index uint32
}

func (r *MilestoneRequest) Encode() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, r.Index)
	return b
}

func DecodeMilestoneRequest(b []byte) (*MilestoneRequest, error) {
	if len(b) != 4 {
		return nil, ErrMalformedBody
	}
	return &MilestoneRequest{Index: binary.BigEndian.Uint32(b)}, nil
}

// MessageRequest asks for a single message by id.
type MessageRequest struct {
	MessageID [32]byte
}

func (r *MessageRequest) Encode() []byte {
	b := make([]byte, 32)
	copy(b, r.MessageID[:])
	return b
}

func DecodeMessageRequest(b []byte) (*MessageRequest, error) {
	if len(b) != 32 {
		return nil, ErrMalformedBody
	}
	var r MessageRequest
	copy(r.MessageID[:], b)
	return &r, nil
}

// MessageBroadcast carries the raw, already-serialized message bytes.
type MessageBroadcast struct {
	RawMessage []byte
}

func (b *MessageBroadcast) Encode() []byte { return append([]byte(nil), b.RawMessage...) }

func DecodeMessageBroadcast(b []byte) (*MessageBroadcast, error) {
	return &MessageBroadcast{RawMessage: append([]byte(nil), b...)}, nil
}

// Heartbeat reports this node's sync state to a peer.
type Heartbeat struct {
	LSMI           uint32
	PruningIndex   uint32
	LMI            uint32
	ConnectedPeers uint8
	SyncedPeers    uint8
}

func (h *Heartbeat) Encode() []byte {
	b := make([]byte, 4+4+4+1+1)
	binary.BigEndian.PutUint32(b[0:4], h.LSMI)
	binary.BigEndian.PutUint32(b[4:8], h.PruningIndex)
	binary.BigEndian.PutUint32(b[8:12], h.LMI)
	b[12] = h.ConnectedPeers
	b[13] = h.SyncedPeers
	return b
}

func DecodeHeartbeat(b []byte) (*Heartbeat, error) {
	if len(b) != 14 {
		return nil, ErrMalformedBody
	}
	return &Heartbeat{
		LSMI:           binary.BigEndian.Uint32(b[0:4]),
		PruningIndex:   binary.BigEndian.Uint32(b[4:8]),
		LMI:            binary.BigEndian.Uint32(b[8:12]),
		ConnectedPeers: b[12],
		SyncedPeers:    b[13],
	}, nil
}

// DecodeBody dispatches to the per-kind structural decoder, surfacing
// ErrMalformedBody on a structural parse failure (spec.md §4.1).
func DecodeBody(kind Kind, body []byte) (interface{}, error) {
	switch kind {
	case KindHandshake:
		return DecodeHandshake(body)
	case KindMilestoneRequest:
		return DecodeMilestoneRequest(body)
	case KindMessageRequest:
		return DecodeMessageRequest(body)
	case KindMessageBroadcast:
		return DecodeMessageBroadcast(body)
	case KindHeartbeat:
		return DecodeHeartbeat(body)
	default:
		return nil, ErrInvalidTypeTag
	}
}
