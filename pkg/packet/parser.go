package packet

import "encoding/binary"

type parserState int

const (
	stateAwaitingHeader parserState = iota
	stateAwaitingBody
)

// Parser holds the per-stream framing state described in spec.md §4.1:
// header bytes accumulate until 3 are available, body bytes accumulate
// until the declared length is available, and partial buffers survive
// across Feed calls so no packet straddling a read boundary is lost.
type Parser struct {
	maxBodyLen int

	state      parserState
	pending    []byte // bytes not yet consumed into a complete packet
	headerKind Kind
	headerLen  uint16
}

// NewParser creates a Parser that rejects bodies longer than maxBodyLen
// (spec.md §4.1 BodyTooLarge; default configured value is 32 KiB).
func NewParser(maxBodyLen int) *Parser {
	return &Parser{maxBodyLen: maxBodyLen, state: stateAwaitingHeader}
}

// Feed appends newly-read bytes and returns every packet that became
// complete as a result, in arrival order. A non-nil error is fatal for the
// stream: the caller must close the peer session (spec.md §4.1, §7).
func (p *Parser) Feed(data []byte) ([]Packet, error) {
	p.pending = append(p.pending, data...)

	var out []Packet
	for {
		switch p.state {
		case stateAwaitingHeader:
			if len(p.pending) < HeaderLength {
				return out, nil
			}
			kind := Kind(p.pending[0])
			if !kind.valid() {
				return out, ErrInvalidTypeTag
			}
			length := binary.LittleEndian.Uint16(p.pending[1:3])
			if p.maxBodyLen > 0 && int(length) > p.maxBodyLen {
				return out, ErrBodyTooLarge
			}
			p.headerKind = kind
			p.headerLen = length
			p.pending = p.pending[HeaderLength:]
			p.state = stateAwaitingBody
		case stateAwaitingBody:
			if len(p.pending) < int(p.headerLen) {
				return out, nil
			}
			body := make([]byte, p.headerLen)
			copy(body, p.pending[:p.headerLen])
			p.pending = p.pending[p.headerLen:]
			p.state = stateAwaitingHeader

			if _, err := DecodeBody(p.headerKind, body); err != nil {
				return out, ErrMalformedBody
			}
			out = append(out, Packet{Type: p.headerKind, Body: body})
		}
	}
}
