package peer

import "errors"

var (
	errHandshakeNotAwaited = errors.New("peer: not awaiting handshake")
	errUnexpectedHandshake = errors.New("peer: unexpected handshake in Ready state")
	errHandshakePort       = errors.New("peer: handshake port mismatch")
	errHandshakeSkew       = errors.New("peer: handshake timestamp skew too large")
	errHandshakeNetwork    = errors.New("peer: handshake network-id mismatch")
	errHandshakeMWM        = errors.New("peer: handshake mwm mismatch")
	errHandshakeVersion    = errors.New("peer: handshake protocol version unsupported")
	errUnknownPacketKind   = errors.New("peer: unknown outbound packet kind")
)
