// Package metrics exposes the node-wide counters named throughout spec.md
// (invalid_messages, known_messages, ...), mirroring the
// metrics.SharedServerMetrics singleton used by the hornet processor
// fragment in the retrieval pack, but backed by prometheus client_golang as
// the teacher's go.mod carries it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Server holds the process-wide counters referenced by §4.3 and §7.
type Server struct {
	InvalidMessages  prometheus.Counter
	KnownMessages    prometheus.Counter
	InvalidRequests  prometheus.Counter
	DroppedBroadcast prometheus.Counter
}

// NewServer registers and returns the shared counter set. Call once per
// process; tests construct their own registry to stay isolated.
func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		InvalidMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tanglenode_invalid_messages_total",
			Help: "Messages dropped for decode failure, network-id mismatch or insufficient PoW score.",
		}),
		KnownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tanglenode_known_messages_total",
			Help: "Broadcasts received for a message already present in the tangle.",
		}),
		InvalidRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tanglenode_invalid_requests_total",
			Help: "Malformed message/milestone request packets received from peers.",
		}),
		DroppedBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tanglenode_dropped_broadcast_total",
			Help: "Broadcasts dropped because a peer's outbound queue was full.",
		}),
	}
	reg.MustRegister(s.InvalidMessages, s.KnownMessages, s.InvalidRequests, s.DroppedBroadcast)
	return s
}

// PeerMetrics are the per-peer counters maintained by a peer session,
// mirroring PeerInfo-adjacent bookkeeping in the teacher's node/cn/peer.go
// (knownTxsCache hit counting, etc.) generalized to this protocol's packets.
type PeerMetrics struct {
	KnownMessages      prometheus.Counter
	InvalidHandshakes  prometheus.Counter
	HeartbeatsSent     prometheus.Counter
	HeartbeatsReceived prometheus.Counter
	OutOfSync          bool
}

// NewPeerMetrics builds an unregistered counter set scoped to one peer id;
// callers register these under a CounterVec label in production or keep them
// unregistered in tests.
func NewPeerMetrics() *PeerMetrics {
	return &PeerMetrics{
		KnownMessages:      prometheus.NewCounter(prometheus.CounterOpts{Name: "peer_known_messages"}),
		InvalidHandshakes:  prometheus.NewCounter(prometheus.CounterOpts{Name: "peer_invalid_handshakes"}),
		HeartbeatsSent:     prometheus.NewCounter(prometheus.CounterOpts{Name: "peer_heartbeats_sent"}),
		HeartbeatsReceived: prometheus.NewCounter(prometheus.CounterOpts{Name: "peer_heartbeats_received"}),
	}
}
