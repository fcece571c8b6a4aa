package gossip

import (
	"io"
	"time"

	"github.com/tangleproto/tanglenode/internal/log"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/packet"
	"github.com/tangleproto/tanglenode/pkg/peer"
)

// Inbound is one parsed packet together with the id of the peer it arrived
// from, the unit routed onto a worker's input channel.
type Inbound struct {
	PeerID string
	Packet packet.Packet
}

// Router holds the destination channels the dispatcher forwards Ready-state
// packets to, one per spec.md §2 "proper worker". Handshake packets never
// reach the router: they are consumed by the state machine itself.
type Router struct {
	MessageBroadcasts chan<- Inbound
	MessageRequests   chan<- Inbound
	MilestoneRequests chan<- Inbound
}

const readBufferSize = 4096

// Dispatcher frames bytes read from one peer's connection and routes the
// resulting packets, grounded on the teacher's p2p read loop
// (networks/p2p/peer.go's readLoop forwarding decoded frames to protocol
// handlers) generalized to this spec's single byte-stream-per-peer model
// (spec.md §5: "single receiver task per peer").
type Dispatcher struct {
	peer     *peer.Peer
	reader   io.Reader
	router   Router
	maxBody  int
	protoVer byte
	dedupe   *Dedupe
	ourLSMI  func() uint32
	logger   *log.Logger
}

// NewDispatcher builds a per-connection dispatcher. dedupe may be nil, in
// which case every broadcast is forwarded regardless of prior delivery.
func NewDispatcher(p *peer.Peer, r io.Reader, router Router, maxBodyLength int, protocolVersion byte) *Dispatcher {
	return &Dispatcher{
		peer:     p,
		reader:   r,
		router:   router,
		maxBody:  maxBodyLength,
		protoVer: protocolVersion,
		logger:   log.New("gossip").With("peer_id", p.ID),
	}
}

// WithDedupe attaches a shared recently-seen-message-id cache, short
// circuiting repeat broadcasts of the same message from other peers
// before they reach the processor queue.
func (d *Dispatcher) WithDedupe(dedupe *Dedupe) *Dispatcher {
	d.dedupe = dedupe
	return d
}

// WithLSMISource attaches the node's own latest-solid-milestone-index
// accessor, so every received Heartbeat refreshes this peer's out-of-sync
// flag against the node's current view instead of only recording the raw
// advertised value.
func (d *Dispatcher) WithLSMISource(ourLSMI func() uint32) *Dispatcher {
	d.ourLSMI = ourLSMI
	return d
}

// Run reads until the stream ends or the peer disconnects, feeding the
// framing parser and dispatching each completed packet. It always returns
// with the peer session disconnected.
func (d *Dispatcher) Run() {
	defer d.peer.Disconnected()

	parser := packet.NewParser(d.maxBody)
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-d.peer.Done():
			return
		default:
		}

		n, err := d.reader.Read(buf)
		if n > 0 {
			packets, perr := parser.Feed(buf[:n])
			if perr != nil {
				d.logger.Warnw("framing error, closing session", "err", perr)
				return
			}
			for _, pkt := range packets {
				d.dispatch(pkt)
				if d.peer.State() == peer.AwaitingConnection {
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				d.logger.Warnw("connection read error", "err", err)
			}
			return
		}
	}
}

func (d *Dispatcher) dispatch(pkt packet.Packet) {
	d.peer.Touch(time.Now())

	if pkt.Type == packet.KindHandshake {
		d.handleHandshake(pkt)
		return
	}

	if d.peer.State() != peer.Ready {
		// A non-handshake packet before handshake completes is malformed
		// protocol use; count it as an invalid handshake attempt and wait.
		d.peer.Metrics.InvalidHandshakes.Inc()
		return
	}

	switch pkt.Type {
	case packet.KindMessageBroadcast:
		if d.alreadyDelivered(pkt) {
			return
		}
		d.forward(d.router.MessageBroadcasts, pkt)
	case packet.KindMessageRequest:
		d.forward(d.router.MessageRequests, pkt)
	case packet.KindMilestoneRequest:
		d.forward(d.router.MilestoneRequests, pkt)
	case packet.KindHeartbeat:
		d.handleHeartbeat(pkt)
	}
}

// alreadyDelivered reports whether pkt's raw message was already forwarded
// by this or another peer's dispatcher sharing the same Dedupe cache. A
// malformed body (too short to decode) is never deduplicated; it is left
// for the message-broadcast worker to reject.
func (d *Dispatcher) alreadyDelivered(pkt packet.Packet) bool {
	if d.dedupe == nil {
		return false
	}
	mb, err := packet.DecodeMessageBroadcast(pkt.Body)
	if err != nil {
		return false
	}
	return d.dedupe.SeenBefore(message.ID(mb.RawMessage))
}

func (d *Dispatcher) forward(ch chan<- Inbound, pkt packet.Packet) {
	if ch == nil {
		return
	}
	select {
	case ch <- Inbound{PeerID: d.peer.ID, Packet: pkt}:
	default:
		d.logger.Warnw("worker queue full, dropping inbound packet", "kind", pkt.Type)
	}
}

func (d *Dispatcher) handleHandshake(pkt packet.Packet) {
	hs, err := packet.DecodeHandshake(pkt.Body)
	if err != nil {
		d.logger.Warnw("malformed handshake", "err", err)
		return
	}
	if err := d.peer.ValidateHandshake(hs, time.Now(), d.protoVer); err != nil {
		d.logger.Warnw("handshake rejected", "err", err)
	}
}

func (d *Dispatcher) handleHeartbeat(pkt packet.Packet) {
	hb, err := packet.DecodeHeartbeat(pkt.Body)
	if err != nil {
		d.logger.Warnw("malformed heartbeat", "err", err)
		return
	}
	d.peer.ApplyHeartbeat(hb)
	d.peer.Metrics.HeartbeatsReceived.Inc()
	if d.ourLSMI != nil {
		d.peer.RefreshSyncStatus(d.ourLSMI())
	}
}
