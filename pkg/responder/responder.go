// Package responder answers inbound MessageRequest/MilestoneRequest
// packets from the tangle store, grounded directly on the Hornet
// processor's processMessageRequest/processMilestoneRequest handlers
// (_examples/Metz-2-hornet/pkg/protocol/processor/processor.go): look the
// id up, and if present, enqueue it back to the requesting peer; otherwise
// stay silent (spec.md §4.3's "Responder" component, §2's "answers
// parent/milestone lookups from store").
package responder

import (
	"github.com/tangleproto/tanglenode/pkg/gossip"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/metrics"
	"github.com/tangleproto/tanglenode/pkg/packet"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

// Responder looks up requested messages/milestones in the tangle and
// replies to the requesting peer.
type Responder struct {
	tg      *tangle.Tangle
	table   *gossip.Table
	metrics *metrics.Server
}

// New builds a Responder over tg, replying through peers registered in
// table.
func New(tg *tangle.Tangle, table *gossip.Table, m *metrics.Server) *Responder {
	return &Responder{tg: tg, table: table, metrics: m}
}

// HandleMessageRequest answers a MessageRequest packet from peerID. A
// missing message produces no reply, per spec.md §4.3 ("can't reply if we
// don't have the wanted transaction").
func (r *Responder) HandleMessageRequest(peerID string, pkt packet.Packet) {
	req, err := packet.DecodeMessageRequest(pkt.Body)
	if err != nil {
		if r.metrics != nil {
			r.metrics.InvalidRequests.Inc()
		}
		return
	}

	v, ok := r.tg.Vertex(message.MessageID(req.MessageID))
	if !ok {
		return
	}

	p, ok := r.table.Get(peerID)
	if !ok {
		return
	}
	body := (&packet.MessageBroadcast{RawMessage: v.Message.Encode()}).Encode()
	p.Send(packet.Packet{Type: packet.KindMessageBroadcast, Body: body})
}

// HandleMilestoneRequest answers a MilestoneRequest packet. Index 0 means
// "the peer's latest known milestone" (spec.md §6), resolved here via
// latestIndex.
func (r *Responder) HandleMilestoneRequest(peerID string, pkt packet.Packet, latestIndex func() uint32) {
	req, err := packet.DecodeMilestoneRequest(pkt.Body)
	if err != nil {
		if r.metrics != nil {
			r.metrics.InvalidRequests.Inc()
		}
		return
	}

	index := req.Index
	if index == 0 {
		index = latestIndex()
	}

	id, ok := r.tg.MilestoneByIndex(index)
	if !ok {
		return
	}
	v, ok := r.tg.Vertex(id)
	if !ok {
		return
	}

	p, ok := r.table.Get(peerID)
	if !ok {
		return
	}
	body := (&packet.MessageBroadcast{RawMessage: v.Message.Encode()}).Encode()
	p.Send(packet.Packet{Type: packet.KindMessageBroadcast, Body: body})
}
