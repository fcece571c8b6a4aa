// Package gossip wires the framed transport to the peer session state
// machine: receiving bytes, dispatching typed packets to the right worker,
// and fanning broadcasts out to the peer set (spec.md §2's "Sender
// fan-out"/"Receiver dispatcher" components).
package gossip

import (
	"errors"
	"sync"

	"github.com/tangleproto/tanglenode/pkg/packet"
	"github.com/tangleproto/tanglenode/pkg/peer"
)

// Errors mirroring the teacher's node/cn peer-set error set
// (errClosed/errAlreadyRegistered/errNotRegistered), generalized to this
// protocol's peer table.
var (
	ErrClosed            = errors.New("gossip: peer table is closed")
	ErrAlreadyRegistered = errors.New("gossip: peer already registered")
	ErrNotRegistered     = errors.New("gossip: peer not registered")
)

// Table is the live set of connected peers, grounded on the teacher's
// node/cn peerSet (RWMutex-guarded map, register/unregister, broadcast
// helpers), generalized from Ethereum's eth-subprotocol peers to this
// protocol's single Peer type.
type Table struct {
	mu     sync.RWMutex
	peers  map[string]*peer.Peer
	closed bool
}

// NewTable constructs an empty peer table.
func NewTable() *Table {
	return &Table{peers: make(map[string]*peer.Peer)}
}

// Register adds p to the table, or fails if the table is closed or a peer
// with that id is already registered.
func (t *Table) Register(p *peer.Peer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, ok := t.peers[p.ID]; ok {
		return ErrAlreadyRegistered
	}
	t.peers[p.ID] = p
	return nil
}

// Unregister removes p by id.
func (t *Table) Unregister(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		return ErrNotRegistered
	}
	delete(t.peers, id)
	return nil
}

// Get looks up a peer by id.
func (t *Table) Get(id string) (*peer.Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

// Ready returns every peer currently in the Ready state.
func (t *Table) Ready() []*peer.Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*peer.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.State() == peer.Ready {
			out = append(out, p)
		}
	}
	return out
}

// All returns every registered peer regardless of state, for shutdown
// sequencing where even a peer mid-handshake must be torn down.
func (t *Table) All() []*peer.Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*peer.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered peers, regardless of state.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Close marks the table closed; further Register calls fail.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// BroadcastExcept enqueues pkt on every Ready peer's outbound queue except
// excludeID (spec.md §4.3 step 7: "broadcast the raw packet to all
// handshaked peers except the source"). Backpressure on any one peer is
// silently absorbed; callers that care about drops pass a metrics counter.
func (t *Table) BroadcastExcept(pkt packet.Packet, excludeID string, onDrop func()) {
	for _, p := range t.Ready() {
		if p.ID == excludeID {
			continue
		}
		if err := p.Send(pkt); err != nil && onDrop != nil {
			onDrop()
		}
	}
}
