package milestone

import (
	"sync"
	"time"

	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/peer"
	"github.com/tangleproto/tanglenode/pkg/requester"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

// PeerSource supplies the handshaked peers a requester dispatches against.
type PeerSource interface {
	Ready() []*peer.Peer
}

// Solidifier orders solidification strictly by milestone index (spec.md
// §4.6): it only walks index i's cone once every index below i has been
// processed, so OTRSI/YTRSI observed by i's cone reflect monotonic
// milestone indices. Grounded on the Hornet solidQueueCheck/
// solidifyMilestone fragment's "always traverse the oldest non-solid
// milestone" discipline, simplified to the literal single-pass-per-index
// walk spec.md §4.6 describes (no abort/resume: each index's cone is walked
// once, when the index reaches the queue head; a still-missing ancestor is
// requested and the index is not walked again).
type Solidifier struct {
	tg       *tangle.Tangle
	msgReq   *requester.Requester[message.MessageID]
	msReq    *requester.Requester[uint32]
	peers    PeerSource
	sendMsg  func(p *peer.Peer, id message.MessageID) error
	sendMs   func(p *peer.Peer, index uint32) error

	mu        sync.Mutex
	nextIndex uint32
	pending   map[uint32]struct{}
}

// NewSolidifier builds a Solidifier starting at startIndex (the first index
// awaiting solidification, typically one past the snapshot's solid
// milestone index).
func NewSolidifier(tg *tangle.Tangle, msgReq *requester.Requester[message.MessageID], msReq *requester.Requester[uint32], peers PeerSource, startIndex uint32,
	sendMsg func(p *peer.Peer, id message.MessageID) error, sendMs func(p *peer.Peer, index uint32) error) *Solidifier {
	return &Solidifier{
		tg:        tg,
		msgReq:    msgReq,
		msReq:     msReq,
		peers:     peers,
		sendMsg:   sendMsg,
		sendMs:    sendMs,
		nextIndex: startIndex,
		pending:   make(map[uint32]struct{}),
	}
}

// NextIndex returns the first index awaiting solidification.
func (s *Solidifier) NextIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex
}

// Solidify enqueues index and drains the queue head as far as the
// contiguous run of arrived indices allows (spec.md §4.6: "while the queue
// head equals next_index").
func (s *Solidifier) Solidify(index uint32) {
	s.mu.Lock()
	s.pending[index] = struct{}{}
	s.mu.Unlock()
	s.drain()
}

func (s *Solidifier) drain() {
	for {
		s.mu.Lock()
		idx := s.nextIndex
		_, ready := s.pending[idx]
		if !ready {
			s.mu.Unlock()
			return
		}
		delete(s.pending, idx)
		s.nextIndex++
		s.mu.Unlock()

		s.processIndex(idx)
	}
}

// processIndex implements one iteration of spec.md §4.6's loop body: look
// up the milestone's message id, request it if unknown, or otherwise walk
// its cone requesting unknown parents.
func (s *Solidifier) processIndex(index uint32) {
	id, ok := s.tg.MilestoneByIndex(index)
	if !ok {
		s.requestMilestone(index)
		return
	}
	s.walk(id, index)
}

// walk performs the depth-first cone walk spec.md §4.6 describes: visit a
// vertex iff (not requested, or it is the root) AND not solid AND not
// already outstanding in RequestedMessages; for every unknown parent
// discovered, issue a message-request with index_hint=target_index.
func (s *Solidifier) walk(root message.MessageID, targetIndex uint32) {
	visited := make(map[message.MessageID]struct{})
	var stack []message.MessageID
	stack = append(stack, root)

	for len(stack) > 0 {
		n := len(stack) - 1
		id := stack[n]
		stack = stack[:n]

		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		v, ok := s.tg.Vertex(id)
		if !ok {
			if _, isSEP := s.tg.SolidEntryPoint(id); !isSEP {
				s.requestMessage(id, targetIndex)
			}
			continue
		}

		isRoot := id == root
		if (v.Metadata.IsRequested() && !isRoot) || v.Metadata.IsSolid() || s.msgReq.Contains(id) {
			continue
		}

		for _, parentID := range []message.MessageID{v.Message.Parent1, v.Message.Parent2} {
			if _, isSEP := s.tg.SolidEntryPoint(parentID); isSEP {
				continue
			}
			stack = append(stack, parentID)
		}
	}
}

func (s *Solidifier) requestMessage(id message.MessageID, hint uint32) {
	s.msgReq.Dispatch(id, hint, time.Now(), s.peers.Ready(), func(p *peer.Peer) error {
		return s.sendMsg(p, id)
	})
}

func (s *Solidifier) requestMilestone(index uint32) {
	s.msReq.Dispatch(index, index, time.Now(), s.peers.Ready(), func(p *peer.Peer) error {
		return s.sendMs(p, index)
	})
}
