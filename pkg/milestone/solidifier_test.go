package milestone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/packet"
	"github.com/tangleproto/tanglenode/pkg/peer"
	"github.com/tangleproto/tanglenode/pkg/requester"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

type fakePeerSource struct{ peers []*peer.Peer }

func (f fakePeerSource) Ready() []*peer.Peer { return f.peers }

func newSolidifierForTest(tg *tangle.Tangle, startIndex uint32) (*Solidifier, *[]message.MessageID, *[]uint32) {
	msgReq := requester.New[message.MessageID](5 * time.Second)
	msReq := requester.New[uint32](5 * time.Second)
	p := peer.New("p", "addr", peer.OriginInbound, nil, config.Default())
	p.ApplyHeartbeat(&packet.Heartbeat{PruningIndex: 0, LMI: 1000})
	src := fakePeerSource{peers: []*peer.Peer{p}}

	var requestedMessages []message.MessageID
	var requestedMilestones []uint32
	s := NewSolidifier(tg, msgReq, msReq, src, startIndex,
		func(p *peer.Peer, id message.MessageID) error { requestedMessages = append(requestedMessages, id); return nil },
		func(p *peer.Peer, index uint32) error { requestedMilestones = append(requestedMilestones, index); return nil },
	)
	return s, &requestedMessages, &requestedMilestones
}

func TestSolidifierRequestsMissingMilestoneMessage(t *testing.T) {
	tg := tangle.New(nil)
	s, _, requestedMilestones := newSolidifierForTest(tg, 7)

	s.Solidify(7)

	require.Equal(t, uint32(8), s.NextIndex())
	require.Contains(t, *requestedMilestones, uint32(7))
}

func TestSolidifierDoesNotAdvancePastMissingIndex(t *testing.T) {
	tg := tangle.New(nil)
	s, _, _ := newSolidifierForTest(tg, 6)

	s.Solidify(7)
	require.Equal(t, uint32(6), s.NextIndex())
}

func TestSolidifierWalksConeRequestingUnknownParents(t *testing.T) {
	sep := message.MessageID{9}
	tg := tangle.New(map[message.MessageID]tangle.SolidEntryPoint{sep: {OTRSI: 1, YTRSI: 1}})
	root := message.MessageID{1}
	missingParent := message.MessageID{2}
	presentParent := message.MessageID{3}

	tg.SetMilestone(7, root)
	tg.Insert(presentParent, &message.Message{NetworkID: 1, Parent1: sep, Parent2: sep}, false, time.Now())
	tg.Insert(root, &message.Message{NetworkID: 1, Parent1: missingParent, Parent2: presentParent}, false, time.Now())

	s, requestedMessages, _ := newSolidifierForTest(tg, 7)
	s.Solidify(7)

	require.Contains(t, *requestedMessages, missingParent)
	require.Equal(t, uint32(8), s.NextIndex())
}

func TestSolidifierProcessesIndicesInOrder(t *testing.T) {
	tg := tangle.New(nil)
	s, _, requestedMilestones := newSolidifierForTest(tg, 5)

	s.Solidify(6)
	require.Equal(t, uint32(5), s.NextIndex())
	require.NotContains(t, *requestedMilestones, uint32(6))

	s.Solidify(5)
	require.Equal(t, uint32(7), s.NextIndex())
	require.Equal(t, []uint32{5, 6}, *requestedMilestones)
}
