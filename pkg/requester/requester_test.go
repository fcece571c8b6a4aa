package requester

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/packet"
	"github.com/tangleproto/tanglenode/pkg/peer"
)

func newTestPeer(id string) *peer.Peer {
	return peer.New(id, "addr", peer.OriginInbound, nil, config.Default())
}

func TestDispatchIsNoOpWhenAlreadyOutstanding(t *testing.T) {
	r := New[string](5 * time.Second)
	r.recordDispatch("x", 10, time.Now())

	sent := false
	dispatched := r.Dispatch("x", 10, time.Now(), nil, func(p *peer.Peer) error { sent = true; return nil })
	require.False(t, dispatched)
	require.False(t, sent)
}

func TestDispatchPrefersDefiniteCoverage(t *testing.T) {
	r := New[string](5 * time.Second)

	a := newTestPeer("a")
	a.ApplyHeartbeat(&packet.Heartbeat{PruningIndex: 50, LMI: 120})
	b := newTestPeer("b")
	b.ApplyHeartbeat(&packet.Heartbeat{PruningIndex: 150, LMI: 200})

	var picked string
	dispatched := r.Dispatch("msg", 100, time.Now(), []*peer.Peer{a, b}, func(p *peer.Peer) error {
		picked = p.ID
		return nil
	})
	require.True(t, dispatched)
	require.Equal(t, "a", picked)
}

func TestDispatchFallsBackToMaybeWhenNoDefiniteEligible(t *testing.T) {
	r := New[string](5 * time.Second)

	b := newTestPeer("b")
	b.ApplyHeartbeat(&packet.Heartbeat{PruningIndex: 150, LMI: 200})

	var picked string
	dispatched := r.Dispatch("msg", 100, time.Now(), []*peer.Peer{b}, func(p *peer.Peer) error {
		picked = p.ID
		return nil
	})
	require.True(t, dispatched)
	require.Equal(t, "b", picked)
}

func TestDueForRetry(t *testing.T) {
	r := New[string](5 * time.Millisecond)
	r.recordDispatch("x", 1, time.Now().Add(-time.Second))
	due := r.DueForRetry(time.Now())
	require.Contains(t, due, "x")
}
