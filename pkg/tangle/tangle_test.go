package tangle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/message"
)

func msgWithParents(p1, p2 message.MessageID) *message.Message {
	return &message.Message{NetworkID: 1, Parent1: p1, Parent2: p2, Nonce: 1}
}

func TestInsertIsIdempotent(t *testing.T) {
	tg := New(nil)
	id := message.MessageID{1}
	v1, isNew1 := tg.Insert(id, msgWithParents(message.MessageID{2}, message.MessageID{3}), false, time.Now())
	require.True(t, isNew1)
	v2, isNew2 := tg.Insert(id, msgWithParents(message.MessageID{9}, message.MessageID{9}), false, time.Now())
	require.False(t, isNew2)
	require.Same(t, v1, v2)
	require.Equal(t, 1, tg.Size())
}

func TestChildEdgesRegisteredForBothParents(t *testing.T) {
	tg := New(nil)
	p1 := message.MessageID{1}
	p2 := message.MessageID{2}
	child := message.MessageID{3}
	tg.Insert(child, msgWithParents(p1, p2), false, time.Now())

	require.ElementsMatch(t, []message.MessageID{child}, tg.Children(p1))
	require.ElementsMatch(t, []message.MessageID{child}, tg.Children(p2))
}

func TestChildEdgeRegisteredOnceForSelfReferencingParents(t *testing.T) {
	tg := New(nil)
	p := message.MessageID{1}
	child := message.MessageID{2}
	tg.Insert(child, msgWithParents(p, p), false, time.Now())
	require.Len(t, tg.Children(p), 1)
}

func TestSolidEntryPointsAreSolidWithNoBody(t *testing.T) {
	sep := message.MessageID{7}
	tg := New(map[message.MessageID]SolidEntryPoint{sep: {OTRSI: 5, YTRSI: 5}})

	require.True(t, tg.Contains(sep))
	_, stored := tg.Vertex(sep)
	require.False(t, stored)

	child := message.MessageID{8}
	v, _ := tg.Insert(child, msgWithParents(sep, sep), false, time.Now())
	resolved, p1, p2 := tg.ParentsResolved(v)
	require.True(t, resolved)
	require.True(t, p1)
	require.True(t, p2)
}

func TestParentsResolvedRequiresBothSolid(t *testing.T) {
	tg := New(nil)
	p1 := message.MessageID{1}
	child := message.MessageID{2}
	v, _ := tg.Insert(child, msgWithParents(p1, message.MessageID{9}), false, time.Now())
	resolved, _, _ := tg.ParentsResolved(v)
	require.False(t, resolved)
}

func TestConeRootIndexSetOnce(t *testing.T) {
	m := NewMetadata(time.Now(), false)
	m.SetConeRootIndex(5)
	m.SetConeRootIndex(6)
	idx, ok := m.ConeRootIndex()
	require.True(t, ok)
	require.Equal(t, uint32(5), idx)
}
