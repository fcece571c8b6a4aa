package tipselect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

func insertWithIndices(t *testing.T, tg *tangle.Tangle, id, p1, p2 message.MessageID, otrsi, ytrsi uint32) {
	t.Helper()
	v, _ := tg.Insert(id, &message.Message{NetworkID: 1, Parent1: p1, Parent2: p2}, false, time.Now())
	v.Metadata.SetIndices(otrsi, ytrsi)
}

func newTestPool(tg *tangle.Tangle, lsmi uint32) *Pool {
	p := New(tg, config.Default().TipSelect, 1)
	p.SetLSMI(lsmi)
	return p
}

func TestInsertDropsLazyVertex(t *testing.T) {
	tg := tangle.New(nil)
	p := newTestPool(tg, 100)

	id := message.MessageID{1}
	insertWithIndices(t, tg, id, message.MessageID{2}, message.MessageID{3}, 50, 50)

	p.Insert(id, time.Now())
	require.Equal(t, 0, p.Size())
}

func TestInsertAddsNonLazyVertex(t *testing.T) {
	tg := tangle.New(nil)
	p := newTestPool(tg, 100)

	id := message.MessageID{1}
	insertWithIndices(t, tg, id, message.MessageID{2}, message.MessageID{3}, 100, 100)

	p.Insert(id, time.Now())
	require.Equal(t, 1, p.Size())
}

func TestRetentionEvictsParentAfterTooManyChildren(t *testing.T) {
	tg := tangle.New(nil)
	p := newTestPool(tg, 100)
	now := time.Now()

	t1 := message.MessageID{1}
	t2 := message.MessageID{2}
	insertWithIndices(t, tg, t1, message.MessageID{90}, message.MessageID{91}, 100, 100)
	insertWithIndices(t, tg, t2, message.MessageID{92}, message.MessageID{93}, 100, 100)
	p.Insert(t1, now)
	p.Insert(t2, now)
	require.Equal(t, 2, p.Size())

	c1 := message.MessageID{3}
	insertWithIndices(t, tg, c1, t1, message.MessageID{94}, 100, 100)
	p.Insert(c1, now)
	require.Contains(t, p.tips, t1)

	c2 := message.MessageID{4}
	insertWithIndices(t, tg, c2, t1, message.MessageID{95}, 100, 100)
	p.Insert(c2, now)
	require.Contains(t, p.tips, t1)

	c3 := message.MessageID{5}
	insertWithIndices(t, tg, c3, t1, message.MessageID{96}, 100, 100)
	p.Insert(c3, now)

	require.NotContains(t, p.tips, t1)
	require.NotContains(t, p.nonLazy, t1)
	require.Contains(t, p.tips, t2)
}

func TestRetentionEvictsParentAfterMaxAge(t *testing.T) {
	tg := tangle.New(nil)
	cfg := config.Default().TipSelect
	cfg.MaxAge = time.Millisecond
	p := New(tg, cfg, 1)
	p.SetLSMI(100)

	now := time.Now()
	t1 := message.MessageID{1}
	insertWithIndices(t, tg, t1, message.MessageID{90}, message.MessageID{91}, 100, 100)
	p.Insert(t1, now)

	// First child fixes t1's first-child instant; it does not itself evict.
	firstChild := message.MessageID{2}
	insertWithIndices(t, tg, firstChild, t1, message.MessageID{92}, 100, 100)
	p.Insert(firstChild, now)
	require.Contains(t, p.tips, t1)

	// A second child arriving after MaxAge has elapsed re-checks retention
	// against that fixed instant and evicts t1.
	secondChild := message.MessageID{3}
	insertWithIndices(t, tg, secondChild, t1, message.MessageID{93}, 100, 100)
	p.Insert(secondChild, now.Add(2*time.Millisecond))

	require.NotContains(t, p.tips, t1)
}

func TestRescoreDropsVertexThatBecameLazy(t *testing.T) {
	tg := tangle.New(nil)
	p := newTestPool(tg, 100)

	id := message.MessageID{1}
	insertWithIndices(t, tg, id, message.MessageID{2}, message.MessageID{3}, 100, 100)
	p.Insert(id, time.Now())
	require.Equal(t, 1, p.Size())

	p.SetLSMI(200)
	p.Rescore()
	require.Equal(t, 0, p.Size())
}

func TestSelectPairReturnsDistinctTipsAndEvictsAfterMaxSelections(t *testing.T) {
	tg := tangle.New(nil)
	cfg := config.Default().TipSelect
	cfg.MaxNumSelections = 1
	p := New(tg, cfg, 1)
	p.SetLSMI(100)

	t1 := message.MessageID{1}
	t2 := message.MessageID{2}
	insertWithIndices(t, tg, t1, message.MessageID{90}, message.MessageID{91}, 100, 100)
	insertWithIndices(t, tg, t2, message.MessageID{92}, message.MessageID{93}, 100, 100)
	p.Insert(t1, time.Now())
	p.Insert(t2, time.Now())

	a, b, ok := p.SelectPair()
	require.True(t, ok)
	require.Contains(t, []message.MessageID{t1, t2}, a)
	require.Contains(t, []message.MessageID{t1, t2}, b)

	// Each selected tip's count is now at most 1, which does not exceed
	// MaxNumSelections=1, so every tip selected this round survives.
	require.Equal(t, 2, p.Size())

	// Each round selects at least one tip, so over three rounds one of the
	// two tips is selected a second time and is evicted.
	p.SelectPair()
	p.SelectPair()
	require.Less(t, p.Size(), 2)
}

func TestSelectPairEmptyWhenPoolHasNoNonLazyTips(t *testing.T) {
	tg := tangle.New(nil)
	p := newTestPool(tg, 100)

	_, _, ok := p.SelectPair()
	require.False(t, ok)
}

func TestSelectPairReturnsSameTipTwiceWhenOnlyOneRemains(t *testing.T) {
	tg := tangle.New(nil)
	p := newTestPool(tg, 100)

	id := message.MessageID{1}
	insertWithIndices(t, tg, id, message.MessageID{2}, message.MessageID{3}, 100, 100)
	p.Insert(id, time.Now())

	a, b, ok := p.SelectPair()
	require.True(t, ok)
	require.Equal(t, id, a)
	require.Equal(t, id, b)
}
