package whiteflag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/kvstore"
	"github.com/tangleproto/tanglenode/pkg/ledger"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

func ed25519Addr(b byte) message.Address {
	key := make([]byte, message.Ed25519AddressLength)
	key[0] = b
	return message.Address{Kind: message.AddressEd25519, Key: key}
}

func outID(txByte byte, index uint16) message.OutputID {
	var tx message.TransactionID
	tx[0] = txByte
	return message.OutputID{TransactionID: tx, Index: index}
}

// setupCone builds the scenario from spec.md §8 scenario 1: milestone #7
// whose cone contains T1 (O1->O4), T2 (O2->O5), T3 (O1->O6, conflicting
// because O1 was already spent by T1 earlier in the same traversal).
func setupCone(t *testing.T) (*Confirmer, message.MessageID, message.MessageID, message.MessageID, message.MessageID) {
	l := ledger.New(kvstore.NewMemoryBackend())

	seed := ledger.NewDelta()
	seed.CreateOutput(outID(0xA, 0), message.Output{Address: ed25519Addr(1), Amount: 10})
	seed.CreateOutput(outID(0xA, 1), message.Output{Address: ed25519Addr(2), Amount: 10})
	require.NoError(t, l.Apply(0, seed))

	sep := message.MessageID{0xFF}
	tg := tangle.New(map[message.MessageID]tangle.SolidEntryPoint{sep: {OTRSI: 1, YTRSI: 1}})

	t1ID := message.MessageID{1}
	t2ID := message.MessageID{2}
	t3ID := message.MessageID{3}
	rootID := message.MessageID{4}

	t1 := &message.Transaction{
		Inputs:  []message.Input{{OutputID: outID(0xA, 0)}},
		Outputs: []message.Output{{Address: ed25519Addr(3), Amount: 10}},
	}
	t2 := &message.Transaction{
		Inputs:  []message.Input{{OutputID: outID(0xA, 1)}},
		Outputs: []message.Output{{Address: ed25519Addr(4), Amount: 10}},
	}
	t3 := &message.Transaction{
		Inputs:  []message.Input{{OutputID: outID(0xA, 0)}},
		Outputs: []message.Output{{Address: ed25519Addr(5), Amount: 10}},
	}

	now := time.Now()
	tg.Insert(t1ID, &message.Message{NetworkID: 1, Parent1: sep, Parent2: sep, Payload: t1}, false, now)
	tg.Insert(t2ID, &message.Message{NetworkID: 1, Parent1: t1ID, Parent2: sep, Payload: t2}, false, now)
	tg.Insert(t3ID, &message.Message{NetworkID: 1, Parent1: t2ID, Parent2: sep, Payload: t3}, false, now)
	tg.Insert(rootID, &message.Message{NetworkID: 1, Parent1: t3ID, Parent2: sep}, false, now)

	return New(tg, l), t1ID, t2ID, t3ID, rootID
}

func TestConfirmPostOrderMarksConflictingDoubleSpend(t *testing.T) {
	c, t1ID, t2ID, t3ID, rootID := setupCone(t)

	declaredRoot := merkleRoot([]message.MessageID{t1ID, t2ID})
	result, err := c.Confirm(rootID, 7, declaredRoot)
	require.NoError(t, err)

	require.Equal(t, []message.MessageID{t1ID, t2ID}, result.Included)
	require.Equal(t, []message.MessageID{t3ID}, result.Conflicting)

	o4 := message.OutputID{TransactionID: t1ID.AsTransactionID(), Index: 0}
	_, unspent, err := c.ledger.UnspentOutput(o4)
	require.NoError(t, err)
	require.True(t, unspent)

	o6 := message.OutputID{TransactionID: t3ID.AsTransactionID(), Index: 0}
	_, created, err := c.ledger.UnspentOutput(o6)
	require.NoError(t, err)
	require.False(t, created)
}

func TestConfirmSetsConeRootIndexOnEveryVisitedVertex(t *testing.T) {
	c, t1ID, t2ID, t3ID, rootID := setupCone(t)

	declaredRoot := merkleRoot([]message.MessageID{t1ID, t2ID})
	_, err := c.Confirm(rootID, 7, declaredRoot)
	require.NoError(t, err)

	for _, id := range []message.MessageID{t1ID, t2ID, t3ID, rootID} {
		v, ok := c.tg.Vertex(id)
		require.True(t, ok)
		idx, set := v.Metadata.ConeRootIndex()
		require.True(t, set)
		require.Equal(t, uint32(7), idx)
	}
}

func TestConfirmReturnsErrorOnMerkleMismatch(t *testing.T) {
	c, _, _, _, rootID := setupCone(t)

	_, err := c.Confirm(rootID, 7, [32]byte{0xDE, 0xAD})
	require.ErrorIs(t, err, ErrMerkleMismatch)
}

func TestConfirmReturnsErrorForUnknownMilestoneVertex(t *testing.T) {
	l := ledger.New(kvstore.NewMemoryBackend())
	tg := tangle.New(nil)
	c := New(tg, l)

	_, err := c.Confirm(message.MessageID{9}, 1, [32]byte{})
	require.ErrorIs(t, err, ErrMilestoneNotFound)
}
