package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangleproto/tanglenode/pkg/kvstore"
	"github.com/tangleproto/tanglenode/pkg/message"
)

func outputID(b byte, index uint16) message.OutputID {
	var txID message.TransactionID
	txID[0] = b
	return message.OutputID{TransactionID: txID, Index: index}
}

func newTestLedger() *Ledger {
	return New(kvstore.NewMemoryBackend())
}

func ed25519Address(b byte) message.Address {
	key := make([]byte, message.Ed25519AddressLength)
	key[0] = b
	return message.Address{Kind: message.AddressEd25519, Key: key}
}

func TestUnspentOutputRoundTrip(t *testing.T) {
	l := newTestLedger()
	id := outputID(1, 0)
	out := message.Output{Address: ed25519Address(9), Amount: 42}

	d := NewDelta()
	d.CreateOutput(id, out)
	require.NoError(t, l.Apply(1, d))

	got, unspent, err := l.UnspentOutput(id)
	require.NoError(t, err)
	require.True(t, unspent)
	require.Equal(t, out.Amount, got.Amount)
}

func TestTrySpendRejectsUnknownOutput(t *testing.T) {
	l := newTestLedger()
	d := NewDelta()
	err := l.TrySpend(d, outputID(7, 0))
	require.ErrorIs(t, err, ErrAlreadySpent)
}

func TestTrySpendRejectsDoubleSpendWithinTraversal(t *testing.T) {
	l := newTestLedger()
	id := outputID(1, 0)
	seed := NewDelta()
	seed.CreateOutput(id, message.Output{Address: ed25519Address(1), Amount: 1})
	require.NoError(t, l.Apply(1, seed))

	d := NewDelta()
	require.NoError(t, l.TrySpend(d, id))
	err := l.TrySpend(d, id)
	require.ErrorIs(t, err, ErrAlreadySpent)
}

func TestApplyMovesSpentOutputsOutOfUnspent(t *testing.T) {
	l := newTestLedger()
	id := outputID(1, 0)
	seed := NewDelta()
	seed.CreateOutput(id, message.Output{Address: ed25519Address(1), Amount: 1})
	require.NoError(t, l.Apply(1, seed))

	d := NewDelta()
	require.NoError(t, l.TrySpend(d, id))
	require.NoError(t, l.Apply(2, d))

	_, unspent, err := l.UnspentOutput(id)
	require.NoError(t, err)
	require.False(t, unspent)
}

func TestDiffForMilestoneRecordsCreatedAndSpent(t *testing.T) {
	l := newTestLedger()
	created := outputID(1, 0)
	seed := NewDelta()
	seed.CreateOutput(created, message.Output{Address: ed25519Address(1), Amount: 5})
	require.NoError(t, l.Apply(3, seed))

	diff, ok, err := l.DiffForMilestone(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(3), diff.MilestoneIndex)
	require.ElementsMatch(t, []message.OutputID{created}, diff.Created)
	require.Empty(t, diff.Spent)
}
