// Package ledger is the out-of-core unspent-output / spent-marker store
// spec.md §3 and §6 describe, plus the per-milestone diff persistence
// SPEC_FULL.md §D.5 adds. Grounded on the teacher's storage layer
// conventions (typed views over a shared kvstore.Backend, as in
// storage/database/db_manager.go's per-kind accessor methods), it never
// interprets Address/Unlock contents: the ternary signature scheme is
// treated as opaque per spec.md §1.
package ledger

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/tangleproto/tanglenode/pkg/kvstore"
	"github.com/tangleproto/tanglenode/pkg/message"
)

// ErrAlreadySpent is returned by TrySpend when the referenced output does not
// exist as unspent, either because it never existed or was already spent
// within the current traversal (spec.md §4.8's conflict rule).
var ErrAlreadySpent = errors.New("ledger: output not unspent")

var (
	prefixUnspent = []byte("u:")
	prefixSpent   = []byte("s:")
	prefixDiff    = []byte("d:")
)

func outputIDKey(o message.OutputID) []byte { return o.Bytes() }

func encodeOutput(o message.Output) []byte {
	b := make([]byte, 0, 1+len(o.Address.Key)+8)
	addrBytes := o.Address.Bytes()
	b = append(b, byte(len(addrBytes)))
	b = append(b, addrBytes...)
	amt := make([]byte, 8)
	binary.LittleEndian.PutUint64(amt, o.Amount)
	return append(b, amt...)
}

func decodeOutput(raw []byte) (message.Output, error) {
	if len(raw) < 1 {
		return message.Output{}, message.ErrTruncated
	}
	n := int(raw[0])
	if len(raw) < 1+n+8 {
		return message.Output{}, message.ErrTruncated
	}
	addr, err := message.AddressFromBytes(raw[1 : 1+n])
	if err != nil {
		return message.Output{}, err
	}
	amount := binary.LittleEndian.Uint64(raw[1+n : 1+n+8])
	return message.Output{Address: addr, Amount: amount}, nil
}

func encodeMarker(bool) []byte { return []byte{1} }
func decodeMarker(raw []byte) (bool, error) { return len(raw) > 0 && raw[0] == 1, nil }

// Diff is the set of ledger mutations a single milestone's confirmation
// applied: created outputs and spent input ids, recorded so it can be
// replayed for diagnostics (SPEC_FULL.md §D.5).
type Diff struct {
	MilestoneIndex uint32
	Created        []message.OutputID
	Spent          []message.OutputID
}

func encodeDiff(d Diff) []byte {
	w := make([]byte, 0, 4+4+4+ (len(d.Created)+len(d.Spent))*message.OutputIDLength)
	put32 := func(v uint32) { w = append(w, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)) }
	put32(d.MilestoneIndex)
	put32(uint32(len(d.Created)))
	for _, o := range d.Created {
		w = append(w, o.Bytes()...)
	}
	put32(uint32(len(d.Spent)))
	for _, o := range d.Spent {
		w = append(w, o.Bytes()...)
	}
	return w
}

func decodeDiff(raw []byte) (Diff, error) {
	get32 := func(b []byte) uint32 {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	if len(raw) < 12 {
		return Diff{}, message.ErrTruncated
	}
	var d Diff
	d.MilestoneIndex = get32(raw[0:4])
	pos := 4
	nCreated := get32(raw[pos : pos+4])
	pos += 4
	for i := uint32(0); i < nCreated; i++ {
		o, err := message.OutputIDFromBytes(raw[pos : pos+message.OutputIDLength])
		if err != nil {
			return Diff{}, err
		}
		d.Created = append(d.Created, o)
		pos += message.OutputIDLength
	}
	nSpent := get32(raw[pos : pos+4])
	pos += 4
	for i := uint32(0); i < nSpent; i++ {
		o, err := message.OutputIDFromBytes(raw[pos : pos+message.OutputIDLength])
		if err != nil {
			return Diff{}, err
		}
		d.Spent = append(d.Spent, o)
		pos += message.OutputIDLength
	}
	return d, nil
}

// Ledger is the mapping output-id → unspent output and output-id → spent
// marker (spec.md §3), backed by a shared kvstore.Backend, plus the
// per-milestone diff log (SPEC_FULL.md §D.5). A single mutex serializes
// apply so a milestone's delta lands atomically with respect to readers,
// matching spec.md §4.8's "the delta is applied atomically to the ledger
// store."
type Ledger struct {
	mu sync.Mutex

	unspent *kvstore.Typed[message.OutputID, message.Output]
	spent   *kvstore.Typed[message.OutputID, bool]
	diffs   *kvstore.Typed[uint32, Diff]
}

// New builds a Ledger over backend.
func New(backend kvstore.Backend) *Ledger {
	return &Ledger{
		unspent: kvstore.NewTyped(backend, prefixUnspent, outputIDKey, encodeOutput, decodeOutput),
		spent:   kvstore.NewTyped(backend, prefixSpent, outputIDKey, encodeMarker, decodeMarker),
		diffs:   kvstore.NewTyped(backend, prefixDiff, encodeIndex, encodeDiff, decodeDiff),
	}
}

func encodeIndex(i uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, i)
	return b
}

// UnspentOutput looks up o, reporting whether it exists and is unspent.
func (l *Ledger) UnspentOutput(o message.OutputID) (message.Output, bool, error) {
	spent, _, err := l.spent.Fetch(o)
	if err != nil {
		return message.Output{}, false, err
	}
	if spent {
		return message.Output{}, false, nil
	}
	return l.unspent.Fetch(o)
}

// Delta accumulates the spends and new outputs of one milestone's cone
// traversal before it is applied atomically (spec.md §4.8).
type Delta struct {
	spentWithin map[message.OutputID]struct{}
	spend       []message.OutputID
	create      map[message.OutputID]message.Output
}

// NewDelta starts an empty transient delta for one confirmation.
func NewDelta() *Delta {
	return &Delta{spentWithin: make(map[message.OutputID]struct{}), create: make(map[message.OutputID]message.Output)}
}

// TrySpend marks o spent within this delta, after checking it is unspent in
// the ledger and not already spent earlier in this same traversal. Returns
// ErrAlreadySpent on conflict, matching spec.md §4.8's "mark v conflicting
// and skip ledger effects."
func (l *Ledger) TrySpend(d *Delta, o message.OutputID) error {
	if _, already := d.spentWithin[o]; already {
		return ErrAlreadySpent
	}
	_, unspent, err := l.UnspentOutput(o)
	if err != nil {
		return err
	}
	if !unspent {
		return ErrAlreadySpent
	}
	d.spentWithin[o] = struct{}{}
	d.spend = append(d.spend, o)
	return nil
}

// CreateOutput registers a new unspent output in this delta.
func (d *Delta) CreateOutput(id message.OutputID, out message.Output) {
	d.create[id] = out
}

// Apply commits d atomically: every spent input is deleted from unspent and
// marked spent, every created output is inserted as unspent, and the diff
// is recorded under milestoneIndex (spec.md §4.8, SPEC_FULL.md §D.5).
func (l *Ledger) Apply(milestoneIndex uint32, d *Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range d.spend {
		if err := l.unspent.Delete(id); err != nil {
			return err
		}
		if err := l.spent.Insert(id, true); err != nil {
			return err
		}
	}
	created := make([]message.OutputID, 0, len(d.create))
	for id, out := range d.create {
		if err := l.unspent.Insert(id, out); err != nil {
			return err
		}
		created = append(created, id)
	}
	return l.diffs.Insert(milestoneIndex, Diff{MilestoneIndex: milestoneIndex, Created: created, Spent: d.spend})
}

// DiffForMilestone returns the persisted diff for index, for the
// diagnostic ledgerdiff CLI subcommand (SPEC_FULL.md §D.5).
func (l *Ledger) DiffForMilestone(index uint32) (Diff, bool, error) {
	return l.diffs.Fetch(index)
}
