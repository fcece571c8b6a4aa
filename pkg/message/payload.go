package message

// Kind tags which of the three payload variants a Message carries
// (spec.md §6: `u32_le kind | body`).
type Kind uint32

const (
	KindTransaction Kind = 0
	KindMilestone   Kind = 1
	KindIndexation  Kind = 2
)

// Payload is one of Transaction, Milestone or Indexation.
type Payload interface {
	Kind() Kind
	encode(w *writer)
}

// EncodePayload produces the tagged `u32_le kind | body` encoding.
func EncodePayload(p Payload) []byte {
	w := &writer{}
	w.u32(uint32(p.Kind()))
	p.encode(w)
	return w.buf
}

// DecodePayload parses the tagged encoding produced by EncodePayload.
func DecodePayload(b []byte) (Payload, error) {
	r := newReader(b)
	kindVal, err := r.u32()
	if err != nil {
		return nil, err
	}
	switch Kind(kindVal) {
	case KindTransaction:
		return decodeTransaction(r)
	case KindMilestone:
		return decodeMilestone(r)
	case KindIndexation:
		return decodeIndexation(r)
	default:
		return nil, ErrUnknownPayloadKind
	}
}

// MaxInputsOutputs bounds the input/output count of a single Transaction,
// grounded on the bundle structural pre-check described in SPEC_FULL.md §D.2.
const MaxInputsOutputs = 127

// Input references a prior Output by id, carrying an opaque unlock block
// (the ternary/Ed25519 signature scheme is treated as opaque per spec.md
// §1; this package never inspects Unlock's contents).
type Input struct {
	OutputID OutputID
	Unlock   []byte
}

// Output creates a new unspent output owned by Address for Amount.
type Output struct {
	Address Address
	Amount  uint64
}

// Transaction is the UTXO-style payload the white-flag confirmer applies to
// the ledger (spec.md §3, §4.8).
type Transaction struct {
	Inputs  []Input
	Outputs []Output
}

func (t *Transaction) Kind() Kind { return KindTransaction }

func (t *Transaction) encode(w *writer) {
	w.u16(uint16(len(t.Inputs)))
	for _, in := range t.Inputs {
		w.bytes(in.OutputID.Bytes())
		w.bytesWithU16Len(in.Unlock)
	}
	w.u16(uint16(len(t.Outputs)))
	for _, out := range t.Outputs {
		w.bytesWithU16Len(out.Address.Bytes())
		w.u64(out.Amount)
	}
}

func decodeTransaction(r *reader) (*Transaction, error) {
	numIn, err := r.u16()
	if err != nil {
		return nil, err
	}
	if int(numIn) > MaxInputsOutputs {
		return nil, ErrTooManyIO
	}
	t := &Transaction{Inputs: make([]Input, 0, numIn)}
	seen := make(map[OutputID]struct{}, numIn)
	for i := 0; i < int(numIn); i++ {
		idBytes, err := r.take(OutputIDLength)
		if err != nil {
			return nil, err
		}
		oid, err := OutputIDFromBytes(idBytes)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[oid]; dup {
			return nil, ErrDuplicateInput
		}
		seen[oid] = struct{}{}
		unlock, err := r.bytesWithU16Len()
		if err != nil {
			return nil, err
		}
		t.Inputs = append(t.Inputs, Input{OutputID: oid, Unlock: append([]byte(nil), unlock...)})
	}
	numOut, err := r.u16()
	if err != nil {
		return nil, err
	}
	if int(numOut) > MaxInputsOutputs {
		return nil, ErrTooManyIO
	}
	t.Outputs = make([]Output, 0, numOut)
	for i := 0; i < int(numOut); i++ {
		addrBytes, err := r.bytesWithU16Len()
		if err != nil {
			return nil, err
		}
		addr, err := AddressFromBytes(addrBytes)
		if err != nil {
			return nil, err
		}
		amount, err := r.u64()
		if err != nil {
			return nil, err
		}
		t.Outputs = append(t.Outputs, Output{Address: addr, Amount: amount})
	}
	return t, nil
}

// Milestone anchors consensus at Index; Signatures are verified against a
// configured coordinator key set with quorum Q by the milestone validator
// (spec.md §4.7). The signature scheme itself is opaque here.
type Milestone struct {
	Index                uint32
	Timestamp            uint64
	InclusionMerkleProof [32]byte
	Signatures           [][]byte
}

func (m *Milestone) Kind() Kind { return KindMilestone }

func (m *Milestone) encode(w *writer) {
	w.u32(m.Index)
	w.u64(m.Timestamp)
	w.bytes(m.InclusionMerkleProof[:])
	w.u16(uint16(len(m.Signatures)))
	for _, sig := range m.Signatures {
		w.bytesWithU16Len(sig)
	}
}

func decodeMilestone(r *reader) (*Milestone, error) {
	m := &Milestone{}
	var err error
	if m.Index, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Timestamp, err = r.u64(); err != nil {
		return nil, err
	}
	proof, err := r.take(32)
	if err != nil {
		return nil, err
	}
	copy(m.InclusionMerkleProof[:], proof)
	numSigs, err := r.u16()
	if err != nil {
		return nil, err
	}
	m.Signatures = make([][]byte, 0, numSigs)
	for i := 0; i < int(numSigs); i++ {
		sig, err := r.bytesWithU16Len()
		if err != nil {
			return nil, err
		}
		m.Signatures = append(m.Signatures, append([]byte(nil), sig...))
	}
	return m, nil
}

// Indexation attaches an application-defined index and opaque data to the
// tangle, with no ledger effect.
type Indexation struct {
	Index []byte
	Data  []byte
}

func (ix *Indexation) Kind() Kind { return KindIndexation }

func (ix *Indexation) encode(w *writer) {
	w.bytesWithU16Len(ix.Index)
	w.u32(uint32(len(ix.Data)))
	w.bytes(ix.Data)
}

func decodeIndexation(r *reader) (*Indexation, error) {
	idx, err := r.bytesWithU16Len()
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	data, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return &Indexation{Index: append([]byte(nil), idx...), Data: append([]byte(nil), data...)}, nil
}
