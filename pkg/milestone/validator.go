// Package milestone implements the milestone validator (spec.md §4.7) and
// solidifier (spec.md §4.6): verifying coordinator-signed milestone payloads
// and ordering their solidification strictly by index. Quorum accounting is
// grounded on the teacher's istanbul validator set's F()/quorum formula
// (_examples/jeongkyun-oh-klaytn/consensus/istanbul/validator/weighted.go's
// ceil(N/3)-1 style threshold), generalized from BFT commit counting to
// milestone-signature counting, and the solidifier's traversal is grounded
// directly on the Hornet solidQueueCheck/solidifyMilestone fragment
// (_examples/other_examples/...hornet__plugins-tangle-solidifier.go.go).
package milestone

import (
	"errors"
	"sort"
	"sync"

	"github.com/iotaledger/hive.go/events"

	"github.com/tangleproto/tanglenode/internal/log"
	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

// Verifier checks an opaque coordinator signature against a public key and
// the signed bytes. The ternary/Ed25519 signature scheme itself is treated
// as opaque per spec.md §1; production wiring supplies a concrete
// implementation, tests supply a fake.
type Verifier interface {
	Verify(pubKey, signed, signature []byte) bool
}

var (
	// ErrUnknownCoordinatorKeys is returned when no configured key covers
	// the milestone's index.
	ErrUnknownCoordinatorKeys = errors.New("milestone: no coordinator key covers this index")
	// ErrQuorumNotMet is returned when fewer than Quorum signatures verify.
	ErrQuorumNotMet = errors.New("milestone: signature quorum not met")
	// ErrIndexNotMonotonic is returned when index does not exceed the
	// stored latest milestone index.
	ErrIndexNotMonotonic = errors.New("milestone: index not monotonically increasing")
)

func messageIDIndexCaller(handler interface{}, params ...interface{}) {
	handler.(func(message.MessageID, uint32))(params[0].(message.MessageID), params[1].(uint32))
}

// Events fired by the validator.
type Events struct {
	// LatestMilestoneChanged fires once a milestone passes validation.
	LatestMilestoneChanged *events.Event
}

// Validator verifies milestone payload signatures and index monotonicity
// (spec.md §4.7), accepting any coordinator key whose validity range covers
// the milestone's index (SPEC_FULL.md §D.3 key-rotation supplement).
type Validator struct {
	Events Events

	tg       *tangle.Tangle
	verifier Verifier
	cfg      config.Config
	logger   *log.Logger

	mu     sync.Mutex
	latest uint32
}

// New builds a Validator over tg, verifying signatures with verifier.
func New(tg *tangle.Tangle, verifier Verifier, cfg config.Config) *Validator {
	return &Validator{
		Events: Events{
			LatestMilestoneChanged: events.NewEvent(messageIDIndexCaller),
		},
		tg:       tg,
		verifier: verifier,
		cfg:      cfg,
		logger:   log.New("milestone-validator"),
	}
}

// LatestIndex returns the highest index accepted so far.
func (v *Validator) LatestIndex() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}

// keysForIndex returns every configured coordinator key whose validity
// range covers index.
func (v *Validator) keysForIndex(index uint32) [][]byte {
	var keys [][]byte
	for _, k := range v.cfg.CoordinatorKeys {
		if index < k.ValidFrom {
			continue
		}
		if k.ValidUntil != 0 && index > k.ValidUntil {
			continue
		}
		keys = append(keys, k.PublicKey)
	}
	return keys
}

// signedBytes is the canonical payload a coordinator signs: every field of
// the Milestone except the signature list itself.
func signedBytes(ms *message.Milestone) []byte {
	cp := &message.Milestone{Index: ms.Index, Timestamp: ms.Timestamp, InclusionMerkleProof: ms.InclusionMerkleProof}
	return message.EncodePayload(cp)
}

// Validate checks ms's signatures against the configured key set with
// quorum Q and its index against the stored latest, per spec.md §4.7. On
// success it sets flags.is_milestone on id's vertex, records the
// index→id mapping and publishes LatestMilestoneChanged.
func (v *Validator) Validate(id message.MessageID, ms *message.Milestone) error {
	keys := v.keysForIndex(ms.Index)
	if len(keys) == 0 {
		return ErrUnknownCoordinatorKeys
	}

	signed := signedBytes(ms)
	verifiedKeys := make(map[int]bool, len(keys))
	matches := 0
	for _, sig := range ms.Signatures {
		for ki, key := range keys {
			if verifiedKeys[ki] {
				continue
			}
			if v.verifier.Verify(key, signed, sig) {
				verifiedKeys[ki] = true
				matches++
				break
			}
		}
	}
	if matches < v.cfg.Quorum {
		return ErrQuorumNotMet
	}

	v.mu.Lock()
	if ms.Index <= v.latest && v.latest != 0 {
		v.mu.Unlock()
		return ErrIndexNotMonotonic
	}
	v.latest = ms.Index
	v.mu.Unlock()

	vtx, ok := v.tg.Vertex(id)
	if ok {
		vtx.Metadata.SetMilestone()
	}
	v.tg.SetMilestone(ms.Index, id)

	v.logger.Infow("milestone validated", "index", ms.Index, "id", id.String(), "signatures", matches)
	v.Events.LatestMilestoneChanged.Trigger(id, ms.Index)
	return nil
}

// QuorumFromValidatorCount mirrors the teacher's istanbul F()-derived
// quorum formula (ceil(N/3)-1 tolerated faults, so 2F+1 required
// confirmations) generalized from BFT block commits to milestone
// signatures, for callers that want a derived default instead of a fixed
// config.Quorum.
func QuorumFromValidatorCount(n int) int {
	f := (n + 2) / 3
	if f > 0 {
		f--
	}
	return 2*f + 1
}

// sortedIndices returns the keys of in sorted in increasing order. The
// solidifier does not call it: it drains its pending set by looking up
// nextIndex directly.
func sortedIndices(in map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(in))
	for idx := range in {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
