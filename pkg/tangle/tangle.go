package tangle

import (
	"time"

	"github.com/iotaledger/hive.go/syncutils"

	"github.com/tangleproto/tanglenode/pkg/message"
)

// SolidEntryPoint is a vertex treated as solid without a stored body,
// loaded from a snapshot at startup (spec.md §3).
type SolidEntryPoint struct {
	OTRSI uint32
	YTRSI uint32
}

// Tangle is the concurrent DAG of messages: message-id uniquely identifies
// a vertex, insertion is idempotent, and for every edge (child→parent) the
// parent has the child in its child set (spec.md §3).
type Tangle struct {
	mu syncutils.RWMutex

	vertices map[message.MessageID]*Vertex
	// children maps a (possibly not-yet-stored) parent id to the set of
	// children that reference it, kept independent of vertices per
	// SPEC_FULL.md/spec.md §9 (two maps, never bidirectional pointers).
	children map[message.MessageID]map[message.MessageID]struct{}

	solidEntryPoints map[message.MessageID]SolidEntryPoint
	milestones       map[uint32]message.MessageID
}

// New creates a Tangle seeded with the given solid entry points (spec.md
// §3: "a fixed finite set loaded at startup").
func New(solidEntryPoints map[message.MessageID]SolidEntryPoint) *Tangle {
	if solidEntryPoints == nil {
		solidEntryPoints = make(map[message.MessageID]SolidEntryPoint)
	}
	return &Tangle{
		vertices:         make(map[message.MessageID]*Vertex),
		children:         make(map[message.MessageID]map[message.MessageID]struct{}),
		solidEntryPoints: solidEntryPoints,
		milestones:       make(map[uint32]message.MessageID),
	}
}

// SolidEntryPoint reports whether id is a solid entry point and, if so, its
// fixed OTRSI/YTRSI.
func (t *Tangle) SolidEntryPoint(id message.MessageID) (SolidEntryPoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sep, ok := t.solidEntryPoints[id]
	return sep, ok
}

// Contains reports whether id is stored (a solid entry point counts,
// matching spec.md §4.3 step 4's "already present" definition used by the
// processor when deciding which parents to request).
func (t *Tangle) Contains(id message.MessageID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.solidEntryPoints[id]; ok {
		return true
	}
	_, ok := t.vertices[id]
	return ok
}

// Vertex returns the stored vertex for id, if any. Solid entry points have
// no stored body and are not returned here.
func (t *Tangle) Vertex(id message.MessageID) (*Vertex, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.vertices[id]
	return v, ok
}

// Insert stores msg under id if not already present and registers the
// parent→child edges. Insertion is idempotent: a repeat insert returns the
// existing vertex and isNew=false (spec.md §3, §4.3 step 6).
func (t *Tangle) Insert(id message.MessageID, msg *message.Message, requested bool, arrived time.Time) (v *Vertex, isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.vertices[id]; ok {
		return existing, false
	}

	v = &Vertex{ID: id, Message: msg, Metadata: NewMetadata(arrived, requested)}
	t.vertices[id] = v

	t.addChildLocked(msg.Parent1, id)
	if msg.Parent2 != msg.Parent1 {
		t.addChildLocked(msg.Parent2, id)
	}
	return v, true
}

func (t *Tangle) addChildLocked(parent, child message.MessageID) {
	set, ok := t.children[parent]
	if !ok {
		set = make(map[message.MessageID]struct{})
		t.children[parent] = set
	}
	set[child] = struct{}{}
}

// Children returns the ids of every stored vertex whose parent1 or parent2
// is id.
func (t *Tangle) Children(id message.MessageID) []message.MessageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.children[id]
	out := make([]message.MessageID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// ParentsResolved reports whether both of v's parents are stored-and-solid
// or solid entry points (spec.md §3 solidity invariant).
func (t *Tangle) ParentsResolved(v *Vertex) (resolved bool, p1Solid, p2Solid bool) {
	resolve := func(id message.MessageID) bool {
		if _, ok := t.SolidEntryPoint(id); ok {
			return true
		}
		p, ok := t.Vertex(id)
		return ok && p.Metadata.IsSolid()
	}
	p1Solid = resolve(v.Message.Parent1)
	p2Solid = resolve(v.Message.Parent2)
	return p1Solid && p2Solid, p1Solid, p2Solid
}

// ParentIndices returns the OTRSI/YTRSI of a parent, whether from its
// metadata or, for a solid entry point, its fixed snapshot value.
func (t *Tangle) ParentIndices(id message.MessageID) (otrsi, ytrsi uint32, ok bool) {
	if sep, isSEP := t.SolidEntryPoint(id); isSEP {
		return sep.OTRSI, sep.YTRSI, true
	}
	v, exists := t.Vertex(id)
	if !exists {
		return 0, 0, false
	}
	return v.Metadata.Indices()
}

// SetMilestone records the index→message-id mapping for a validated
// milestone (spec.md §4.7).
func (t *Tangle) SetMilestone(index uint32, id message.MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.milestones[index] = id
}

// MilestoneByIndex looks up a previously recorded milestone's message id.
func (t *Tangle) MilestoneByIndex(index uint32) (message.MessageID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.milestones[index]
	return id, ok
}

// Size returns the number of stored vertices, for diagnostics and tests.
func (t *Tangle) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vertices)
}
