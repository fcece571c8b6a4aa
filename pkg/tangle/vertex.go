// Package tangle is the concurrent DAG of messages with per-vertex metadata
// described in spec.md §3 and §4.10.
package tangle

import (
	"time"

	"github.com/iotaledger/hive.go/syncutils"

	"github.com/tangleproto/tanglenode/pkg/message"
)

// Flags are the per-vertex boolean flags from spec.md §3.
type Flags uint8

const (
	FlagRequested Flags = 1 << iota
	FlagSolid
	FlagValid
	FlagMilestone
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Metadata is the mutable state attached to one stored message. Every
// mutator takes the per-vertex lock so read-modify-write sequences (e.g.
// OTRSI/YTRSI recomputation) never race (spec.md §4.10 update_metadata).
type Metadata struct {
	mu syncutils.RWMutex

	arrived time.Time
	flags   Flags

	otrsi    uint32
	ytrsi    uint32
	otrsiSet bool
	ytrsiSet bool

	coneRootIndex uint32
	coneRootSet   bool

	selectionCount int
}

// NewMetadata creates metadata for a just-arrived vertex.
func NewMetadata(arrived time.Time, requested bool) *Metadata {
	m := &Metadata{arrived: arrived}
	if requested {
		m.flags |= FlagRequested
	}
	return m
}

func (m *Metadata) Arrived() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arrived
}

func (m *Metadata) IsRequested() bool { return m.hasFlag(FlagRequested) }
func (m *Metadata) IsSolid() bool     { return m.hasFlag(FlagSolid) }
func (m *Metadata) IsValid() bool     { return m.hasFlag(FlagValid) }
func (m *Metadata) IsMilestone() bool { return m.hasFlag(FlagMilestone) }

func (m *Metadata) hasFlag(f Flags) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags.has(f)
}

// ClearRequested removes the requested flag once a requested message's
// parents have been dispatched per spec.md §4.3 step 7.
func (m *Metadata) ClearRequested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags &^= FlagRequested
}

// SetSolid marks the vertex solid, returning false if it already was
// (callers use this to tell whether this is the transition that should
// cascade, spec.md §4.4).
func (m *Metadata) SetSolid() (newlySolid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flags.has(FlagSolid) {
		return false
	}
	m.flags |= FlagSolid
	return true
}

func (m *Metadata) SetValid() { m.mu.Lock(); m.flags |= FlagValid; m.mu.Unlock() }

func (m *Metadata) SetMilestone() { m.mu.Lock(); m.flags |= FlagMilestone; m.mu.Unlock() }

// Indices returns the current OTRSI/YTRSI and whether they have been set.
func (m *Metadata) Indices() (otrsi uint32, ytrsi uint32, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.otrsi, m.ytrsi, m.otrsiSet && m.ytrsiSet
}

// SetIndices publishes OTRSI/YTRSI, computed by the propagator on
// solidification (spec.md §3, §4.4); a later call overwrites them.
func (m *Metadata) SetIndices(otrsi, ytrsi uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otrsi = otrsi
	m.ytrsi = ytrsi
	m.otrsiSet, m.ytrsiSet = true, true
}

// ConeRootIndex returns the confirming milestone index, if set.
func (m *Metadata) ConeRootIndex() (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coneRootIndex, m.coneRootSet
}

// SetConeRootIndex is called exactly once per vertex, by the white-flag
// confirmer (spec.md §4.8, §8 invariant).
func (m *Metadata) SetConeRootIndex(index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.coneRootSet {
		m.coneRootIndex = index
		m.coneRootSet = true
	}
}

// IncSelectionCount bumps the tip-selection counter and returns the new
// value (spec.md §4.9 MAX_NUM_SELECTIONS).
func (m *Metadata) IncSelectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectionCount++
	return m.selectionCount
}

// Vertex is one stored message plus its metadata.
type Vertex struct {
	ID       message.MessageID
	Message  *message.Message
	Metadata *Metadata
}
