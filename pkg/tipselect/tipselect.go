// Package tipselect implements the WURTS tip-selection engine of spec.md
// §4.9: a classified tip pool (non-lazy/semi-lazy/lazy by OTRSI/YTRSI
// distance from LSMI), retention rules that widen the cone, and random
// pair selection. Grounded directly on
// `_examples/original_source/bee-protocol/src/tangle/wurts.rs`'s
// WurtsTipPool (insert/check_retention_rules_for_parent/update/
// two_non_lazy_tips), reimplemented with Go's reader/writer lock instead
// of Rust's single-threaded &mut self, per spec.md §4.9's explicit
// "scoring takes an exclusive lock, selection takes a shared lock"
// discipline.
package tipselect

import (
	"math/rand"
	"sync"
	"time"

	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

// Score classifies a vertex by its OTRSI/YTRSI distance from LSMI (spec.md
// §4.9).
type Score int

const (
	NonLazy Score = iota
	SemiLazy
	Lazy
)

type tipMeta struct {
	children        map[message.MessageID]struct{}
	firstChildAt    time.Time
	hasFirstChild   bool
	selectionCount  int
}

// Pool is the live tip set, classified and retained per spec.md §4.9.
type Pool struct {
	mu sync.RWMutex

	tg  *tangle.Tangle
	cfg config.TipSelectConfig

	tips    map[message.MessageID]*tipMeta
	nonLazy map[message.MessageID]struct{}

	lsmi uint32

	rng *rand.Rand
}

// New builds an empty Pool over tg, classifying against cfg's thresholds.
func New(tg *tangle.Tangle, cfg config.TipSelectConfig, seed int64) *Pool {
	return &Pool{
		tg:      tg,
		cfg:     cfg,
		tips:    make(map[message.MessageID]*tipMeta),
		nonLazy: make(map[message.MessageID]struct{}),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// SetLSMI updates the latest-solid-milestone-index used for classification.
// Callers follow this with Rescore to reclassify the existing pool (spec.md
// §4.9: "periodic rescore (on every new milestone)").
func (p *Pool) SetLSMI(index uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lsmi = index
}

func (p *Pool) classify(otrsi, ytrsi uint32) Score {
	lsmiMinusYtrsi := delta(p.lsmi, ytrsi)
	lsmiMinusOtrsi := delta(p.lsmi, otrsi)

	if lsmiMinusYtrsi > uint32(p.cfg.C1) {
		return Lazy
	}
	if lsmiMinusOtrsi > uint32(p.cfg.M) {
		return Lazy
	}
	if lsmiMinusOtrsi > uint32(p.cfg.C2) {
		return SemiLazy
	}
	return NonLazy
}

func delta(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}

// Insert adds a newly solid vertex v to the tip pool, classifying it and
// applying parent retention rules (spec.md §4.9 "Retention"). Lazy
// vertices are dropped immediately.
func (p *Pool) Insert(id message.MessageID, now time.Time) {
	v, ok := p.tg.Vertex(id)
	if !ok {
		return
	}
	otrsi, ytrsi, ok := v.Metadata.Indices()
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	score := p.classify(otrsi, ytrsi)
	if score == Lazy {
		return
	}
	p.addTipLocked(id)
	if score != NonLazy {
		delete(p.nonLazy, id)
	}

	p.linkChildLocked(v.Message.Parent1, id, now)
	if v.Message.Parent2 != v.Message.Parent1 {
		p.linkChildLocked(v.Message.Parent2, id, now)
	}
	p.checkRetentionLocked(v.Message.Parent1, now)
	if v.Message.Parent2 != v.Message.Parent1 {
		p.checkRetentionLocked(v.Message.Parent2, now)
	}
}

func (p *Pool) addTipLocked(id message.MessageID) {
	if _, exists := p.tips[id]; exists {
		return
	}
	p.tips[id] = &tipMeta{children: make(map[message.MessageID]struct{})}
	p.nonLazy[id] = struct{}{}
}

func (p *Pool) linkChildLocked(parent, child message.MessageID, now time.Time) {
	meta, ok := p.tips[parent]
	if !ok {
		return
	}
	meta.children[child] = struct{}{}
	if !meta.hasFirstChild {
		meta.firstChildAt = now
		meta.hasFirstChild = true
	}
}

// checkRetentionLocked evicts parent from the pool once it has too many
// children or has sat unpromoted for too long, per spec.md §4.9 step 3.
func (p *Pool) checkRetentionLocked(parent message.MessageID, now time.Time) {
	meta, ok := p.tips[parent]
	if !ok {
		return
	}
	tooManyChildren := len(meta.children) > p.cfg.MaxNumChildren
	tooOld := meta.hasFirstChild && now.Sub(meta.firstChildAt) > p.cfg.MaxAge
	if tooManyChildren || tooOld {
		delete(p.tips, parent)
		delete(p.nonLazy, parent)
	}
}

// Rescore reclassifies every tip against the current LSMI, dropping
// vertices that became lazy (spec.md §4.9: "iterate the tip set and
// reclassify using current LSMI; drop vertices that became lazy").
func (p *Pool) Rescore() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.tips {
		v, ok := p.tg.Vertex(id)
		if !ok {
			delete(p.tips, id)
			delete(p.nonLazy, id)
			continue
		}
		otrsi, ytrsi, ok := v.Metadata.Indices()
		if !ok {
			continue
		}
		switch p.classify(otrsi, ytrsi) {
		case Lazy:
			delete(p.tips, id)
			delete(p.nonLazy, id)
		case SemiLazy:
			delete(p.nonLazy, id)
		case NonLazy:
			p.nonLazy[id] = struct{}{}
		}
	}
}

// SelectPair samples up to SelectionSamples times from the non-lazy set and
// returns a deduplicated pair, per spec.md §4.9 "select_pair()". Selected
// tips have their selection count bumped and are evicted once they exceed
// MaxNumSelections.
func (p *Pool) SelectPair() (message.MessageID, message.MessageID, bool) {
	p.mu.RLock()
	candidates := make([]message.MessageID, 0, len(p.nonLazy))
	for id := range p.nonLazy {
		candidates = append(candidates, id)
	}
	p.mu.RUnlock()

	if len(candidates) == 0 {
		return message.MessageID{}, message.MessageID{}, false
	}

	seen := make(map[message.MessageID]struct{}, 2)
	var distinct []message.MessageID
	samples := p.cfg.SelectionSamples
	if samples <= 0 {
		samples = 10
	}
	for i := 0; i < samples && len(distinct) < 2; i++ {
		pick := candidates[p.rng.Intn(len(candidates))]
		if _, dup := seen[pick]; dup {
			continue
		}
		seen[pick] = struct{}{}
		distinct = append(distinct, pick)
	}

	switch len(distinct) {
	case 0:
		return message.MessageID{}, message.MessageID{}, false
	case 1:
		p.recordSelection(distinct[0])
		return distinct[0], distinct[0], true
	default:
		p.recordSelection(distinct[0])
		p.recordSelection(distinct[1])
		return distinct[0], distinct[1], true
	}
}

func (p *Pool) recordSelection(id message.MessageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	meta, ok := p.tips[id]
	if !ok {
		return
	}
	meta.selectionCount++
	if meta.selectionCount > p.cfg.MaxNumSelections {
		delete(p.tips, id)
		delete(p.nonLazy, id)
	}
}

// Size returns the number of non-lazy tips currently retained, for
// diagnostics and tests.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nonLazy)
}
