// Package requester tracks outstanding message/milestone requests and
// retries them with the per-peer pick policy of spec.md §4.5, grounded on
// the teacher's rqueue-style "outstanding request with retry interval"
// bookkeeping (networks/p2p downloader's peer-drop-on-timeout pattern)
// generalized to two independently-keyed trackers (message id, milestone
// index) sharing the same structure.
package requester

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tangleproto/tanglenode/pkg/peer"
)

type entry struct {
	hint         uint32
	lastDispatch time.Time
}

// Requester is a generic outstanding-request tracker keyed by K (MessageID
// or a milestone index), implementing spec.md §4.5's RequestedMessages/
// RequestedMilestones semantics: insert on first request, remove on
// arrival, redispatch eligible once lastDispatch is older than interval.
type Requester[K comparable] struct {
	mu      sync.Mutex
	entries map[K]entry

	interval time.Duration
	counter  uint64
}

// New builds a tracker that redispatches entries every interval.
func New[K comparable](interval time.Duration) *Requester[K] {
	return &Requester[K]{entries: make(map[K]entry), interval: interval}
}

// Contains reports whether key already has an outstanding request.
func (r *Requester[K]) Contains(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Remove clears key's outstanding request, called on arrival (spec.md §4.5
// and §4.3 step 7).
func (r *Requester[K]) Remove(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// DueForRetry returns every key whose last dispatch predates the retry
// interval, for the periodic redispatch loop.
func (r *Requester[K]) DueForRetry(now time.Time) []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []K
	for k, e := range r.entries {
		if now.Sub(e.lastDispatch) >= r.interval {
			due = append(due, k)
		}
	}
	return due
}

// Hint returns the recorded index hint for key, if any.
func (r *Requester[K]) Hint(key K) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e.hint, ok
}

func (r *Requester[K]) recordDispatch(key K, hint uint32, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = entry{hint: hint, lastDispatch: now}
}

// Dispatch sends key's request packet via one eligible peer from peers,
// following spec.md §4.5's two-pass pick policy: first pass picks peers
// whose advertised window definitely covers indexHint (pruning_index ≤
// hint ≤ latest); second pass relaxes to every remaining peer. The first
// successful send wins and is recorded; if none succeed nothing is
// recorded, leaving key eligible for a later retry tick.
//
// Already-outstanding keys are a no-op (spec.md §4.5: "if RequestedMessages
// already contains id, return").
func (r *Requester[K]) Dispatch(key K, indexHint uint32, now time.Time, peers []*peer.Peer, send func(p *peer.Peer) error) bool {
	if r.Contains(key) {
		return false
	}
	return r.ForceDispatch(key, indexHint, now, peers, send)
}

// ForceDispatch behaves like Dispatch but skips the "already outstanding"
// check, used by the retry loop to redispatch an entry that is already
// tracked (spec.md §4.5: "redispatches any entry whose instant is older
// than the interval, updating the instant on successful redispatch").
func (r *Requester[K]) ForceDispatch(key K, indexHint uint32, now time.Time, peers []*peer.Peer, send func(p *peer.Peer) error) bool {
	var definite, maybe []*peer.Peer
	for _, p := range peers {
		pruning, latest := p.AdvertisedWindow()
		if pruning <= indexHint && indexHint <= latest {
			definite = append(definite, p)
		} else {
			maybe = append(maybe, p)
		}
	}

	if r.tryDispatch(key, indexHint, now, definite, send) {
		return true
	}
	return r.tryDispatch(key, indexHint, now, maybe, send)
}

func (r *Requester[K]) tryDispatch(key K, indexHint uint32, now time.Time, candidates []*peer.Peer, send func(p *peer.Peer) error) bool {
	n := len(candidates)
	if n == 0 {
		return false
	}
	start := int(atomic.AddUint64(&r.counter, 1) % uint64(n))
	for i := 0; i < n; i++ {
		p := candidates[(start+i)%n]
		if err := send(p); err == nil {
			r.recordDispatch(key, indexHint, now)
			return true
		}
	}
	return false
}
