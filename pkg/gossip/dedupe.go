package gossip

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/tangleproto/tanglenode/pkg/message"
)

const knownMessagesSize = 10000

// Dedupe is a recently-seen-message-id cache shared by every peer's
// Dispatcher, grounded on the teacher's istanbul backend's knownMessages
// ARC cache (consensus/istanbul/backend/handler.go's HandleMsg): the first
// peer to deliver a given message wins the race to forward it to the
// processor queue, and every later delivery of the same id from any other
// peer is dropped before it ever reaches that queue. It is purely a load
// shedding optimization — correctness still rests on the tangle's
// idempotent Insert, so a false negative here (the id evicted and
// re-admitted) only costs a redundant processor pass, never a wrong result.
type Dedupe struct {
	seen *lru.ARCCache
}

// NewDedupe builds a Dedupe cache. A nil *Dedupe is valid and always
// reports every id as unseen, so dispatchers built without one behave as
// if deduplication were disabled.
func NewDedupe() *Dedupe {
	c, _ := lru.NewARC(knownMessagesSize)
	return &Dedupe{seen: c}
}

// SeenBefore reports whether id was already recorded by an earlier call,
// recording it if not. Concurrent callers racing on the same id may both
// observe "not seen before" is only a benign, bounded duplicate forward —
// see the Dedupe doc comment.
func (d *Dedupe) SeenBefore(id message.MessageID) bool {
	if d == nil || d.seen == nil {
		return false
	}
	if _, ok := d.seen.Get(id); ok {
		return true
	}
	d.seen.Add(id, struct{}{})
	return false
}
