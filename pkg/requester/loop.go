package requester

import "time"

// RunRetryLoop redispatches every entry due for retry on a fixed tick,
// until shutdownSignal fires (spec.md §4.5: "retry loop runs on a fixed
// interval (default 5s)"). redispatch is expected to call ForceDispatch
// for each due key (Dispatch ignores keys that are already tracked); it is the caller's responsibility to resolve the
// key's current index hint and peer list.
func (r *Requester[K]) RunRetryLoop(shutdownSignal <-chan struct{}, redispatch func(key K)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdownSignal:
			return
		case now := <-ticker.C:
			for _, key := range r.DueForRetry(now) {
				redispatch(key)
			}
		}
	}
}
