// Package supervisor is the single point every worker reports errors to, so
// that no error propagates across a worker boundary by unwinding. A worker
// converts a failure into a Report and sends it here; the supervisor decides
// whether that means a metric increment, a log line, or a shutdown request.
package supervisor

import (
	"sync"

	"github.com/tangleproto/tanglenode/internal/errs"
	"github.com/tangleproto/tanglenode/internal/log"
)

var logger = log.New("supervisor")

// Report is what a worker sends when it cannot handle an error itself.
type Report struct {
	Worker string
	Err    error
	Class  errs.Class
}

// Supervisor fans in worker error reports and owns the shutdown signal.
type Supervisor struct {
	reports  chan Report
	shutdown chan struct{}
	once     sync.Once

	mu                 sync.Mutex
	malformedStreak    map[string]int
	malformedThreshold int
	onMalformedPeer    func(worker string)
}

// New creates a Supervisor. malformedThreshold is the number of consecutive
// Malformed reports from one worker (a peer session, typically) before
// onMalformedPeer is invoked to close that session, per spec's "close the
// peer session after K malformed in a window."
func New(malformedThreshold int, onMalformedPeer func(worker string)) *Supervisor {
	return &Supervisor{
		reports:            make(chan Report, 256),
		shutdown:           make(chan struct{}),
		malformedStreak:    make(map[string]int),
		malformedThreshold: malformedThreshold,
		onMalformedPeer:    onMalformedPeer,
	}
}

// Reports returns the channel workers send Report values to.
func (s *Supervisor) Reports() chan<- Report { return s.reports }

// ShutdownRequested is closed once a Fatal report has been observed.
func (s *Supervisor) ShutdownRequested() <-chan struct{} { return s.shutdown }

// Run processes reports until shutdownSignal fires.
func (s *Supervisor) Run(shutdownSignal <-chan struct{}) {
	for {
		select {
		case <-shutdownSignal:
			return
		case r := <-s.reports:
			s.handle(r)
		}
	}
}

func (s *Supervisor) handle(r Report) {
	switch r.Class {
	case errs.Transient:
		logger.Debugw("transient error", "worker", r.Worker, "err", r.Err)
	case errs.Malformed:
		s.mu.Lock()
		s.malformedStreak[r.Worker]++
		streak := s.malformedStreak[r.Worker]
		s.mu.Unlock()
		logger.Warnw("malformed input", "worker", r.Worker, "err", r.Err, "streak", streak)
		if streak >= s.malformedThreshold && s.onMalformedPeer != nil {
			s.onMalformedPeer(r.Worker)
			s.mu.Lock()
			delete(s.malformedStreak, r.Worker)
			s.mu.Unlock()
		}
	case errs.Inconsistent:
		logger.Errorw("inconsistent state", "worker", r.Worker, "err", r.Err)
	case errs.Fatal:
		logger.Errorw("fatal error, requesting shutdown", "worker", r.Worker, "err", r.Err)
		s.once.Do(func() { close(s.shutdown) })
	}
}

// ResetMalformed clears the malformed-report streak for a worker, e.g. after
// it reconnects with a fresh session identity.
func (s *Supervisor) ResetMalformed(worker string) {
	s.mu.Lock()
	delete(s.malformedStreak, worker)
	s.mu.Unlock()
}
