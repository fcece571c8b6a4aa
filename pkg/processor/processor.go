// Package processor implements the message-processor pipeline of spec.md
// §4.3: decode, validate network-id, compute id, check PoW score,
// idempotent insert, then notify the propagator/milestone validator and
// either request missing parents (if requested) or broadcast (if not).
// Grounded on the Hornet processor fragment's workerpool.WorkerPool fan-out
// (_examples/Metz-2-hornet/pkg/protocol/processor/processor.go), reusing
// its hive.go/events + hive.go/workerpool stack directly.
package processor

import (
	"time"

	"github.com/iotaledger/hive.go/events"
	"github.com/iotaledger/hive.go/workerpool"

	"github.com/tangleproto/tanglenode/internal/log"
	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/gossip"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/metrics"
	"github.com/tangleproto/tanglenode/pkg/packet"
	"github.com/tangleproto/tanglenode/pkg/peer"
	"github.com/tangleproto/tanglenode/pkg/requester"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

func messageIDCaller(handler interface{}, params ...interface{}) {
	handler.(func(message.MessageID))(params[0].(message.MessageID))
}

func milestonePayloadCaller(handler interface{}, params ...interface{}) {
	handler.(func(message.MessageID, *message.Milestone))(params[0].(message.MessageID), params[1].(*message.Milestone))
}

// Events fired by the processor as it inserts new messages.
type Events struct {
	// MessageInserted fires for every newly-inserted vertex (spec.md §4.3
	// step 7, notify-propagator).
	MessageInserted *events.Event
	// MilestoneCandidate fires when an inserted message carries a
	// Milestone payload, for the milestone validator to pick up.
	MilestoneCandidate *events.Event
}

// Input is one unit of processor work: raw bytes received from a peer,
// plus a PoW score precomputed by the receiver (spec.md §4.3: "Input queue
// items carry (source-peer-id, raw-bytes, precomputed-pow-score)").
type Input struct {
	PeerID   string
	Raw      []byte
	PowScore float64
}

// Processor is the worker-pool-backed message pipeline.
type Processor struct {
	Events Events

	tg      *tangle.Tangle
	table   *gossip.Table
	cfg     config.Config
	metrics *metrics.Server
	msgReq  *requester.Requester[message.MessageID]

	wp     *workerpool.WorkerPool
	logger *log.Logger
}

// New builds a Processor. msgReq is the shared outstanding-message-request
// tracker, consulted in step 5/7 of spec.md §4.3.
func New(tg *tangle.Tangle, table *gossip.Table, cfg config.Config, m *metrics.Server, msgReq *requester.Requester[message.MessageID], workerCount int) *Processor {
	proc := &Processor{
		Events: Events{
			MessageInserted:    events.NewEvent(messageIDCaller),
			MilestoneCandidate: events.NewEvent(milestonePayloadCaller),
		},
		tg:      tg,
		table:   table,
		cfg:     cfg,
		metrics: m,
		msgReq:  msgReq,
		logger:  log.New("processor"),
	}
	proc.wp = workerpool.New(func(task workerpool.Task) {
		proc.process(task.Param(0).(Input))
		task.Return(nil)
	}, workerpool.WorkerCount(workerCount), workerpool.QueueSize(10000))
	return proc
}

// Run starts the worker pool and blocks until shutdownSignal fires, then
// drains and stops (spec.md §5 shutdown ordering).
func (p *Processor) Run(shutdownSignal <-chan struct{}) {
	p.wp.Start()
	<-shutdownSignal
	p.wp.StopAndWait()
}

// Submit enqueues in for processing.
func (p *Processor) Submit(in Input) {
	p.wp.Submit(in)
}

// process implements spec.md §4.3 steps 1-7.
func (p *Processor) process(in Input) {
	msg, err := message.Decode(in.Raw)
	if err != nil {
		p.logger.Debugw("dropping undecodable message", "peer_id", in.PeerID, "err", err)
		p.metrics.InvalidMessages.Inc()
		return
	}

	if msg.NetworkID != p.cfg.MessageNetworkID {
		p.metrics.InvalidMessages.Inc()
		return
	}

	id := message.ID(in.Raw)

	if in.PowScore < float64(p.cfg.MinimumWeightMag) {
		p.metrics.InvalidMessages.Inc()
		return
	}

	requested := p.msgReq.Contains(id)

	_, isNew := p.tg.Insert(id, msg, requested, time.Now())
	if !isNew {
		p.metrics.KnownMessages.Inc()
		if pr, ok := p.table.Get(in.PeerID); ok {
			pr.Metrics.KnownMessages.Inc()
		}
		return
	}

	p.Events.MessageInserted.Trigger(id)

	if ms, ok := msg.Payload.(*message.Milestone); ok {
		p.Events.MilestoneCandidate.Trigger(id, ms)
	}

	if requested {
		hint, _ := p.msgReq.Hint(id)
		p.msgReq.Remove(id)
		p.requestMissingParent(msg.Parent1, hint)
		p.requestMissingParent(msg.Parent2, hint)
		return
	}

	p.table.BroadcastExcept(packet.Packet{
		Type: packet.KindMessageBroadcast,
		Body: (&packet.MessageBroadcast{RawMessage: in.Raw}).Encode(),
	}, in.PeerID, p.metrics.DroppedBroadcast.Inc)
}

func (p *Processor) requestMissingParent(parentID message.MessageID, hint uint32) {
	if p.tg.Contains(parentID) {
		return
	}
	p.msgReq.Dispatch(parentID, hint, time.Now(), p.table.Ready(), func(pr *peer.Peer) error {
		return pr.Send(packet.Packet{
			Type: packet.KindMessageRequest,
			Body: (&packet.MessageRequest{MessageID: parentID}).Encode(),
		})
	})
}
