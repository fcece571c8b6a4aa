// Package app wires every worker package into one running node and drives
// the shutdown sequence of spec.md §5: accept-new-connections → processors
// → propagator → solidifier → confirmer → requesters → peer senders → peer
// receivers → transport. Grounded on the accept-loop-plus-ordered-teardown
// shape of the neo-go network server
// (_examples/other_examples/1e464a9c_AlexVanin-neo-go__pkg-network-server.go.go's
// Start/run/Shutdown: one accept goroutine registering peers into a shared
// table, one quit channel unwinding them on shutdown), generalized from its
// single "close everything together" unwind to this spec's nine explicitly
// ordered stages.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iotaledger/hive.go/events"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tangleproto/tanglenode/internal/errs"
	"github.com/tangleproto/tanglenode/internal/log"
	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/gossip"
	"github.com/tangleproto/tanglenode/pkg/kvstore"
	"github.com/tangleproto/tanglenode/pkg/ledger"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/metrics"
	"github.com/tangleproto/tanglenode/pkg/milestone"
	"github.com/tangleproto/tanglenode/pkg/packet"
	"github.com/tangleproto/tanglenode/pkg/peer"
	"github.com/tangleproto/tanglenode/pkg/processor"
	"github.com/tangleproto/tanglenode/pkg/propagator"
	"github.com/tangleproto/tanglenode/pkg/requester"
	"github.com/tangleproto/tanglenode/pkg/responder"
	"github.com/tangleproto/tanglenode/pkg/supervisor"
	"github.com/tangleproto/tanglenode/pkg/tangle"
	"github.com/tangleproto/tanglenode/pkg/tipselect"
	"github.com/tangleproto/tanglenode/pkg/whiteflag"
)

const protocolVersion byte = 0

// OpenBackend picks the configured persistent backend: badger rooted at
// cfg.DataDir, or an in-memory store when DataDir is empty (used by tests
// and the ledgerdiff subcommand against a scratch directory).
func OpenBackend(cfg config.Config) (kvstore.Backend, error) {
	if cfg.DataDir == "" {
		return kvstore.NewMemoryBackend(), nil
	}
	return kvstore.NewBadgerBackend(cfg.DataDir)
}

// App owns every worker package's instance and the channels/goroutines that
// connect them, per spec.md §2's component graph and §5's concurrency
// model.
type App struct {
	cfg     config.Config
	logger  *log.Logger
	backend kvstore.Backend

	tg         *tangle.Tangle
	ledgerDB   *ledger.Ledger
	table      *gossip.Table
	dedupe     *gossip.Dedupe
	msgReq     *requester.Requester[message.MessageID]
	msReq      *requester.Requester[uint32]
	proc       *processor.Processor
	prop       *propagator.Propagator
	validator  *milestone.Validator
	solidifier *milestone.Solidifier
	confirmer  *whiteflag.Confirmer
	tips       *tipselect.Pool
	respond    *responder.Responder
	sup        *supervisor.Supervisor
	metricsSrv *metrics.Server

	lsmi atomic.Uint32

	milestoneSignalsMu sync.Mutex
	milestoneSignals   map[string]chan struct{}

	listener net.Listener

	msgBroadcastCh chan gossip.Inbound
	msgRequestCh   chan gossip.Inbound
	msReqCh        chan gossip.Inbound

	acceptShutdown    chan struct{}
	processorShutdown chan struct{}
	requesterShutdown chan struct{}
	supervisorShutdown chan struct{}

	acceptWG     sync.WaitGroup
	processorsWG sync.WaitGroup
	requestersWG sync.WaitGroup
	sendersWG    sync.WaitGroup
	receiversWG  sync.WaitGroup
	supervisorWG sync.WaitGroup

	shutdownOnce sync.Once
}

// New constructs every component and wires the synchronous event graph of
// spec.md §4.3-§4.9 (processor → propagator/validator, propagator →
// tip-pool/confirmer, validator → solidifier, confirmer → tip-pool
// rescore), but starts nothing; call Run to bring the node up.
func New(cfg config.Config, backend kvstore.Backend, reg prometheus.Registerer) *App {
	tg := tangle.New(nil)
	ledgerDB := ledger.New(backend)
	table := gossip.NewTable()
	dedupe := gossip.NewDedupe()
	metricsSrv := metrics.NewServer(reg)

	msgReq := requester.New[message.MessageID](cfg.RequestRetryPeriod)
	msReq := requester.New[uint32](cfg.RequestRetryPeriod)

	workerCount := 4
	proc := processor.New(tg, table, cfg, metricsSrv, msgReq, workerCount)
	prop := propagator.New(tg)
	validator := milestone.New(tg, milestone.Ed25519Verifier{}, cfg)
	confirmer := whiteflag.New(tg, ledgerDB)
	tips := tipselect.New(tg, cfg.TipSelect, time.Now().UnixNano())
	respond := responder.New(tg, table, metricsSrv)

	a := &App{
		cfg:        cfg,
		logger:     log.New("app"),
		backend:    backend,
		tg:         tg,
		ledgerDB:   ledgerDB,
		table:      table,
		dedupe:     dedupe,
		msgReq:     msgReq,
		msReq:      msReq,
		proc:       proc,
		prop:       prop,
		validator:  validator,
		confirmer:  confirmer,
		tips:       tips,
		respond:    respond,
		metricsSrv: metricsSrv,
		milestoneSignals: make(map[string]chan struct{}),
	}

	sendMsg := func(p *peer.Peer, id message.MessageID) error {
		return p.Send(packet.Packet{Type: packet.KindMessageRequest, Body: (&packet.MessageRequest{MessageID: id}).Encode()})
	}
	sendMs := func(p *peer.Peer, index uint32) error {
		return p.Send(packet.Packet{Type: packet.KindMilestoneRequest, Body: (&packet.MilestoneRequest{Index: index}).Encode()})
	}
	a.solidifier = milestone.NewSolidifier(tg, msgReq, msReq, table, 1, sendMsg, sendMs)

	a.sup = supervisor.New(cfg.MalformedThreshold, a.disconnectWorker)

	a.wireEvents()
	return a
}

// wireEvents attaches the synchronous callbacks tying one component's
// output to the next one's input, the way hive.go/events is used throughout
// the teacher and pack for in-process pub/sub (no channel or goroutine of
// its own; each Trigger runs its attached closures in the caller's
// goroutine).
func (a *App) wireEvents() {
	a.proc.Events.MessageInserted.Attach(events.NewClosure(func(id message.MessageID) {
		a.prop.Propagate(id)
	}))
	a.proc.Events.MilestoneCandidate.Attach(events.NewClosure(func(id message.MessageID, ms *message.Milestone) {
		if err := a.validator.Validate(id, ms); err != nil {
			a.reportFatalOrMalformed("milestone-validator", err, errs.Malformed)
		}
	}))
	a.validator.Events.LatestMilestoneChanged.Attach(events.NewClosure(func(id message.MessageID, index uint32) {
		a.solidifier.Solidify(index)
	}))
	a.prop.Events.MessageSolidified.Attach(events.NewClosure(func(id message.MessageID) {
		a.tips.Insert(id, time.Now())
	}))
	a.prop.Events.LatestSolidMilestoneChanged.Attach(events.NewClosure(func(id message.MessageID) {
		a.confirmSolidMilestone(id)
	}))
	a.confirmer.Events.LatestSolidMilestoneChanged.Attach(events.NewClosure(func(id message.MessageID, index uint32) {
		a.lsmi.Store(index)
		a.tips.SetLSMI(index)
		a.tips.Rescore()
		a.notifyMilestoneChange()
	}))
}

// notifyMilestoneChange pushes a non-blocking signal to every connected
// peer's HeartbeatLoop, so a fresh LSMI is announced immediately instead of
// waiting for the next periodic tick (spec.md §4.2: "sends a Heartbeat on
// T_hb and on every push from latestMilestoneChange").
func (a *App) notifyMilestoneChange() {
	a.milestoneSignalsMu.Lock()
	defer a.milestoneSignalsMu.Unlock()
	for _, ch := range a.milestoneSignals {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (a *App) registerMilestoneSignal(id string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	a.milestoneSignalsMu.Lock()
	a.milestoneSignals[id] = ch
	a.milestoneSignalsMu.Unlock()
	return ch
}

func (a *App) unregisterMilestoneSignal(id string) {
	a.milestoneSignalsMu.Lock()
	delete(a.milestoneSignals, id)
	a.milestoneSignalsMu.Unlock()
}

// confirmSolidMilestone runs white-flag confirmation for the
// milestone-flagged vertex id, which the propagator has just marked solid.
// Reports go to the supervisor rather than being returned, since this
// handler runs synchronously inside the propagator's own call stack
// (spec.md §7: "no error propagates across worker boundaries by
// unwinding").
func (a *App) confirmSolidMilestone(id message.MessageID) {
	v, ok := a.tg.Vertex(id)
	if !ok {
		return
	}
	ms, ok := v.Message.Payload.(*message.Milestone)
	if !ok {
		return
	}
	if _, err := a.confirmer.Confirm(id, ms.Index, ms.InclusionMerkleProof); err != nil {
		class := errs.Fatal
		if errors.Is(err, whiteflag.ErrMerkleMismatch) {
			class = errs.Inconsistent
		}
		a.reportFatalOrMalformed("whiteflag-confirmer", err, class)
	}
}

func (a *App) reportFatalOrMalformed(worker string, err error, class errs.Class) {
	select {
	case a.sup.Reports() <- supervisor.Report{Worker: worker, Err: err, Class: class}:
	default:
		a.logger.Warnw("supervisor report queue full, dropping", "worker", worker, "err", err)
	}
}

// disconnectWorker is the supervisor's onMalformedPeer callback: worker is
// a peer id that crossed the malformed-report threshold (spec.md §7:
// "close the peer session after K malformed in a window").
func (a *App) disconnectWorker(worker string) {
	p, ok := a.table.Get(worker)
	if !ok {
		return
	}
	p.Disconnected()
	a.table.Unregister(worker)
}

// LatestSolidMilestoneIndex returns the node's current LSMI, consulted by
// the heartbeat snapshot and by every peer's out-of-sync comparison.
func (a *App) LatestSolidMilestoneIndex() uint32 { return a.lsmi.Load() }

// Run opens the listening socket, starts every worker, and blocks until ctx
// is cancelled or the supervisor requests a shutdown, then tears the node
// down in spec.md §5's order.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.ExpectedPort))
	if err != nil {
		return errs.Wrap(err, errs.Fatal)
	}
	a.listener = ln

	a.msgBroadcastCh = make(chan gossip.Inbound, 1000)
	a.msgRequestCh = make(chan gossip.Inbound, 1000)
	a.msReqCh = make(chan gossip.Inbound, 1000)

	a.acceptShutdown = make(chan struct{})
	a.processorShutdown = make(chan struct{})
	a.requesterShutdown = make(chan struct{})
	a.supervisorShutdown = make(chan struct{})

	a.supervisorWG.Add(1)
	go func() { defer a.supervisorWG.Done(); a.sup.Run(a.supervisorShutdown) }()

	a.processorsWG.Add(4)
	go func() { defer a.processorsWG.Done(); a.proc.Run(a.processorShutdown) }()
	go a.runMessageBroadcastWorker()
	go a.runMessageRequestWorker()
	go a.runMilestoneRequestWorker()

	a.requestersWG.Add(2)
	go func() {
		defer a.requestersWG.Done()
		a.msgReq.RunRetryLoop(a.requesterShutdown, a.redispatchMessage)
	}()
	go func() {
		defer a.requestersWG.Done()
		a.msReq.RunRetryLoop(a.requesterShutdown, a.redispatchMilestone)
	}()

	a.acceptWG.Add(1)
	go a.acceptLoop()

	a.logger.Infow("node started", "port", a.cfg.ExpectedPort)

	select {
	case <-ctx.Done():
	case <-a.sup.ShutdownRequested():
	}
	a.Shutdown()
	return nil
}

func (a *App) redispatchMessage(id message.MessageID) {
	hint, _ := a.msgReq.Hint(id)
	a.msgReq.ForceDispatch(id, hint, time.Now(), a.table.Ready(), func(p *peer.Peer) error {
		return p.Send(packet.Packet{Type: packet.KindMessageRequest, Body: (&packet.MessageRequest{MessageID: id}).Encode()})
	})
}

func (a *App) redispatchMilestone(index uint32) {
	a.msReq.ForceDispatch(index, index, time.Now(), a.table.Ready(), func(p *peer.Peer) error {
		return p.Send(packet.Packet{Type: packet.KindMilestoneRequest, Body: (&packet.MilestoneRequest{Index: index}).Encode()})
	})
}

// placeholderPowScore stands in for the proof-of-work scoring function
// spec.md §4.3 feeds from the receiver: PoW mining/verification schemes are
// explicitly out of scope (spec.md §1, "no proof-of-work mining"), so every
// accepted broadcast is scored exactly at the configured minimum, which the
// processor's `< MinimumWeightMag` check always lets through.
func (a *App) placeholderPowScore() float64 {
	return float64(a.cfg.MinimumWeightMag)
}

func (a *App) runMessageBroadcastWorker() {
	defer a.processorsWG.Done()
	for {
		select {
		case in := <-a.msgBroadcastCh:
			a.proc.Submit(processor.Input{PeerID: in.PeerID, Raw: in.Packet.Body, PowScore: a.placeholderPowScore()})
		case <-a.processorShutdown:
			a.drainBroadcasts()
			return
		}
	}
}

func (a *App) drainBroadcasts() {
	for {
		select {
		case in := <-a.msgBroadcastCh:
			a.proc.Submit(processor.Input{PeerID: in.PeerID, Raw: in.Packet.Body, PowScore: a.placeholderPowScore()})
		default:
			return
		}
	}
}

func (a *App) runMessageRequestWorker() {
	defer a.processorsWG.Done()
	for {
		select {
		case in := <-a.msgRequestCh:
			a.respond.HandleMessageRequest(in.PeerID, in.Packet)
		case <-a.processorShutdown:
			return
		}
	}
}

func (a *App) runMilestoneRequestWorker() {
	defer a.processorsWG.Done()
	for {
		select {
		case in := <-a.msReqCh:
			a.respond.HandleMilestoneRequest(in.PeerID, in.Packet, a.validator.LatestIndex)
		case <-a.processorShutdown:
			return
		}
	}
}

// acceptLoop is the sole goroutine calling Accept, grounded on the
// teacher-adjacent neo-go Server.run's accept-then-register shape. Once
// acceptShutdown fires it stops registering new sessions but keeps calling
// Accept so the blocking call can still be unblocked by listener.Close() at
// the transport stage; it exits only once Accept itself errors.
func (a *App) acceptLoop() {
	defer a.acceptWG.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return
		}
		select {
		case <-a.acceptShutdown:
			conn.Close()
			continue
		default:
		}
		a.handleConn(conn)
	}
}

func (a *App) handleConn(conn net.Conn) {
	id := conn.RemoteAddr().String()
	p := peer.New(id, id, peer.OriginInbound, conn, a.cfg)
	if err := a.table.Register(p); err != nil {
		conn.Close()
		return
	}
	p.MarkConnected()

	router := gossip.Router{
		MessageBroadcasts: a.msgBroadcastCh,
		MessageRequests:   a.msgRequestCh,
		MilestoneRequests: a.msReqCh,
	}
	dispatcher := gossip.NewDispatcher(p, conn, router, int(a.cfg.MaxBodyLength), protocolVersion).
		WithDedupe(a.dedupe).
		WithLSMISource(a.LatestSolidMilestoneIndex)

	a.sendersWG.Add(1)
	go func() {
		defer a.sendersWG.Done()
		p.Broadcast()
	}()
	milestoneChange := a.registerMilestoneSignal(p.ID)
	a.sendersWG.Add(1)
	go func() {
		defer a.sendersWG.Done()
		p.HeartbeatLoop(milestoneChange, a.heartbeatSnapshot)
	}()
	a.receiversWG.Add(1)
	go func() {
		defer a.receiversWG.Done()
		defer a.unregisterMilestoneSignal(p.ID)
		defer a.table.Unregister(p.ID)
		dispatcher.Run()
	}()

	now := time.Now()
	hs := &packet.Handshake{
		Port:              a.cfg.ExpectedPort,
		TimestampMs:       uint64(now.UnixMilli()),
		NetworkID:         a.cfg.NetworkID,
		MWM:               a.cfg.MinimumWeightMag,
		SupportedVersions: []byte{1 << protocolVersion},
	}
	p.Send(packet.Packet{Type: packet.KindHandshake, Body: hs.Encode()})
}

func (a *App) heartbeatSnapshot() packet.Heartbeat {
	return packet.Heartbeat{
		LSMI:         a.LatestSolidMilestoneIndex(),
		PruningIndex: 0,
		LMI:          a.validator.LatestIndex(),
	}
}

// Shutdown drains and stops every worker in spec.md §5's order. It is safe
// to call more than once; only the first call runs the sequence.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.logger.Infow("shutdown: accept-new-connections")
	close(a.acceptShutdown)

	a.logger.Infow("shutdown: processors")
	close(a.processorShutdown)
	a.processorsWG.Wait()

	// propagator, solidifier and confirmer run synchronously inside the
	// processor/validator call stacks that triggered them (hive.go/events
	// callbacks execute in the triggering goroutine); by the time the
	// processor worker pool above has drained, every propagate/solidify/
	// confirm call a queued task could still produce has already returned.
	a.logger.Infow("shutdown: propagator")
	a.logger.Infow("shutdown: solidifier")
	a.logger.Infow("shutdown: confirmer")

	a.logger.Infow("shutdown: requesters")
	close(a.requesterShutdown)
	a.requestersWG.Wait()

	a.logger.Infow("shutdown: peer senders")
	for _, p := range a.table.All() {
		p.Disconnected()
	}
	a.sendersWG.Wait()

	a.logger.Infow("shutdown: peer receivers")
	a.receiversWG.Wait()

	a.logger.Infow("shutdown: transport")
	a.listener.Close()
	a.acceptWG.Wait()

	close(a.supervisorShutdown)
	a.supervisorWG.Wait()
}
