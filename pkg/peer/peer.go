// Package peer implements the per-peer session state machine and bounded
// outbound queues described in spec.md §4.2, grounded on the teacher's
// node/cn/peer.go broadcast loop (one goroutine multiplexing several
// per-kind bounded channels into a single writer).
package peer

import (
	"errors"
	"sync"
	"time"

	"github.com/tangleproto/tanglenode/internal/log"
	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/metrics"
	"github.com/tangleproto/tanglenode/pkg/packet"
)

// State is the peer session's position in spec.md §4.2's state machine.
type State int

const (
	AwaitingConnection State = iota
	AwaitingHandshake
	Ready
)

func (s State) String() string {
	switch s {
	case AwaitingConnection:
		return "AwaitingConnection"
	case AwaitingHandshake:
		return "AwaitingHandshake"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

// ErrBackpressure is returned by Send when a peer's outbound queue for that
// kind is full (spec.md §4.2).
var ErrBackpressure = errors.New("peer: outbound queue full")

// Origin records whether this session was dialed or accepted.
type Origin int

const (
	OriginInbound Origin = iota
	OriginOutbound
)

// Writer is the duplex byte stream a session writes framed packets to; the
// transport/NAT-traversal concerns that produce it are out of scope per
// spec.md §1.
type Writer interface {
	Write(p []byte) (int, error)
	Close() error
}

// Peer is one remote node's session: its state, its handshake-advertised
// sync window, and its bounded per-kind outbound queues.
type Peer struct {
	ID      string
	Addr    string
	Origin  Origin
	Metrics *metrics.PeerMetrics

	mu    sync.RWMutex
	state State

	// Advertised by the peer's own Handshake/Heartbeat packets.
	latestMilestone uint32
	pruningIndex    uint32
	lastKnownIndex  uint32

	lastSeen time.Time

	malformedInWindow int

	handshakeQ chan packet.Packet
	milestoneReqQ chan packet.Packet
	broadcastQ chan packet.Packet
	messageReqQ chan packet.Packet
	heartbeatQ chan packet.Packet

	writer Writer
	cfg    config.Config
	logger *log.Logger

	term chan struct{}
	once sync.Once
}

// New constructs a peer session in AwaitingConnection, grounded on the
// teacher's peer constructor sizing each queue from config-derived bounds
// instead of the teacher's hardcoded maxQueuedTxs/maxQueuedProps constants.
func New(id, addr string, origin Origin, w Writer, cfg config.Config) *Peer {
	b := cfg.OutboundQueueBounds
	return &Peer{
		ID:            id,
		Addr:          addr,
		Origin:        origin,
		Metrics:       metrics.NewPeerMetrics(),
		state:         AwaitingConnection,
		handshakeQ:    make(chan packet.Packet, max1(b.Handshake)),
		milestoneReqQ: make(chan packet.Packet, max1(b.MilestoneRequest)),
		broadcastQ:    make(chan packet.Packet, max1(b.MessageBroadcast)),
		messageReqQ:   make(chan packet.Packet, max1(b.MessageRequest)),
		heartbeatQ:    make(chan packet.Packet, max1(b.Heartbeat)),
		writer:        w,
		cfg:           cfg,
		logger:        log.New("peer").With("peer_id", id),
		term:          make(chan struct{}),
		lastSeen:      time.Now(),
	}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// State returns the session's current state.
func (p *Peer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// MarkConnected transitions AwaitingConnection → AwaitingHandshake.
func (p *Peer) MarkConnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = AwaitingHandshake
}

// HandshakeResult carries the validated fields of a successful handshake.
type HandshakeResult struct {
	LatestMilestone uint32
	PruningIndex    uint32
}

// ValidateHandshake implements the AwaitingHandshake transition of spec.md
// §4.2: {port matches expected, timestamp skew ≤5s, network-id equal, MWM
// equal, advertised protocol version supported}. The "port matches" check
// compares against the node's own configured expected port, per spec.md §9's
// resolution of the source's self-comparison bug.
func (p *Peer) ValidateHandshake(hs *packet.Handshake, now time.Time, supportedVersion byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != AwaitingHandshake {
		if p.state == Ready {
			p.Metrics.InvalidHandshakes.Inc()
			return errUnexpectedHandshake
		}
		return errHandshakeNotAwaited
	}

	skew := hs.TimestampMs - uint64(now.UnixMilli())
	if int64(skew) < 0 {
		skew = uint64(-int64(skew))
	}
	switch {
	case hs.Port != p.cfg.ExpectedPort:
		p.Metrics.InvalidHandshakes.Inc()
		return errHandshakePort
	case time.Duration(skew)*time.Millisecond > p.cfg.HandshakeSkew:
		p.Metrics.InvalidHandshakes.Inc()
		return errHandshakeSkew
	case hs.NetworkID != p.cfg.NetworkID:
		p.Metrics.InvalidHandshakes.Inc()
		return errHandshakeNetwork
	case hs.MWM != p.cfg.MinimumWeightMag:
		p.Metrics.InvalidHandshakes.Inc()
		return errHandshakeMWM
	case !versionSupported(hs.SupportedVersions, supportedVersion):
		p.Metrics.InvalidHandshakes.Inc()
		return errHandshakeVersion
	}

	p.state = Ready
	p.lastSeen = now
	return nil
}

func versionSupported(bitmap []byte, version byte) bool {
	idx := int(version) / 8
	if idx >= len(bitmap) {
		return false
	}
	return bitmap[idx]&(1<<uint(version%8)) != 0
}

// Disconnected returns the session to AwaitingConnection and closes the
// term channel (once), which stops Broadcast (closing the writer) and
// HeartbeatLoop. Packets still queued are not written, and the queue
// channels themselves are left open.
func (p *Peer) Disconnected() {
	p.mu.Lock()
	p.state = AwaitingConnection
	p.mu.Unlock()
	p.once.Do(func() { close(p.term) })
}

// Done signals when the session has been disconnected.
func (p *Peer) Done() <-chan struct{} { return p.term }

// Touch records that a packet was received from this peer, used for
// silence-timeout detection.
func (p *Peer) Touch(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = now
}

// Silent reports whether this peer has been quiet for longer than
// 3×T_hb (spec.md §4.2).
func (p *Peer) Silent(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return now.Sub(p.lastSeen) > p.cfg.PeerSilenceTimeout
}

// AdvertisedWindow returns the peer's last-known sync window, used by the
// requester's eligibility passes (spec.md §4.5).
func (p *Peer) AdvertisedWindow() (pruningIndex, latest uint32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pruningIndex, p.lastKnownIndex
}

// ApplyHeartbeat records a peer's advertised sync window from a received
// Heartbeat packet.
func (p *Peer) ApplyHeartbeat(hb *packet.Heartbeat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruningIndex = hb.PruningIndex
	p.lastKnownIndex = hb.LMI
	p.latestMilestone = hb.LSMI
}

// RefreshSyncStatus recomputes Metrics.OutOfSync by comparing this peer's
// last heartbeat-advertised LSMI against ourLSMI, the node's own latest
// solid milestone index. Called by gossip.Dispatcher after ApplyHeartbeat with the
// node's current index; kept separate from ApplyHeartbeat because a Peer has
// no view of the node's own milestone state.
func (p *Peer) RefreshSyncStatus(ourLSMI uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Metrics.OutOfSync = ourLSMI > p.latestMilestone+p.cfg.OutOfSyncDelta
}

// RecordMalformed bumps the malformed-in-window counter and reports whether
// the configured threshold has now been reached (spec.md §7: "close the peer
// session after K malformed in a window").
func (p *Peer) RecordMalformed() (thresholdReached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.malformedInWindow++
	return p.malformedInWindow >= p.cfg.MalformedThreshold
}

// ResetMalformed clears the malformed-in-window counter.
func (p *Peer) ResetMalformed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.malformedInWindow = 0
}

// Send enqueues pkt on the outbound queue matching its kind. Handshake and
// Heartbeat queues drop the oldest entry on overflow (a stale handshake or
// heartbeat is worthless); request/broadcast queues drop the new entry
// instead and report ErrBackpressure, per spec.md §4.2's "callers choose
// drop-oldest (heartbeat) or drop-new (requests)".
func (p *Peer) Send(pkt packet.Packet) error {
	switch pkt.Type {
	case packet.KindHandshake:
		return sendDropOldest(p.handshakeQ, pkt)
	case packet.KindHeartbeat:
		return sendDropOldest(p.heartbeatQ, pkt)
	case packet.KindMilestoneRequest:
		return sendDropNew(p.milestoneReqQ, pkt)
	case packet.KindMessageRequest:
		return sendDropNew(p.messageReqQ, pkt)
	case packet.KindMessageBroadcast:
		return sendDropNew(p.broadcastQ, pkt)
	default:
		return errUnknownPacketKind
	}
}

func sendDropNew(q chan packet.Packet, pkt packet.Packet) error {
	select {
	case q <- pkt:
		return nil
	default:
		return ErrBackpressure
	}
}

func sendDropOldest(q chan packet.Packet, pkt packet.Packet) error {
	select {
	case q <- pkt:
		return nil
	default:
		select {
		case <-q:
		default:
		}
		select {
		case q <- pkt:
			return nil
		default:
			return ErrBackpressure
		}
	}
}

// Broadcast is the per-peer writer loop, multiplexing every outbound queue
// into the connection, grounded on the teacher's (*peer).broadcast select
// loop over queuedTxs/queuedProps/queuedAnns.
func (p *Peer) Broadcast() {
	for {
		select {
		case <-p.term:
			p.writer.Close()
			return
		case pkt := <-p.handshakeQ:
			p.write(pkt)
		case pkt := <-p.heartbeatQ:
			p.write(pkt)
			p.Metrics.HeartbeatsSent.Inc()
		case pkt := <-p.milestoneReqQ:
			p.write(pkt)
		case pkt := <-p.messageReqQ:
			p.write(pkt)
		case pkt := <-p.broadcastQ:
			p.write(pkt)
		}
	}
}

func (p *Peer) write(pkt packet.Packet) {
	if _, err := p.writer.Write(packet.Encode(pkt)); err != nil {
		p.logger.Warnw("write failed, disconnecting", "err", err)
		p.Disconnected()
	}
}

// HeartbeatLoop sends a Heartbeat on T_hb and on every push from
// latestMilestoneChange, until the session terminates.
func (p *Peer) HeartbeatLoop(latestMilestoneChange <-chan struct{}, snapshot func() packet.Heartbeat) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.term:
			return
		case <-ticker.C:
			hb := snapshot()
			p.Send(packet.Packet{Type: packet.KindHeartbeat, Body: hb.Encode()})
		case <-latestMilestoneChange:
			hb := snapshot()
			p.Send(packet.Packet{Type: packet.KindHeartbeat, Body: hb.Encode()})
		}
	}
}
