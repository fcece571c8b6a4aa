// Package propagator recomputes solidity and OTRSI/YTRSI on message
// insertion and cascades the solid-transition to children, implementing
// spec.md §4.4. It is grounded on the Hornet solidifier fragment's
// SolidQueueCheck/solidifyMilestone cascade
// (_examples/other_examples/...hornet__plugins-tangle-solidifier.go.go),
// generalized from "walk one milestone's cone" to "cascade one message's
// solid-transition to its children", and fires events through
// hive.go/events the same way that fragment's Events.SolidMilestoneChanged
// does.
package propagator

import (
	"github.com/iotaledger/hive.go/events"

	"github.com/tangleproto/tanglenode/internal/log"
	"github.com/tangleproto/tanglenode/pkg/message"
	"github.com/tangleproto/tanglenode/pkg/tangle"
)

func messageIDCaller(handler interface{}, params ...interface{}) {
	handler.(func(message.MessageID))(params[0].(message.MessageID))
}

// Events are fired by the propagator as vertices solidify.
type Events struct {
	// MessageSolidified fires for every vertex transitioning to solid.
	MessageSolidified *events.Event
	// LatestSolidMilestoneChanged fires on the first solidification of a
	// milestone-flagged vertex.
	LatestSolidMilestoneChanged *events.Event
}

// Propagator recomputes solidity/OTRSI/YTRSI and cascades the transition
// to children (spec.md §4.4).
type Propagator struct {
	Events Events

	tg     *tangle.Tangle
	logger *log.Logger
}

// New builds a Propagator over tg.
func New(tg *tangle.Tangle) *Propagator {
	return &Propagator{
		Events: Events{
			MessageSolidified:           events.NewEvent(messageIDCaller),
			LatestSolidMilestoneChanged: events.NewEvent(messageIDCaller),
		},
		tg:     tg,
		logger: log.New("propagator"),
	}
}

// Propagate evaluates id for a solid transition and, if it occurs, cascades
// to every child whose other parent was already solid (spec.md §4.4: "the
// propagator enqueues every child whose other parent was already solid").
func (p *Propagator) Propagate(id message.MessageID) {
	queue := []message.MessageID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		p.evaluate(cur, &queue)
	}
}

func (p *Propagator) evaluate(id message.MessageID, queue *[]message.MessageID) {
	v, ok := p.tg.Vertex(id)
	if !ok {
		return
	}
	if v.Metadata.IsSolid() {
		return
	}

	resolved, _, _ := p.tg.ParentsResolved(v)
	if !resolved {
		return
	}

	otrsi1, ytrsi1, ok1 := p.tg.ParentIndices(v.Message.Parent1)
	otrsi2, ytrsi2, ok2 := p.tg.ParentIndices(v.Message.Parent2)
	if !ok1 || !ok2 {
		return
	}

	otrsi := min32(otrsi1, otrsi2)
	ytrsi := max32(ytrsi1, ytrsi2)

	if ms, ok := v.Message.Payload.(*message.Milestone); ok && v.Metadata.IsMilestone() {
		otrsi, ytrsi = ms.Index, ms.Index
	}
	v.Metadata.SetIndices(otrsi, ytrsi)

	if !v.Metadata.SetSolid() {
		return
	}

	p.logger.Debugw("vertex solidified", "id", id.String(), "otrsi", otrsi, "ytrsi", ytrsi)
	p.Events.MessageSolidified.Trigger(id)
	if v.Metadata.IsMilestone() {
		p.Events.LatestSolidMilestoneChanged.Trigger(id)
	}

	for _, child := range p.tg.Children(id) {
		*queue = append(*queue, child)
	}
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
