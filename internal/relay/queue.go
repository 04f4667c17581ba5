package relay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/user/rescuemesh/internal/model"
)

type queued struct {
	packet   model.MeshPacket
	attempts int
	added    time.Time
}

// Enqueue queues a packet for forwarding and marks its id as seen. Expired
// packets and packets already in the queue are rejected.
func (o *Orchestrator) Enqueue(packet model.MeshPacket) Outcome {
	out := Outcome{PacketID: packet.ID, HopCount: packet.HopCount()}
	if !packet.IsAlive() {
		out.Status, out.Code, out.Message = model.StatusDropped, CodeTTLExpired, "ttl expired"
		o.record(out, packet.Trace)
		return out
	}

	o.queueMu.Lock()
	for _, q := range o.queue {
		if q.packet.ID == packet.ID {
			o.queueMu.Unlock()
			out.Status, out.Code, out.Message = model.StatusDuplicate, CodeDuplicate, "already queued"
			return out
		}
	}
	o.queue = append(o.queue, &queued{packet: packet, added: o.clock.Now()})
	depth := len(o.queue)
	o.queueMu.Unlock()

	o.seen.Add(packet.ID, struct{}{})
	if o.observer != nil {
		o.observer.SetQueueDepth(depth)
	}

	out.Status, out.Code, out.Message = model.StatusQueued, CodeOK, fmt.Sprintf("queued (%d pending)", depth)
	o.record(out, packet.Trace)
	return out
}

// QueueLen returns the number of pending packets.
func (o *Orchestrator) QueueLen() int {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	return len(o.queue)
}

// Pending returns a copy of the queued packets in drain order.
func (o *Orchestrator) Pending() []model.MeshPacket {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	o.sortQueue()
	out := make([]model.MeshPacket, len(o.queue))
	for i, q := range o.queue {
		out[i] = q.packet
	}
	return out
}

// sortQueue orders by priority, then arrival. Callers hold queueMu.
func (o *Orchestrator) sortQueue() {
	sort.SliceStable(o.queue, func(i, j int) bool {
		if o.queue[i].packet.Priority != o.queue[j].packet.Priority {
			return o.queue[i].packet.Priority > o.queue[j].packet.Priority
		}
		return o.queue[i].added.Before(o.queue[j].added)
	})
}

// Drain relays queued packets one at a time. Packets without a candidate
// stay queued until MaxQueueAttempts, then are dropped; a busy result
// stops the pass.
func (o *Orchestrator) Drain(ctx context.Context) []Outcome {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	o.queueMu.Lock()
	o.sortQueue()
	batch := append([]*queued(nil), o.queue...)
	o.queueMu.Unlock()

	var outcomes []Outcome
	for _, q := range batch {
		if ctx.Err() != nil {
			break
		}

		// the node may have come online since the packet was queued
		if o.router.ShouldDeliverHere(q.packet, o.HasInternet()) {
			o.remove(q.packet.ID)
			outcomes = append(outcomes, o.deliverLocally(q.packet))
			continue
		}

		out := o.Relay(ctx, q.packet)
		outcomes = append(outcomes, out)

		switch out.Status {
		case model.StatusSuccess, model.StatusDropped:
			o.remove(q.packet.ID)
		case model.StatusQueued, model.StatusFailure:
			q.attempts++
			if q.attempts >= o.policy.MaxQueueAttempts {
				o.remove(q.packet.ID)
				drop := Outcome{
					Status:   model.StatusDropped,
					Code:     CodeQueueExhausted,
					PacketID: q.packet.ID,
					HopCount: q.packet.HopCount(),
					Message:  fmt.Sprintf("dropped after %d attempts: %s", q.attempts, out.Code),
				}
				o.log.Warn("Packet %s %s", q.packet.ID, drop.Message)
				o.record(drop, q.packet.Trace)
				outcomes = append(outcomes, drop)
			}
		case model.StatusBusy:
			return outcomes
		}
	}

	if o.observer != nil {
		o.observer.SetQueueDepth(o.QueueLen())
	}
	return outcomes
}

func (o *Orchestrator) remove(id string) {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	for i, q := range o.queue {
		if q.packet.ID == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

// HandleIncoming is the frame server handler.
func (o *Orchestrator) HandleIncoming(payload []byte, remote string) {
	packet, err := model.UnmarshalPacket(payload)
	if err != nil {
		o.log.Warn("Discarding undecodable packet from %s: %v", remote, err)
		return
	}
	o.Accept(packet)
}

// Accept takes a packet received from a neighbor or originated locally:
// duplicates are dropped, goal nodes deliver locally, everything else is
// queued.
func (o *Orchestrator) Accept(packet model.MeshPacket) Outcome {
	out := Outcome{PacketID: packet.ID, HopCount: packet.HopCount()}

	if ok, _ := o.seen.ContainsOrAdd(packet.ID, struct{}{}); ok {
		out.Status, out.Code, out.Message = model.StatusDuplicate, CodeDuplicate, "already processed"
		o.log.Debug("Dropping duplicate packet %s", packet.ID)
		o.record(out, packet.Trace)
		return out
	}

	if o.router.ShouldDeliverHere(packet, o.HasInternet()) {
		return o.deliverLocally(packet)
	}

	return o.Enqueue(packet)
}

// deliverLocally hands a packet that reached a goal node to the Deliverer.
func (o *Orchestrator) deliverLocally(packet model.MeshPacket) Outcome {
	out := Outcome{PacketID: packet.ID, HopCount: packet.HopCount()}
	out.Status, out.Code = model.StatusDelivered, CodeOK
	out.Message = fmt.Sprintf("delivered after %d hops", packet.HopCount())
	if o.deliverer != nil {
		if err := o.deliverer.Deliver(packet); err != nil {
			out.Code = CodeDeliverFailed
			out.Message = fmt.Sprintf("delivery hand-off failed: %v", err)
		}
	}
	o.mu.Lock()
	o.stats.PacketsDelivered++
	o.mu.Unlock()
	o.log.Info("Packet %s from %s %s", packet.ID, packet.OriginatorID, out.Message)
	o.record(out, packet.Trace)
	return out
}
