package mac

import (
	"context"
	"sort"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// attempt is one transmission granted this round.
type attempt struct {
	packet   *model.Packet
	sender   model.NodeID
	receiver model.NodeID
	queued   bool
}

// Step runs one arbitration round at simulated time now.
//
// The round first drops packets over the retransmission cap, then lets each
// queue head transmit while the rest of its queue waits. Holders not already
// queued offer their head-of-line packet: two or more new requesters for one
// receiver collide and form a queue; a requester for a receiver that already
// has a queue collides and joins its tail; a lone requester transmits. All
// granted transmissions are resolved against the same transmitter set before
// any packet moves.
func (e *Engine) Step(ctx context.Context, now time.Duration) RoundReport {
	e.round++
	report := RoundReport{
		Round:    e.round,
		Time:     now,
		Failures: make(map[core.OutcomeKind]int),
	}

	e.dropExhausted(now, &report)

	var granted []attempt
	queued := e.queues.queued()

	for _, r := range e.queues.receivers() {
		q := e.queues[r]
		for i, sender := range q.Senders {
			p, ok := e.head(sender)
			if !ok {
				continue
			}
			if i == 0 {
				granted = append(granted, attempt{packet: p, sender: sender, receiver: r, queued: true})
				continue
			}
			p.Record(model.Event{Round: e.round, Time: now, Kind: model.EventWaiting, Holder: sender, Peer: r})
			report.Waiting++
		}
	}

	requests := make(map[model.NodeID][]*model.Packet)
	for _, holder := range e.sortedHolders() {
		if _, ok := queued[holder]; ok {
			continue
		}
		p, _ := e.head(holder)
		next, ok := p.NextHop()
		if !ok {
			continue
		}
		requests[next] = append(requests[next], p)
	}

	receivers := make([]model.NodeID, 0, len(requests))
	for r := range requests {
		receivers = append(receivers, r)
	}
	sort.Slice(receivers, func(i, j int) bool { return receivers[i] < receivers[j] })

	for _, r := range receivers {
		ps := requests[r]
		sort.Slice(ps, func(i, j int) bool { return packetLess(ps[i].ID, ps[j].ID) })
		q, exists := e.queues[r]
		if !exists && len(ps) == 1 {
			granted = append(granted, attempt{packet: ps[0], sender: ps[0].Holder, receiver: r})
			continue
		}
		if !exists {
			q = &CollisionQueue{Receiver: r}
			e.queues[r] = q
		}
		for _, p := range ps {
			q.push(p.Holder)
			e.fail(p, r, now, model.EventCollision, "")
			report.Collisions++
		}
		e.log.Debug(ctx, "collision",
			logging.Int("round", e.round),
			logging.Int("receiver", int(r)),
			logging.Int("senders", len(ps)),
			logging.Int("queue_len", q.Len()),
		)
	}

	e.transmit(ctx, granted, now, &report)

	e.queues.prune()
	report.QueueDepth = e.queues.depth()
	report.InFlight = e.InFlight()
	if e.metrics != nil {
		e.metrics.RecordRound(report)
	}
	return report
}

// transmit resolves every granted attempt against the same transmitter set,
// then applies the results.
func (e *Engine) transmit(ctx context.Context, granted []attempt, now time.Duration, report *RoundReport) {
	if len(granted) == 0 {
		return
	}
	senders := make([]core.Endpoint, 0, len(granted))
	for _, a := range granted {
		senders = append(senders, e.endpoint(a.sender))
	}

	outcomes := make([]core.Outcome, len(granted))
	for i, a := range granted {
		outcomes[i] = e.phys.Attempt(senders[i], e.endpoint(a.receiver), senders, e.rng)
	}

	for i, a := range granted {
		out := outcomes[i]
		p := a.packet
		report.Attempts++
		e.spend(p)
		if !out.Success() {
			report.Failures[out.Kind]++
			e.fail(p, a.receiver, now, out.Kind.EventKind(), out.String())
			continue
		}

		report.Successes++
		if a.queued {
			e.queues[a.receiver].pop()
		}
		e.advance(p, a.receiver, now, out)
		if p.Status == model.PacketDelivered {
			report.Delivered = append(report.Delivered, p.ID)
			e.log.Debug(ctx, "packet delivered",
				logging.String("packet", string(p.ID)),
				logging.Int("round", e.round),
				logging.Int("retransmissions", p.Retransmissions),
			)
		}
	}
}

func (e *Engine) endpoint(id model.NodeID) core.Endpoint {
	pos, _ := e.positions.Position(id)
	return core.Endpoint{ID: id, Position: pos}
}

// spend charges one physical transmission.
func (e *Engine) spend(p *model.Packet) {
	cost := e.energy.Send
	if e.hopFailures[p.ID] > 0 {
		cost *= e.energy.RetransmissionPenalty
	}
	p.Energy += cost
}

func (e *Engine) fail(p *model.Packet, receiver model.NodeID, now time.Duration, kind model.EventKind, info string) {
	p.Retransmissions++
	e.hopFailures[p.ID]++
	p.Record(model.Event{Round: e.round, Time: now, Kind: kind, Holder: p.Holder, Peer: receiver, Info: info})
}

// advance moves the packet one hop and hands it to the receiver's FIFO.
func (e *Engine) advance(p *model.Packet, receiver model.NodeID, now time.Duration, out core.Outcome) {
	sender := p.Holder
	e.release(sender, p.ID)
	delete(e.hopFailures, p.ID)

	p.HopIndex++
	p.Holder = receiver
	p.Energy += e.energy.Receive
	p.Record(model.Event{Round: e.round, Time: now, Kind: model.EventHopSuccess, Holder: sender, Peer: receiver, Info: out.String()})

	if p.HopIndex == len(p.Route.Hops)-1 {
		p.Status = model.PacketDelivered
		p.CompletedAt = now
		p.Record(model.Event{Round: e.round, Time: now, Kind: model.EventDelivered, Holder: receiver})
		return
	}
	e.holders[receiver] = append(e.holders[receiver], p.ID)
}

// dropExhausted retires packets over the retransmission cap, wherever they
// sit in a queue.
func (e *Engine) dropExhausted(now time.Duration, report *RoundReport) {
	for _, id := range e.sortedIDs() {
		p := e.packets[id]
		if p.Status != model.PacketInFlight || p.Retransmissions <= e.maxRetx {
			continue
		}
		holder := p.Holder
		wasHead := false
		if h, ok := e.head(holder); ok && h.ID == p.ID {
			wasHead = true
		}
		e.release(holder, p.ID)
		delete(e.hopFailures, p.ID)
		if wasHead {
			// A queued sender is always queued with its head packet.
			for _, q := range e.queues {
				q.remove(holder)
			}
		}
		p.Status = model.PacketDropped
		p.CompletedAt = now
		p.Record(model.Event{Round: e.round, Time: now, Kind: model.EventDropped, Holder: holder, Info: "retransmission limit exceeded"})
		report.Dropped = append(report.Dropped, p.ID)
	}
	e.queues.prune()
}

func (e *Engine) sortedHolders() []model.NodeID {
	out := make([]model.NodeID, 0, len(e.holders))
	for h := range e.holders {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func packetLess(a, b model.PacketID) bool {
	if a.Seq() != b.Seq() {
		return a.Seq() < b.Seq()
	}
	return a < b
}
