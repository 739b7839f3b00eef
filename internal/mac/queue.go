package mac

import (
	"sort"

	"github.com/signalsfoundry/uav-delivery-sim/model"
)

// CollisionQueue is the FIFO of senders contending for one receiver. Only
// the head may transmit in a round.
type CollisionQueue struct {
	Receiver model.NodeID
	Senders  []model.NodeID
}

// Head returns the sender allowed to transmit.
func (q *CollisionQueue) Head() (model.NodeID, bool) {
	if q == nil || len(q.Senders) == 0 {
		return 0, false
	}
	return q.Senders[0], true
}

// Len returns the number of queued senders.
func (q *CollisionQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.Senders)
}

func (q *CollisionQueue) push(ids ...model.NodeID) {
	q.Senders = append(q.Senders, ids...)
}

// pop removes the head.
func (q *CollisionQueue) pop() {
	if len(q.Senders) > 0 {
		q.Senders = q.Senders[1:]
	}
}

// remove drops sender wherever it sits.
func (q *CollisionQueue) remove(sender model.NodeID) bool {
	for i, s := range q.Senders {
		if s == sender {
			q.Senders = append(q.Senders[:i:i], q.Senders[i+1:]...)
			return true
		}
	}
	return false
}

func (q *CollisionQueue) clone() CollisionQueue {
	return CollisionQueue{Receiver: q.Receiver, Senders: append([]model.NodeID(nil), q.Senders...)}
}

// queueSet holds the live queues keyed by receiver.
type queueSet map[model.NodeID]*CollisionQueue

func (s queueSet) receivers() []model.NodeID {
	out := make([]model.NodeID, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// queued maps every queued sender to its receiver.
func (s queueSet) queued() map[model.NodeID]model.NodeID {
	out := make(map[model.NodeID]model.NodeID)
	for r, q := range s {
		for _, sender := range q.Senders {
			out[sender] = r
		}
	}
	return out
}

// prune deletes empty queues.
func (s queueSet) prune() {
	for r, q := range s {
		if q.Len() == 0 {
			delete(s, r)
		}
	}
}

// depth is the total number of queued senders.
func (s queueSet) depth() int {
	n := 0
	for _, q := range s {
		n += q.Len()
	}
	return n
}
