package server

import (
	"container/heap"
	"time"

	"github.com/joeycumines/behaviord/internal/protocol"
)

// pending is a queued client request.
type pending struct {
	readyAt time.Duration
	seq     uint64
	msg     protocol.ClientMessage
}

// queue orders pending requests by ready time, then arrival.
type queue struct {
	items pendingHeap
	seq   uint64
}

func (q *queue) push(readyAt time.Duration, msg protocol.ClientMessage) {
	q.seq++
	heap.Push(&q.items, pending{readyAt: readyAt, seq: q.seq, msg: msg})
}

// pop removes the earliest entry if it is ready at now.
func (q *queue) pop(now time.Duration) (pending, bool) {
	if len(q.items) == 0 || q.items[0].readyAt > now {
		return pending{}, false
	}
	return heap.Pop(&q.items).(pending), true
}

func (q *queue) len() int { return len(q.items) }

type pendingHeap []pending

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].readyAt != h[j].readyAt {
		return h[i].readyAt < h[j].readyAt
	}
	return h[i].seq < h[j].seq
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)   { *h = append(*h, x.(pending)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = pending{}
	*h = old[:n-1]
	return x
}
