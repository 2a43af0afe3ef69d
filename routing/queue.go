package routing

import (
	"container/heap"
	"github.com/paulmach/osm"
)

type queueEntry struct {
	id   osm.NodeID
	cost float64
}

// openQueue is a min-heap ordered by cost and then by ID. Entries are never updated, a point that got a better cost is
// pushed again and the outdated entry gets skipped when popped.
type openQueue []queueEntry

func (q openQueue) Len() int {
	return len(q)
}

func (q openQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].id < q[j].id
}

func (q openQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *openQueue) Push(x any) {
	*q = append(*q, x.(queueEntry))
}

func (q *openQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}

func (q *openQueue) push(id osm.NodeID, cost float64) {
	heap.Push(q, queueEntry{id: id, cost: cost})
}

func (q *openQueue) pop() queueEntry {
	return heap.Pop(q).(queueEntry)
}
