// Package memory provides the in-process priority queue.
package memory

import (
	"container/heap"
	"sync"

	"github.com/JakeFAU/icrawler/internal/metrics"
	"github.com/JakeFAU/icrawler/internal/queue"
)

type entry struct {
	item queue.Item
	seq  uint64
}

type entries []entry

func (e entries) Len() int { return len(e) }

func (e entries) Less(i, j int) bool {
	if e[i].item.Priority != e[j].item.Priority {
		return e[i].item.Priority < e[j].item.Priority
	}
	return e[i].seq < e[j].seq
}

func (e entries) Swap(i, j int) { e[i], e[j] = e[j], e[i] }

func (e *entries) Push(x any) { *e = append(*e, x.(entry)) }

func (e *entries) Pop() any {
	old := *e
	n := len(old)
	last := old[n-1]
	old[n-1] = entry{}
	*e = old[:n-1]
	return last
}

// PriorityQueue is a mutex-guarded binary heap. Equal priorities dequeue in
// insertion order.
type PriorityQueue struct {
	name string
	mu   sync.Mutex
	heap entries
	seq  uint64
}

// NewPriorityQueue returns an empty queue. The name labels its depth gauge.
func NewPriorityQueue(name string) *PriorityQueue {
	return &PriorityQueue{name: name}
}

// Push inserts body with priority.
func (q *PriorityQueue) Push(priority int, body string) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, entry{item: queue.Item{Priority: priority, Body: body}, seq: q.seq})
	depth := len(q.heap)
	q.mu.Unlock()
	metrics.SetQueueDepth(q.name, depth)
}

// Pop removes the lowest-priority item.
func (q *PriorityQueue) Pop() (queue.Item, bool) {
	q.mu.Lock()
	if len(q.heap) == 0 {
		q.mu.Unlock()
		return queue.Item{}, false
	}
	e := heap.Pop(&q.heap).(entry)
	depth := len(q.heap)
	q.mu.Unlock()
	metrics.SetQueueDepth(q.name, depth)
	return e.item, true
}

// Len returns the number of queued items.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
