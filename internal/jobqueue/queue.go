// Package jobqueue bounds how many URL Download Workers may run at
// once, admitting queued jobs in the order they arrived. Adapted from
// internal/core/queue.go's heap.Interface-backed DownloadQueue: the
// teacher's queue carries a three-level operator Priority field that
// has no counterpart in this system's Job model, so the heap here
// orders purely by a monotonic sequence number (insertion order),
// keeping the container/heap structure instead of collapsing it to a
// plain slice so the ordering remains extensible if a priority field
// is ever reintroduced.
package jobqueue

import (
	"container/heap"
	"sync"
)

// item wraps an admission request with its place in the heap.
type item struct {
	externalID string
	sequence   int64
	index      int
}

type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].sequence < h[j].sequence }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// AdmissionQueue gates how many URL Download Workers run concurrently
// against a configurable limit.
type AdmissionQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  itemHeap
	running  int
	limit    int
	sequence int64
}

// NewAdmissionQueue builds a queue capped at limit concurrent admissions.
func NewAdmissionQueue(limit int) *AdmissionQueue {
	if limit < 1 {
		limit = 1
	}
	q := &AdmissionQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.pending)
	return q
}

// SetLimit adjusts the concurrency cap and wakes any goroutine
// blocked in Acquire that might now be admissible.
func (q *AdmissionQueue) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	q.mu.Lock()
	q.limit = limit
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Acquire blocks until externalID is at the front of the queue and a
// concurrency slot is free, then admits it.
func (q *AdmissionQueue) Acquire(externalID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sequence++
	it := &item{externalID: externalID, sequence: q.sequence}
	heap.Push(&q.pending, it)

	for q.running >= q.limit || q.pending[0] != it {
		q.cond.Wait()
	}
	heap.Pop(&q.pending)
	q.running++
}

// Release frees a concurrency slot, admitting the next queued job.
func (q *AdmissionQueue) Release() {
	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len reports how many jobs are currently waiting for a slot.
func (q *AdmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}
