// Package queue holds pending runs in a FIFO-by-created_at priority queue
// for the dispatcher, grounded on the teacher's container/heap task queue
// but without a user-facing priority field: §4.6 disclaims priority
// classes entirely ("no priority class is guaranteed"), so the heap orders
// purely by CreatedAt and the machinery exists for O(log n)
// enqueue/dequeue/remove rather than for priority semantics.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/orbweave/coordinator/internal/model"
)

// ErrRunExists is returned when a run is already queued.
var ErrRunExists = errors.New("run already queued")

// QueuedRun is one pending run waiting for an eligible runner. Tag
// matching is carried entirely by Demands.Tags — §4.6 has no separate
// per-run tag set outside of demands.
type QueuedRun struct {
	RunID     string
	AgentName string
	Demands   *model.Demands
	CreatedAt time.Time
	index     int
}

type runHeap []*QueuedRun

func (h runHeap) Len() int { return len(h) }

// Less orders strictly by CreatedAt — FIFO within the whole queue, since
// matching against a specific runner's capabilities happens at dequeue
// scan time, not by pre-partitioning the heap.
func (h runHeap) Less(i, j int) bool { return h[i].CreatedAt.Before(h[j].CreatedAt) }

func (h runHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *runHeap) Push(x interface{}) {
	n := len(*h)
	item := x.(*QueuedRun)
	item.index = n
	*h = append(*h, item)
}

func (h *runHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// RunQueue is the in-memory pending-run queue. Source of truth for
// pendingness remains the store (status="pending"); this structure exists
// so the dispatcher doesn't rescan the whole table on every poll.
type RunQueue struct {
	mu     sync.RWMutex
	heap   runHeap
	runMap map[string]*QueuedRun
}

// NewRunQueue creates an empty queue.
func NewRunQueue() *RunQueue {
	q := &RunQueue{
		heap:   make(runHeap, 0),
		runMap: make(map[string]*QueuedRun),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a pending run.
func (q *RunQueue) Enqueue(r *QueuedRun) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.runMap[r.RunID]; exists {
		return ErrRunExists
	}
	heap.Push(&q.heap, r)
	q.runMap[r.RunID] = r
	return nil
}

// Remove drops a run from the queue (claimed, cancelled, or timed out).
func (q *RunQueue) Remove(runID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, exists := q.runMap[runID]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, r.index)
	delete(q.runMap, runID)
	return true
}

// Contains reports whether runID is currently queued.
func (q *RunQueue) Contains(runID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, exists := q.runMap[runID]
	return exists
}

// Len returns the number of pending runs queued.
func (q *RunQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}

// List returns every queued run, oldest first, without removing any.
func (q *RunQueue) List() []*QueuedRun {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*QueuedRun, len(q.heap))
	copy(result, q.heap)
	sortByCreatedAt(result)
	return result
}

func sortByCreatedAt(runs []*QueuedRun) {
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j].CreatedAt.Before(runs[j-1].CreatedAt); j-- {
			runs[j], runs[j-1] = runs[j-1], runs[j]
		}
	}
}
