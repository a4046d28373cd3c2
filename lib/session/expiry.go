package session

import (
	"container/heap"
	"sync"
	"time"
)

type deadline struct {
	at time.Time
	id string
}

// deadlineHeap is a min-heap of session deadlines.
type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = deadline{}
	*h = old[:n-1]
	return item
}

// expiryIndex orders sessions by deadline. Entries for sessions that were
// already removed stay until their deadline passes and are popped then.
type expiryIndex struct {
	lock sync.Mutex
	heap deadlineHeap
}

func (e *expiryIndex) push(id string, at time.Time) {
	e.lock.Lock()
	defer e.lock.Unlock()
	heap.Push(&e.heap, deadline{at: at, id: id})
}

// due pops every entry whose deadline is not after now.
func (e *expiryIndex) due(now time.Time) []string {
	e.lock.Lock()
	defer e.lock.Unlock()

	var ids []string
	for e.heap.Len() != 0 && !e.heap[0].at.After(now) {
		ids = append(ids, heap.Pop(&e.heap).(deadline).id)
	}
	return ids
}

func (e *expiryIndex) len() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.heap.Len()
}
