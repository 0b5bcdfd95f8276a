// Package queue holds the pending tile requests shared by the cache owner
// and the worker pool.
package queue

import (
	"container/heap"
	"sync"

	"tileview/internal/tile"
)

// RequestQueue is a thread-safe priority set of pending tile requests.
//
// Requests are identified by their full tile key; generation and priority
// are only used to order them. A counter guarded by the same mutex as the
// set wakes idle workers.
type RequestQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	items   requestHeap
	byKey   map[tile.Key]*item
	closed  bool
}

type item struct {
	req   tile.Request
	index int
}

func New() *RequestQueue {
	q := &RequestQueue{byKey: make(map[tile.Key]*item)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds a request and wakes one waiting worker. Pushing a request whose
// key is already pending is a no-op; Push reports whether it was added.
func (q *RequestQueue) Push(req tile.Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	key := req.Key()
	if _, ok := q.byKey[key]; ok {
		return false
	}
	it := &item{req: req}
	heap.Push(&q.items, it)
	q.byKey[key] = it
	q.pending++
	q.cond.Signal()
	return true
}

// Pull blocks until a request is available and returns the most urgent one
// (lowest generation, then lowest priority). It returns false once the
// queue is closed.
func (q *RequestQueue) Pull() (tile.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pending < 1 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return tile.Request{}, false
	}
	q.pending--
	it := heap.Pop(&q.items).(*item)
	delete(q.byKey, it.req.Key())
	return it.req, true
}

// TryPull is the non-blocking variant of Pull.
func (q *RequestQueue) TryPull() (tile.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending < 1 || q.closed {
		return tile.Request{}, false
	}
	q.pending--
	it := heap.Pop(&q.items).(*item)
	delete(q.byKey, it.req.Key())
	return it.req, true
}

// Remove drops a pending request, if any.
func (q *RequestQueue) Remove(key tile.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byKey, key)
	q.pending--
	return true
}

// Len returns the number of pending requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close wakes every blocked Pull and makes further Pushes no-ops.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

type requestHeap []*item

func (h requestHeap) Len() int           { return len(h) }
func (h requestHeap) Less(i, j int) bool { return h[i].req.Before(h[j].req) }

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
