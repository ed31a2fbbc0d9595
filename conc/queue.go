package conc

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/refinio/one-core/onerr"
)

// PriorityQueue is a blocking, stable priority queue: FIFO among equal
// priorities, Remove blocks until an item is available or a timeout
// elapses, and CancelPendingPromises rejects every blocked waiter at once
// (spec §4.F "blocking (priority) queue").
//
// Grounded on scm/scheduler.go's container/heap-based taskHeap plus its
// wakeCh signaling idiom, generalized from "time-ordered task" to
// "priority-ordered item with an explicit tie-break sequence number".
type PriorityQueue[T any] struct {
	mu                 sync.Mutex
	items              itemHeap[T]
	seq                uint64
	waiters            []chan struct{}
	maxQueueLength     int
	maxPendingPromises int
	cancelled          chan struct{}
}

type queued[T any] struct {
	value    T
	priority int
	seq      uint64
}

type itemHeap[T any] []queued[T]

func (h itemHeap[T]) Len() int { return len(h) }
func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO among equal priorities
}
func (h itemHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap[T]) Push(x any)   { *h = append(*h, x.(queued[T])) }
func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewPriorityQueue creates a queue; maxQueueLength and maxPendingPromises of
// 0 mean unbounded.
func NewPriorityQueue[T any](maxQueueLength, maxPendingPromises int) *PriorityQueue[T] {
	return &PriorityQueue[T]{
		maxQueueLength:     maxQueueLength,
		maxPendingPromises: maxPendingPromises,
		cancelled:          make(chan struct{}),
	}
}

// Push enqueues value at priority (higher runs first). It fails with an
// onerr.E carrying CodeQueueFull when maxQueueLength would be exceeded.
func (q *PriorityQueue[T]) Push(value T, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxQueueLength > 0 && len(q.items) >= q.maxQueueLength {
		return onerr.New(onerr.CodeQueueFull, "priority queue: maxQueueLength exceeded")
	}
	q.seq++
	heap.Push(&q.items, queued[T]{value: value, priority: priority, seq: q.seq})
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(w)
	}
	return nil
}

// Remove blocks until an item is available, ctx is cancelled, timeout
// elapses, or CancelPendingPromises is called. timeout <= 0 means wait
// forever.
func (q *PriorityQueue[T]) Remove(ctx context.Context, timeout time.Duration) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(queued[T])
			q.mu.Unlock()
			return item.value, nil
		}
		if q.maxPendingPromises > 0 && len(q.waiters) >= q.maxPendingPromises {
			q.mu.Unlock()
			var zero T
			return zero, onerr.New(onerr.CodePendingPromisesMax, "priority queue: maxPendingPromises exceeded")
		}
		w := make(chan struct{})
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		if timeout > 0 {
			timer := time.NewTimer(timeout)
			select {
			case <-w:
				timer.Stop()
				continue
			case <-q.cancelled:
				timer.Stop()
				var zero T
				return zero, onerr.New(onerr.CodeTimeout, "priority queue: cancelled")
			case <-ctx.Done():
				timer.Stop()
				var zero T
				return zero, ctx.Err()
			case <-timer.C:
				var zero T
				return zero, onerr.New(onerr.CodeTimeout, "priority queue: remove timed out")
			}
		} else {
			select {
			case <-w:
				continue
			case <-q.cancelled:
				var zero T
				return zero, onerr.New(onerr.CodeTimeout, "priority queue: cancelled")
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}
	}
}

// CancelPendingPromises wakes every blocked Remove call with an error. The
// queue is unusable afterwards (mirrors the one-shot JS cancellation
// semantics this is grounded on).
func (q *PriorityQueue[T]) CancelPendingPromises() {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.cancelled:
		return // already cancelled
	default:
		close(q.cancelled)
	}
}

// Len reports the number of items currently queued.
func (q *PriorityQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
