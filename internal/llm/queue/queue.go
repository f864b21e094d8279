package queue

import (
	"sync"
)

// Queue is a thread-safe, unbounded FIFO of pending requests.
// Insertion order is processing order; there is no priority and no removal
// of queued requests.
//
// Used by: Manager (pushes), Processor (pops)
// Thread-safe: Yes (all operations lock)
type Queue struct {
	items  []*Request
	closed bool
	mutex  sync.Mutex
	cond   *sync.Cond
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

// Push appends a request to the tail. It never blocks.
func (q *Queue) Push(req *Request) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, req)
	q.cond.Signal() // Wake up the waiting processor
	return nil
}

// Pop removes and returns the head, blocking while the queue is empty.
// It returns false once the queue is closed.
func (q *Queue) Pop() (*Request, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return req, true
}

// TryPop is like Pop but returns false immediately if the queue is empty.
func (q *Queue) TryPop() (*Request, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed || len(q.items) == 0 {
		return nil, false
	}
	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return req, true
}

// Close stops the queue: pending Pops return and further Pushes fail.
// Requests still queued stay there until Drain.
func (q *Queue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Drain removes and returns every queued request.
func (q *Queue) Drain() []*Request {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}
