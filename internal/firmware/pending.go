package firmware

import (
	"errors"
	"sync"

	"github.com/voxpod/voxpod/internal/packet"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("firmware: pending queue closed")

// PendingQueue is the bounded FIFO of requests awaiting the worker. Push
// blocks the transport role while the queue is full; a normal request is
// never silently dropped. The bypass path empties it with Flush.
type PendingQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []packet.Packet
	head     int
	count    int
	closed   bool
}

// NewPendingQueue creates a queue with the given capacity.
func NewPendingQueue(capacity int) *PendingQueue {
	if capacity <= 0 {
		capacity = 32
	}
	q := &PendingQueue{items: make([]packet.Packet, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push appends p, blocking while the queue is full. Returns ErrQueueClosed
// once the queue has been closed.
func (q *PendingQueue) Push(p packet.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == len(q.items) && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.items[(q.head+q.count)%len(q.items)] = p
	q.count++
	q.notEmpty.Signal()
	return nil
}

// Pop removes the oldest packet, blocking while the queue is empty. The
// second return is false once the queue is closed and drained.
func (q *PendingQueue) Pop() (packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		return packet.Packet{}, false
	}
	p := q.items[q.head]
	q.items[q.head] = packet.Packet{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.notFull.Signal()
	return p, true
}

// Flush discards every pending request and returns how many were dropped.
func (q *PendingQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.count
	for i := range q.items {
		q.items[i] = packet.Packet{}
	}
	q.head = 0
	q.count = 0
	q.notFull.Broadcast()
	return dropped
}

// Len returns the number of pending requests.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close unblocks all waiters. Pending items can still be drained with Pop.
func (q *PendingQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
