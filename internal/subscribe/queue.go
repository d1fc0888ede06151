package subscribe

import (
	"sync"
	"time"

	"github.com/tablewave/tablewave/internal/metrics"
)

// Message is a raw received pub/sub message plus its arrival time.
type Message struct {
	Channel     string
	Payload     []byte
	Received    time.Time
	Redelivered bool
}

// Queue is the bounded backpressure buffer between the subscription
// stream and the dispatcher. Pushing past capacity silently evicts the
// oldest entry: under overload the newest state wins over completeness.
type Queue struct {
	mu       sync.Mutex
	buf      []Message
	head     int
	size     int
	capacity int
	strict   bool
}

func NewQueue(capacity int, strictOrdering bool) *Queue {
	if capacity <= 0 {
		capacity = 500
	}
	return &Queue{
		buf:      make([]Message, capacity),
		capacity: capacity,
		strict:   strictOrdering,
	}
}

// Push appends a message, evicting the oldest entry when full. Returns
// true if an eviction happened.
func (q *Queue) Push(msg Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if q.size == q.capacity {
		q.head = (q.head + 1) % q.capacity
		q.size--
		dropped = true
		metrics.Dropped.Inc()
	}
	q.buf[(q.head+q.size)%q.capacity] = msg
	q.size++
	metrics.QueueDepth.Set(float64(q.size))
	return dropped
}

// Requeue puts a message being redelivered back on the queue. With
// strict ordering enabled it goes to the front so it drains before newer
// entries; otherwise it is appended like any arrival. Returns true if the
// insert evicted an entry.
func (q *Queue) Requeue(msg Message) bool {
	msg.Redelivered = true
	if !q.strict {
		return q.Push(msg)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == q.capacity {
		// Full: evict the oldest entry, same policy as Push; the
		// redelivered message takes its front slot.
		q.buf[q.head] = msg
		metrics.Dropped.Inc()
		return true
	}
	q.head = (q.head - 1 + q.capacity) % q.capacity
	q.buf[q.head] = msg
	q.size++
	metrics.QueueDepth.Set(float64(q.size))
	return false
}

// Drain removes and returns up to n messages in queue order.
func (q *Queue) Drain(n int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > q.size {
		n = q.size
	}
	if n == 0 {
		return nil
	}
	out := make([]Message, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[q.head]
		q.buf[q.head] = Message{}
		q.head = (q.head + 1) % q.capacity
	}
	q.size -= n
	metrics.QueueDepth.Set(float64(q.size))
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
