package command

import "sync/atomic"

// DefaultQueueSize bounds the inbound messages kept between loop iterations.
const DefaultQueueSize = 32

// Message is an inbound pub/sub message.
type Message struct {
	Topic   string
	Payload []byte
}

// Queue hands messages from the client goroutine to the loop.
type Queue struct {
	ch      chan Message
	dropped atomic.Int64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, size)}
}

// Push never blocks; it reports false when the queue is full and the
// message was dropped.
func (q *Queue) Push(m Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain calls fn for every queued message and returns the count.
func (q *Queue) Drain(fn func(Message)) int {
	n := 0
	for {
		select {
		case m := <-q.ch:
			fn(m)
			n++
		default:
			return n
		}
	}
}

func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
