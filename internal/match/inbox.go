package match

import "flappysync/internal/protocol"

// Inbox is a bounded queue between transport goroutines and the tick. Pushing never
// blocks; a full inbox drops the newest message.
type Inbox struct {
	queue chan protocol.Message
}

// NewInbox allocates an inbox holding at most size messages.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 256
	}
	return &Inbox{queue: make(chan protocol.Message, size)}
}

// Push enqueues msg, reporting false when the inbox is full.
func (in *Inbox) Push(msg protocol.Message) bool {
	select {
	case in.queue <- msg:
		return true
	default:
		return false
	}
}

// Drain hands every queued message to fn in arrival order. Messages pushed while draining
// wait for the next call.
func (in *Inbox) Drain(fn func(protocol.Message)) int {
	pending := len(in.queue)
	for i := 0; i < pending; i++ {
		fn(<-in.queue)
	}
	return pending
}

// Len reports the number of queued messages.
func (in *Inbox) Len() int { return len(in.queue) }
