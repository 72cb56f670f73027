package queue

import (
	"context"
	"time"
)

type Message struct {
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Dispatcher interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Consumer delivers messages to handle until ctx is done. handle may block to
// apply backpressure.
type Consumer interface {
	Consume(ctx context.Context, handle func(context.Context, Message)) error
}

type Memory struct {
	ch chan Message
}

func NewMemory(size int) *Memory {
	if size < 1 {
		size = 64
	}
	return &Memory{ch: make(chan Message, size)}
}

func (q *Memory) Enqueue(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Memory) Consume(ctx context.Context, handle func(context.Context, Message)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.ch:
			handle(ctx, msg)
		}
	}
}

func (q *Memory) Len() int { return len(q.ch) }
