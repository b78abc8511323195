package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue used by tests and single-process
// deployments, grounded on the reference InMemoryQueueClient: topics are
// dict-of-lists with registered consumer callbacks invoked synchronously
// on Produce.
type MemoryQueue struct {
	mu        sync.Mutex
	messages  map[string][]Message
	consumers map[string][]ConsumerFunc
}

// NewMemoryQueue constructs an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		messages:  make(map[string][]Message),
		consumers: make(map[string][]ConsumerFunc),
	}
}

func (q *MemoryQueue) Produce(ctx context.Context, topic, key string, value []byte) error {
	msg := Message{Topic: topic, Key: key, Value: value}

	q.mu.Lock()
	q.messages[topic] = append(q.messages[topic], msg)
	fns := append([]ConsumerFunc(nil), q.consumers[topic]...)
	q.mu.Unlock()

	for _, fn := range fns {
		// Best-effort dispatch; a consumer error does not block production,
		// matching at-least-once delivery semantics (no retry here).
		_ = fn(ctx, msg)
	}
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context, topic string, fn ConsumerFunc) error {
	q.mu.Lock()
	q.consumers[topic] = append(q.consumers[topic], fn)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Close(ctx context.Context) error { return nil }

// Messages returns a snapshot of everything produced to topic, for test
// assertions.
func (q *MemoryQueue) Messages(topic string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.messages[topic]))
	copy(out, q.messages[topic])
	return out
}

var _ Queue = (*MemoryQueue)(nil)
