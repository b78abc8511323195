// Package queue implements the keyed, at-least-once work queue described in
// §4.2: two logical topics, "ingestion" and "ingestion_dlq", with producers
// supplying (topic, key, value) where key is the document idempotency key
// tenant_id:source_id.
package queue

import "context"

const (
	TopicIngestion    = "ingestion"
	TopicIngestionDLQ = "ingestion_dlq"
)

// Message is one item delivered to a consumer.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// ConsumerFunc handles one delivered message. Returning an error does not
// retry delivery at the queue layer; retry/backoff/DLQ semantics live in
// the ingestion worker (§4.3), which produces to these topics. The
// ingestion topic is consumed by internal/pipeline's ingestion consumer.
type ConsumerFunc func(ctx context.Context, msg Message) error

// Queue is the narrow capability the ingestion worker and pipeline
// orchestrator depend on. No ordering guarantee across keys; for a single
// key, the pipeline assumes monotonic progression (§4.2).
type Queue interface {
	// Produce enqueues one message onto topic.
	Produce(ctx context.Context, topic, key string, value []byte) error

	// Consume registers fn to receive every message produced to topic from
	// this point forward. Consume is expected to be called once per topic
	// at startup; it returns once the subscription is established.
	Consume(ctx context.Context, topic string, fn ConsumerFunc) error

	// Close releases any underlying connections.
	Close(ctx context.Context) error
}
