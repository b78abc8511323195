package queue

import (
	"context"
	"strings"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	"ragpipeline/internal/observability"
	"ragpipeline/internal/pipelineerr"
)

// KafkaQueue backs Queue with segmentio/kafka-go, mapping each logical
// topic (ingestion, ingestion_dlq) onto a real Kafka topic of the same
// name, matching the teacher's kafka-go writer/reader idiom.
type KafkaQueue struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
	wg      sync.WaitGroup
}

// NewKafkaQueue builds a queue against a comma-separated broker list.
func NewKafkaQueue(brokerList string) *KafkaQueue {
	brokers := splitBrokers(brokerList)
	return &KafkaQueue{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func splitBrokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (q *KafkaQueue) writerFor(topic string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w, ok := q.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(q.brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	q.writers[topic] = w
	return w
}

func (q *KafkaQueue) Produce(ctx context.Context, topic, key string, value []byte) error {
	w := q.writerFor(topic)
	err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.DependencyUnavailable, "kafka produce", err)
	}
	return nil
}

// Consume starts a background reader goroutine for topic that dispatches
// each message to fn on its own goroutine, mirroring the teacher's
// worker-pool-over-kafka.Reader pattern. fn is expected to bound its own
// concurrency (internal/pipeline does, via a semaphore sized from
// ingestion.max_concurrent) since the reader loop itself does not wait for
// fn to return before reading the next message — serializing here would
// make that bound dead weight.
func (q *KafkaQueue) Consume(ctx context.Context, topic string, fn ConsumerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: q.brokers,
		Topic:   topic,
		GroupID: "ragpipeline-" + topic,
	})

	q.mu.Lock()
	q.readers = append(q.readers, reader)
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		logger := observability.LoggerWithTrace(ctx)
		var handlers sync.WaitGroup
		defer handlers.Wait()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Str("topic", topic).Msg("kafka read error")
				continue
			}
			msg := Message{Topic: topic, Key: string(m.Key), Value: m.Value}
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				if err := fn(ctx, msg); err != nil {
					logger.Warn().Err(err).Str("topic", topic).Str("key", msg.Key).Msg("consumer handler error")
				}
			}()
		}
	}()
	return nil
}

func (q *KafkaQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	readers := q.readers
	writers := q.writers
	q.mu.Unlock()

	for _, r := range readers {
		_ = r.Close()
	}
	for _, w := range writers {
		_ = w.Close()
	}
	q.wg.Wait()
	return nil
}

var _ Queue = (*KafkaQueue)(nil)
