// Package ingest implements the ingestion worker (§4.3): pull sync and
// stream sync over the tool host, with retry/backoff/jitter, failure-
// taxonomy routing, DLQ production, and checkpoint persistence. Grounded
// on the Python MCPIngestionWorker's retry loop and DLQ record shape.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"time"

	"ragpipeline/internal/checkpoint"
	"ragpipeline/internal/config"
	"ragpipeline/internal/normalize"
	"ragpipeline/internal/pipelineerr"
	"ragpipeline/internal/queue"
	"ragpipeline/internal/toolhost"
)

// ToolInvoker is the narrow tool-host capability pull sync depends on.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (json.RawMessage, error)
}

// ResourceSubscriber is the narrow tool-host capability stream sync depends
// on.
type ResourceSubscriber interface {
	SubscribeResource(ctx context.Context, tenantID, userID, resourceID string, params map[string]any, lastEventID string) (<-chan toolhost.Event, error)
}

// DLQRecord is produced when pull sync exhausts its retries (§4.3, §8
// scenario 5).
type DLQRecord struct {
	ToolID     string    `json:"tool_id"`
	TenantID   string    `json:"tenant_id"`
	Params     any       `json:"params"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Worker drives ingestion from a tool adapter through normalization into
// the ingestion queue.
type Worker struct {
	host       ToolInvoker
	subscriber ResourceSubscriber
	checkpoint checkpoint.Store
	queue      queue.Queue
	cfg        config.IngestionConfig
	now        func() time.Time
	sleep      func(time.Duration)
	rand       func() float64
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithSubscriber enables StreamSync by supplying the resource-subscription
// capability.
func WithSubscriber(s ResourceSubscriber) Option {
	return func(w *Worker) { w.subscriber = s }
}

// New constructs a Worker. now/sleep/rand default to real time/rand.Float64
// and are overridable for deterministic tests of the retry schedule.
func New(host ToolInvoker, cp checkpoint.Store, q queue.Queue, cfg config.IngestionConfig, opts ...Option) *Worker {
	w := &Worker{
		host: host, checkpoint: cp, queue: q, cfg: cfg,
		now: time.Now, sleep: time.Sleep, rand: rand.Float64,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunIngestion performs one pull-sync cycle for toolID (§4.3 run_ingestion):
// invoke with the persisted cursor, normalize and enqueue each item, persist
// the new cursor. Retries per the configured backoff on retryable failures;
// produces a DLQ record and re-raises the final error on exhaustion.
func (w *Worker) RunIngestion(ctx context.Context, tenantID, userID, toolID string, params map[string]any) error {
	cp, _, err := w.checkpoint.Load(ctx, toolID)
	if err != nil {
		return err
	}
	callParams := cloneParams(params)
	if cp.Cursor != "" {
		callParams["cursor"] = cp.Cursor
	}

	raw, err := w.invokeWithRetry(ctx, tenantID, userID, toolID, callParams)
	if err != nil {
		return err
	}

	var payload struct {
		Items  []map[string]any `json:"items"`
		Cursor string           `json:"cursor"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return pipelineerr.Wrap(pipelineerr.SchemaInvalid, "decode pull-sync result", err)
	}

	for _, item := range payload.Items {
		doc, err := normalize.Normalize(tenantID, toolID, item, normalize.Options{Clock: w.now})
		if err != nil {
			return err
		}
		value, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		key := doc.TenantID + ":" + doc.SourceID
		if err := w.queue.Produce(ctx, queue.TopicIngestion, key, value); err != nil {
			return err
		}
	}

	if payload.Cursor != "" {
		if err := w.checkpoint.Save(ctx, toolID, checkpoint.Checkpoint{Cursor: payload.Cursor, LastSync: w.now()}); err != nil {
			return err
		}
	}
	return nil
}

// invokeWithRetry applies the §4.3 retry policy: exponential backoff with
// base retry_delay, multiplier retry_backoff, multiplicative jitter
// ±retry_jitter, up to max_retries. SchemaInvalid and PermissionDenied never
// retry; an RpcError not marked retryable by the adapter never retries
// either. Everything else retries to exhaustion, then DLQs.
func (w *Worker) invokeWithRetry(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (json.RawMessage, error) {
	maxRetries := w.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := w.cfg.RetryDelay
	if baseDelay <= 0 {
		baseDelay = 1.0
	}
	backoff := w.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2.0
	}
	jitter := w.cfg.RetryJitter
	if jitter == 0 {
		jitter = 0.10
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * math.Pow(backoff, float64(attempt-1))
			j := 1 + (w.rand()*2-1)*jitter
			w.sleep(time.Duration(delay * j * float64(time.Second)))
		}

		raw, err := w.host.InvokeTool(ctx, tenantID, userID, toolID, params)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var pe *pipelineerr.Error
		if errors.As(err, &pe) {
			switch pe.Kind {
			case pipelineerr.SchemaInvalid, pipelineerr.PermissionDenied:
				return nil, err // caller error, no retry, no DLQ
			case pipelineerr.RpcError:
				if !pe.RetryableRPC {
					return nil, err // adapter marked this RPC error non-retryable
				}
			}
		}
	}

	paramsJSON, _ := json.Marshal(params)
	record := DLQRecord{
		ToolID: toolID, TenantID: tenantID, Params: json.RawMessage(paramsJSON),
		Error: lastErr.Error(), RetryCount: maxRetries, Timestamp: w.now(),
	}
	value, _ := json.Marshal(record)
	_ = w.queue.Produce(ctx, queue.TopicIngestionDLQ, tenantID+":"+toolID, value)
	return nil, lastErr
}

// StreamSync subscribes to resourceID and ingests events as they arrive
// (§4.3 start_streaming_ingestion): for each event, normalize and enqueue,
// then advance the last_event_id checkpoint. A single event's failure DLQs
// that event and continues the subscription rather than aborting it. Blocks
// until ctx is cancelled or the subscription channel closes.
func (w *Worker) StreamSync(ctx context.Context, tenantID, userID, toolID, resourceID string, params map[string]any) error {
	if w.subscriber == nil {
		return pipelineerr.New(pipelineerr.DependencyUnavailable, "stream sync requires a resource subscriber")
	}

	cp, _, err := w.checkpoint.Load(ctx, toolID)
	if err != nil {
		return err
	}

	events, err := w.subscriber.SubscribeResource(ctx, tenantID, userID, resourceID, params, cp.LastEventID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.handleStreamEvent(ctx, tenantID, toolID, ev); err != nil {
				w.dlqEvent(ctx, tenantID, toolID, ev, err)
				continue
			}
			if err := w.checkpoint.Save(ctx, toolID, checkpoint.Checkpoint{LastEventID: ev.ID, LastEvent: w.now()}); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) handleStreamEvent(ctx context.Context, tenantID, toolID string, ev toolhost.Event) error {
	var item map[string]any
	if err := json.Unmarshal(ev.Data, &item); err != nil {
		return pipelineerr.Wrap(pipelineerr.SchemaInvalid, "decode stream event", err)
	}
	doc, err := normalize.Normalize(tenantID, toolID, item, normalize.Options{Clock: w.now})
	if err != nil {
		return err
	}
	value, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return w.queue.Produce(ctx, queue.TopicIngestion, doc.TenantID+":"+doc.SourceID, value)
}

func (w *Worker) dlqEvent(ctx context.Context, tenantID, toolID string, ev toolhost.Event, cause error) {
	record := DLQRecord{
		ToolID: toolID, TenantID: tenantID, Params: ev,
		Error: cause.Error(), RetryCount: 0, Timestamp: w.now(),
	}
	value, _ := json.Marshal(record)
	_ = w.queue.Produce(ctx, queue.TopicIngestionDLQ, tenantID+":"+toolID+":"+ev.ID, value)
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	return out
}
