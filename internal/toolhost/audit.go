package toolhost

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragpipeline/internal/observability"
)

// AuditOutcome is the terminal state of one recorded invocation.
type AuditOutcome string

const (
	AuditStarted AuditOutcome = "started"
	AuditSuccess AuditOutcome = "success"
	AuditError   AuditOutcome = "error"
)

// AuditRecord is one append-only entry in the tool host's invocation log,
// independent of the tracing backend (§4.1 point 4, §6 persisted state).
type AuditRecord struct {
	InvocationID string          `json:"invocation_id"`
	ToolID       string          `json:"tool_id"`
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	Timestamp    time.Time       `json:"ts"`
	Outcome      AuditOutcome    `json:"outcome"`
	ResultBytes  int             `json:"result_bytes,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
}

// AuditLog is an append-only, thread-safe sink for AuditRecords. The
// in-process implementation keeps records in memory for inspection by
// tests and health endpoints; it also emits a structured log line per
// record via zerolog so operators get a durable trail regardless of
// whether anything reads the in-memory slice.
type AuditLog struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewAuditLog constructs an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append records one entry and logs it at info (success/started) or
// warn (error) level with sensitive param values redacted.
func (a *AuditLog) Append(ctx context.Context, rec AuditRecord) {
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()

	logger := observability.LoggerWithTrace(ctx)
	ev := logger.Info()
	if rec.Outcome == AuditError {
		ev = logger.Warn()
	}
	ev.
		Str("invocation_id", rec.InvocationID).
		Str("tool_id", rec.ToolID).
		Str("tenant_id", rec.TenantID).
		Str("user_id", rec.UserID).
		Str("outcome", string(rec.Outcome)).
		RawJSON("params", observability.RedactJSON(rec.Params)).
		Int("result_bytes", rec.ResultBytes).
		Str("error", rec.ErrorMessage).
		Msg("tool invocation")
}

// Records returns a snapshot of all recorded entries, oldest first.
func (a *AuditLog) Records() []AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditRecord, len(a.records))
	copy(out, a.records)
	return out
}

// newInvocationID generates a fresh UUID for one invocation.
func newInvocationID() string {
	return uuid.NewString()
}
