package toolhost

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"ragpipeline/internal/pipelineerr"
)

// StdioTransport runs a tool adapter as a child process and exchanges
// newline-delimited JSON-RPC 2.0 frames over its stdin/stdout. A background
// reader goroutine dispatches replies to pending requests keyed by id.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan RPCResponse
	closed  bool

	subMu sync.Mutex
	subs  map[string]chan Event // resource name -> event channel

	writeMu sync.Mutex
}

// NewStdioTransport starts command with args/env and begins reading its
// stdout in the background. The caller is responsible for calling Close.
func NewStdioTransport(ctx context.Context, command string, args []string, env []string) (*StdioTransport, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "start adapter process", err)
	}

	t := &StdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan RPCResponse),
		subs:    make(map[string]chan Event),
	}
	go t.readLoop(stdout)
	return t, nil
}

// rpcFrame is a superset envelope covering both JSON-RPC responses
// (id + result/error) and notifications (method + params, no id) so the
// reader can tell them apart on one unmarshal.
type rpcFrame struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// eventNotification is the params shape of an "mcp.event" notification: a
// subscribed resource's next event, framed the same way mcp.subscribe's
// resource argument names it.
type eventNotification struct {
	Resource string          `json:"resource"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame rpcFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			// A malformed frame from the adapter is tolerated; skip it.
			continue
		}
		if frame.ID == nil {
			if frame.Method == "mcp.event" {
				t.dispatchEvent(frame.Params)
			}
			continue
		}
		resp := RPCResponse{ID: *frame.ID, Result: frame.Result, Error: frame.Error}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- resp
			close(ch)
		}
	}
	t.failAllPending()
}

// dispatchEvent routes one mcp.event notification to its resource's
// subscription channel, if still open.
func (t *StdioTransport) dispatchEvent(params json.RawMessage) {
	var note eventNotification
	if err := json.Unmarshal(params, &note); err != nil {
		return
	}
	t.subMu.Lock()
	ch, ok := t.subs[note.Resource]
	t.subMu.Unlock()
	if !ok {
		return
	}
	ch <- Event{ID: note.ID, Type: note.Type, Data: note.Data}
}

func (t *StdioTransport) failAllPending() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int64]chan RPCResponse)
	t.closed = true
	t.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (t *StdioTransport) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, pipelineerr.New(pipelineerr.TransportClosed, "stdio transport closed")
	}
	id := atomic.AddInt64(&t.nextID, 1)
	replyCh := make(chan RPCResponse, 1)
	t.pending[id] = replyCh
	t.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, pipelineerr.Wrap(pipelineerr.SchemaInvalid, "marshal params", err)
	}
	req := RPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.SchemaInvalid, "marshal request", err)
	}

	t.writeMu.Lock()
	_, werr := t.stdin.Write(append(line, '\n'))
	t.writeMu.Unlock()
	if werr != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "write request", werr)
	}

	select {
	case resp, ok := <-replyCh:
		if !ok {
			return nil, pipelineerr.New(pipelineerr.TransportClosed, "transport closed while awaiting reply")
		}
		if resp.Error != nil {
			return nil, &pipelineerr.Error{
				Kind:         pipelineerr.RpcError,
				Message:      resp.Error.Message,
				Code:         resp.Error.Code,
				RetryableRPC: retryableRPCCode(resp.Error.Code),
			}
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		if ctx.Err() == context.Canceled {
			return nil, pipelineerr.New(pipelineerr.Cancelled, "invoke cancelled")
		}
		return nil, pipelineerr.New(pipelineerr.Timeout, fmt.Sprintf("invoke %s timed out", method))
	}
}

func (t *StdioTransport) Subscribe(ctx context.Context, resource string, params any, lastEventID string) (<-chan Event, error) {
	p := map[string]any{"resource": resource, "params": params}
	if lastEventID != "" {
		p["last_event_id"] = lastEventID
	}
	if _, err := t.Invoke(ctx, "mcp.subscribe", p); err != nil {
		return nil, err
	}
	ch := make(chan Event, 16)
	t.subMu.Lock()
	t.subs[resource] = ch
	t.subMu.Unlock()

	go func() {
		<-ctx.Done()
		t.subMu.Lock()
		if cur, ok := t.subs[resource]; ok && cur == ch {
			delete(t.subs, resource)
		}
		t.subMu.Unlock()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultInvokeTimeout)
		defer cancel()
		_, _ = t.Invoke(shutdownCtx, "mcp.unsubscribe", map[string]any{"resource": resource})
	}()
	return ch, nil
}

func (t *StdioTransport) Close(ctx context.Context) error {
	_, _ = t.Invoke(ctx, "mcp.shutdown", nil)
	t.failAllPending()
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	return nil
}
