package toolhost

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"ragpipeline/internal/pipelineerr"
)

// headerRoundTripper injects static headers (bearer tokens, proxy auth,
// protocol version markers) on every outbound request, mirroring how the
// teacher's mcpclient package authenticates HTTP-based adapters.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	base := h.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// HTTPSSETransport reaches a tool adapter over HTTP: POST /rpc for
// synchronous invocation, POST /subscribe consuming a text/event-stream
// response for subscriptions.
type HTTPSSETransport struct {
	baseURL string
	client  *http.Client
	nextID  int64
	closed  atomic.Bool
}

// NewHTTPSSETransport builds a transport against baseURL, injecting
// authHeaders (e.g. Authorization: Bearer ...) on every request.
func NewHTTPSSETransport(baseURL string, authHeaders map[string]string) *HTTPSSETransport {
	headers := map[string]string{
		"Accept":              "application/json",
		"Origin":              baseURL,
		"MCP-Protocol-Version": "2025-03-26",
	}
	for k, v := range authHeaders {
		headers[k] = v
	}
	return &HTTPSSETransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: &headerRoundTripper{headers: headers},
		},
	}
}

func (t *HTTPSSETransport) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, pipelineerr.New(pipelineerr.TransportClosed, "http transport closed")
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.SchemaInvalid, "marshal params", err)
	}
	id := atomic.AddInt64(&t.nextID, 1)
	req := RPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.SchemaInvalid, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pipelineerr.New(pipelineerr.Timeout, fmt.Sprintf("invoke %s timed out", method))
		}
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "http invoke", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, pipelineerr.New(pipelineerr.RpcError, fmt.Sprintf("adapter returned HTTP %d", resp.StatusCode))
	}

	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.RpcError, "decode response", err)
	}
	if rpcResp.Error != nil {
		return nil, &pipelineerr.Error{
			Kind:         pipelineerr.RpcError,
			Message:      rpcResp.Error.Message,
			Code:         rpcResp.Error.Code,
			RetryableRPC: retryableRPCCode(rpcResp.Error.Code),
		}
	}
	return rpcResp.Result, nil
}

func (t *HTTPSSETransport) Subscribe(ctx context.Context, resource string, params any, lastEventID string) (<-chan Event, error) {
	if t.closed.Load() {
		return nil, pipelineerr.New(pipelineerr.TransportClosed, "http transport closed")
	}
	body, err := json.Marshal(map[string]any{"resource": resource, "params": params})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.SchemaInvalid, "marshal subscribe params", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/subscribe", bytes.NewReader(body))
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "build subscribe request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		httpReq.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.TransportClosed, "http subscribe", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, pipelineerr.New(pipelineerr.RpcError, fmt.Sprintf("adapter returned HTTP %d", resp.StatusCode))
	}

	ch := make(chan Event, 16)
	go func() {
		defer resp.Body.Close()
		parseSSE(resp.Body, ch)
	}()
	return ch, nil
}

// parseSSE reads an event stream, grouping lines into events delimited by
// blank lines, tracking id:/data:/event: prefixes per the W3C SSE framing
// the spec requires of HTTP+SSE adapters.
func parseSSE(body io.Reader, ch chan<- Event) {
	defer close(ch)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var id, evType string
	var data bytes.Buffer

	flush := func() {
		if data.Len() == 0 && id == "" && evType == "" {
			return
		}
		ch <- Event{ID: id, Type: evType, Data: bytes.TrimRight(data.Bytes(), "\n")}
		id, evType = "", ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			evType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteByte('\n')
		}
	}
	flush()
}

func (t *HTTPSSETransport) Close(ctx context.Context) error {
	_, _ = t.Invoke(ctx, "mcp.shutdown", nil)
	t.closed.Store(true)
	return nil
}

var _ Transport = (*StdioTransport)(nil)
var _ Transport = (*HTTPSSETransport)(nil)
