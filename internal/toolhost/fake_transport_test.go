package toolhost

import (
	"context"
	"encoding/json"
)

// fakeTransport is an in-process Transport stub for host/permission tests.
type fakeTransport struct {
	tools     []ToolDescriptor
	resources []ResourceDescriptor
	prompts   []PromptDescriptor

	invokeResult json.RawMessage
	invokeErr    error
	invoked      []string

	events chan Event
}

func (f *fakeTransport) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.invoked = append(f.invoked, method)
	switch method {
	case "mcp.list_tools":
		return marshalOrPanic(f.tools), nil
	case "mcp.list_resources":
		return marshalOrPanic(f.resources), nil
	case "mcp.list_prompts":
		return marshalOrPanic(f.prompts), nil
	case "mcp.ping":
		return marshalOrPanic(map[string]any{"ok": true}), nil
	case "mcp.shutdown":
		return nil, nil
	default:
		return f.invokeResult, f.invokeErr
	}
}

func (f *fakeTransport) Subscribe(ctx context.Context, resource string, params any, lastEventID string) (<-chan Event, error) {
	return f.events, nil
}

func (f *fakeTransport) Close(ctx context.Context) error { return nil }

func marshalOrPanic(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
