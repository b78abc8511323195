package toolhost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ragpipeline/internal/config"
)

func newTestHost(t *testing.T, tenants map[string]config.TenantConfig, fake *fakeTransport) *ToolHost {
	t.Helper()
	h := New(tenants)
	require.NoError(t, h.RegisterServer(context.Background(), "srv1", fake))
	return h
}

func TestInvokeTool_SucceedsAndAudits(t *testing.T) {
	fake := &fakeTransport{
		tools:        []ToolDescriptor{{Name: "search", Schema: ToolSchema{Required: []string{"query"}}}},
		invokeResult: marshalOrPanic(map[string]any{"hits": 3}),
	}
	tenants := map[string]config.TenantConfig{
		"acme": {AllowedTools: []string{"search"}},
	}
	h := newTestHost(t, tenants, fake)

	result, err := h.InvokeTool(context.Background(), "acme", "", "search", map[string]any{"query": "widgets"})
	require.NoError(t, err)
	require.JSONEq(t, `{"hits":3}`, string(result))

	records := h.AuditLog().Records()
	require.Len(t, records, 2)
	require.Equal(t, AuditStarted, records[0].Outcome)
	require.Equal(t, AuditSuccess, records[1].Outcome)
	require.NotEmpty(t, records[0].InvocationID)
}

func TestInvokeTool_PermissionDenied(t *testing.T) {
	fake := &fakeTransport{
		tools: []ToolDescriptor{{Name: "search", Schema: ToolSchema{}}},
	}
	tenants := map[string]config.TenantConfig{
		"acme": {AllowedTools: []string{"other_tool"}},
	}
	h := newTestHost(t, tenants, fake)

	_, err := h.InvokeTool(context.Background(), "acme", "", "search", map[string]any{})
	require.Error(t, err)

	records := h.AuditLog().Records()
	require.Equal(t, AuditError, records[len(records)-1].Outcome)
}

func TestInvokeTool_PerUserAllowListNarrows(t *testing.T) {
	fake := &fakeTransport{
		tools:        []ToolDescriptor{{Name: "search", Schema: ToolSchema{}}},
		invokeResult: marshalOrPanic(map[string]any{}),
	}
	tenants := map[string]config.TenantConfig{
		"acme": {
			AllowedTools: []string{"search"},
			Users: map[string]config.UserConfig{
				"bob": {AllowedTools: []string{"other_tool"}},
			},
		},
	}
	h := newTestHost(t, tenants, fake)

	_, err := h.InvokeTool(context.Background(), "acme", "bob", "search", map[string]any{})
	require.Error(t, err)

	_, err = h.InvokeTool(context.Background(), "acme", "alice", "search", map[string]any{})
	require.NoError(t, err)
}

func TestInvokeTool_SchemaInvalid(t *testing.T) {
	fake := &fakeTransport{
		tools: []ToolDescriptor{{Name: "search", Schema: ToolSchema{Required: []string{"query"}}}},
	}
	tenants := map[string]config.TenantConfig{"acme": {AllowedTools: []string{"search"}}}
	h := newTestHost(t, tenants, fake)

	_, err := h.InvokeTool(context.Background(), "acme", "", "search", map[string]any{})
	require.Error(t, err)
}

func TestInvokeTool_ToolNotFound(t *testing.T) {
	fake := &fakeTransport{}
	tenants := map[string]config.TenantConfig{"acme": {AllowedTools: []string{"search"}}}
	h := newTestHost(t, tenants, fake)

	_, err := h.InvokeTool(context.Background(), "acme", "", "search", map[string]any{})
	require.Error(t, err)
}

func TestGetPrompt_SubstitutesTokens(t *testing.T) {
	fake := &fakeTransport{
		prompts: []PromptDescriptor{{Name: "greet", Template: "Hello, {name}!"}},
	}
	h := newTestHost(t, nil, fake)

	out, err := h.GetPrompt("greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, "Hello, Ada!", out)
}

func TestHealthCheck_AggregatesAcrossServers(t *testing.T) {
	fake := &fakeTransport{}
	h := newTestHost(t, nil, fake)

	statuses, overall := h.HealthCheck(context.Background())
	require.True(t, overall)
	require.True(t, statuses["srv1"].Healthy)
}
