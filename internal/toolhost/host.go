package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"ragpipeline/internal/config"
	"ragpipeline/internal/pipelineerr"
)

// ToolDescriptor is one entry of mcp.list_tools' response.
type ToolDescriptor struct {
	Name   string     `json:"name"`
	Schema ToolSchema `json:"schema"`
}

// ResourceDescriptor is one entry of mcp.list_resources' response.
type ResourceDescriptor struct {
	Name string `json:"name"`
}

// PromptDescriptor is one entry of mcp.list_prompts' response; Template
// uses "{name}" tokens substituted by GetPrompt.
type PromptDescriptor struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

// capabilities is the cached result of one server's discovery call.
type capabilities struct {
	tools     map[string]ToolDescriptor
	resources map[string]ResourceDescriptor
	prompts   map[string]PromptDescriptor
}

// serverEntry binds a registered server's name to its transport.
type serverEntry struct {
	name      string
	transport Transport
}

// ToolHost composes transports into the permissioned, audited invocation
// surface described in §4.1.
type ToolHost struct {
	tenants map[string]config.TenantConfig
	audit   *AuditLog

	mu      sync.RWMutex
	servers map[string]serverEntry
	caps    map[string]capabilities // keyed by server name
}

// New constructs a ToolHost with the given tenant permission table.
func New(tenants map[string]config.TenantConfig) *ToolHost {
	return &ToolHost{
		tenants: tenants,
		audit:   NewAuditLog(),
		servers: make(map[string]serverEntry),
		caps:    make(map[string]capabilities),
	}
}

// AuditLog exposes the host's audit sink for inspection (health endpoints,
// tests).
func (h *ToolHost) AuditLog() *AuditLog { return h.audit }

// RegisterServer adds a named, already-connected transport to the host,
// completes the mcp.initialize handshake, and discovers its capabilities.
func (h *ToolHost) RegisterServer(ctx context.Context, name string, t Transport) error {
	if _, err := t.Invoke(ctx, "mcp.initialize", map[string]any{"server": name}); err != nil {
		return pipelineerr.Wrap(pipelineerr.TransportClosed, "initialize server "+name, err)
	}

	h.mu.Lock()
	h.servers[name] = serverEntry{name: name, transport: t}
	h.mu.Unlock()
	return h.discover(ctx, name, t)
}

// discover performs capability discovery (mcp.list_tools|list_resources|
// list_prompts) and caches the result keyed by server name, per §4.1
// point 1.
func (h *ToolHost) discover(ctx context.Context, name string, t Transport) error {
	tools, err := listCapability[ToolDescriptor](ctx, t, "mcp.list_tools")
	if err != nil {
		return err
	}
	resources, err := listCapability[ResourceDescriptor](ctx, t, "mcp.list_resources")
	if err != nil {
		return err
	}
	prompts, err := listCapability[PromptDescriptor](ctx, t, "mcp.list_prompts")
	if err != nil {
		return err
	}

	toolMap := make(map[string]ToolDescriptor, len(tools))
	for _, tool := range tools {
		toolMap[tool.Name] = tool
	}
	resourceMap := make(map[string]ResourceDescriptor, len(resources))
	for _, r := range resources {
		resourceMap[r.Name] = r
	}
	promptMap := make(map[string]PromptDescriptor, len(prompts))
	for _, p := range prompts {
		promptMap[p.Name] = p
	}

	h.mu.Lock()
	h.caps[name] = capabilities{tools: toolMap, resources: resourceMap, prompts: promptMap}
	h.mu.Unlock()
	return nil
}

func listCapability[T any](ctx context.Context, t Transport, method string) ([]T, error) {
	raw, err := t.Invoke(ctx, method, map[string]any{})
	if err != nil {
		return nil, err
	}
	var out []T
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.RpcError, "decode "+method+" response", err)
	}
	return out, nil
}

// resolveTool finds the server hosting toolID and its cached schema.
// Capabilities are cached per server name, so a tool is looked up qualified
// as "server.tool" or bare; a bare name hosted by more than one server
// resolves to whichever of them map iteration reaches first.
func (h *ToolHost) resolveTool(toolID string) (serverEntry, ToolDescriptor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if serverName, toolName, ok := strings.Cut(toolID, "."); ok {
		if entry, ok := h.servers[serverName]; ok {
			if caps, ok := h.caps[serverName]; ok {
				if tool, ok := caps.tools[toolName]; ok {
					return entry, tool, nil
				}
			}
		}
	}
	for name, entry := range h.servers {
		if caps, ok := h.caps[name]; ok {
			if tool, ok := caps.tools[toolID]; ok {
				return entry, tool, nil
			}
		}
	}
	return serverEntry{}, ToolDescriptor{}, pipelineerr.New(pipelineerr.NotFound, fmt.Sprintf("tool %q not found", toolID))
}

// InvokeTool validates params, checks permissions, invokes the tool on its
// hosting transport, and records a start/success/error audit trail, per
// §4.1.
func (h *ToolHost) InvokeTool(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (json.RawMessage, error) {
	invocationID := newInvocationID()
	paramsJSON, _ := json.Marshal(params)

	h.audit.Append(ctx, AuditRecord{
		InvocationID: invocationID, ToolID: toolID, TenantID: tenantID, UserID: userID,
		Params: paramsJSON, Outcome: AuditStarted,
	})

	entry, tool, err := h.resolveTool(toolID)
	if err != nil {
		h.audit.Append(ctx, AuditRecord{InvocationID: invocationID, ToolID: toolID, TenantID: tenantID, UserID: userID, Outcome: AuditError, ErrorMessage: err.Error()})
		return nil, err
	}

	if err := ValidateParams(tool.Schema, params); err != nil {
		h.audit.Append(ctx, AuditRecord{InvocationID: invocationID, ToolID: toolID, TenantID: tenantID, UserID: userID, Outcome: AuditError, ErrorMessage: err.Error()})
		return nil, err
	}

	if err := checkPermission(h.tenants, tenantID, userID, toolID); err != nil {
		h.audit.Append(ctx, AuditRecord{InvocationID: invocationID, ToolID: toolID, TenantID: tenantID, UserID: userID, Outcome: AuditError, ErrorMessage: err.Error()})
		return nil, err
	}

	result, err := entry.transport.Invoke(ctx, toolID, params)
	if err != nil {
		h.audit.Append(ctx, AuditRecord{InvocationID: invocationID, ToolID: toolID, TenantID: tenantID, UserID: userID, Outcome: AuditError, ErrorMessage: err.Error()})
		return nil, err
	}

	h.audit.Append(ctx, AuditRecord{InvocationID: invocationID, ToolID: toolID, TenantID: tenantID, UserID: userID, Outcome: AuditSuccess, ResultBytes: len(result)})
	return result, nil
}

// SubscribeResource checks permissions then opens a subscription on the
// resource's hosting server, resuming from lastEventID if provided.
func (h *ToolHost) SubscribeResource(ctx context.Context, tenantID, userID, resourceID string, params map[string]any, lastEventID string) (<-chan Event, error) {
	if err := checkPermission(h.tenants, tenantID, userID, resourceID); err != nil {
		return nil, err
	}
	h.mu.RLock()
	var entry serverEntry
	found := false
	for name, e := range h.servers {
		if caps, ok := h.caps[name]; ok {
			if _, ok := caps.resources[resourceID]; ok {
				entry, found = e, true
				break
			}
		}
	}
	h.mu.RUnlock()
	if !found {
		return nil, pipelineerr.New(pipelineerr.NotFound, fmt.Sprintf("resource %q not found", resourceID))
	}
	return entry.transport.Subscribe(ctx, resourceID, params, lastEventID)
}

// GetPrompt fills name's cached template with "{key}"-style substitution
// from args.
func (h *ToolHost) GetPrompt(name string, args map[string]string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, caps := range h.caps {
		if p, ok := caps.prompts[name]; ok {
			out := p.Template
			for k, v := range args {
				out = strings.ReplaceAll(out, "{"+k+"}", v)
			}
			return out, nil
		}
	}
	return "", pipelineerr.New(pipelineerr.NotFound, fmt.Sprintf("prompt %q not found", name))
}

// HealthStatus is the per-server outcome of HealthCheck.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthCheck pings every registered server and aggregates the result, so
// that the out-of-scope HTTP façade's GET /healthz has something to call.
func (h *ToolHost) HealthCheck(ctx context.Context) (map[string]HealthStatus, bool) {
	h.mu.RLock()
	servers := make([]serverEntry, 0, len(h.servers))
	for _, e := range h.servers {
		servers = append(servers, e)
	}
	h.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(servers))
	overall := true
	for _, e := range servers {
		_, err := e.transport.Invoke(ctx, "mcp.ping", map[string]any{})
		if err != nil {
			statuses[e.name] = HealthStatus{Healthy: false, Error: err.Error()}
			overall = false
			continue
		}
		statuses[e.name] = HealthStatus{Healthy: true}
	}
	return statuses, overall
}
