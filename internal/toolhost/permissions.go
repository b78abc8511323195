package toolhost

import (
	"fmt"

	"ragpipeline/internal/config"
	"ragpipeline/internal/pipelineerr"
)

// checkPermission enforces the tenant allow-list, narrowed by an optional
// per-user allow-list, per §4.1 point 3. An empty tenant allow-list denies
// everything for that tenant (there is no implicit allow-all).
func checkPermission(tenants map[string]config.TenantConfig, tenantID, userID, toolID string) error {
	tenant, ok := tenants[tenantID]
	if !ok || !containsStr(tenant.AllowedTools, toolID) {
		return pipelineerr.New(pipelineerr.PermissionDenied,
			fmt.Sprintf("tenant %q is not permitted to invoke tool %q", tenantID, toolID))
	}
	if userID == "" {
		return nil
	}
	user, ok := tenant.Users[userID]
	if !ok {
		// No user-specific entry narrows the tenant grant further.
		return nil
	}
	if !containsStr(user.AllowedTools, toolID) {
		return pipelineerr.New(pipelineerr.PermissionDenied,
			fmt.Sprintf("user %q of tenant %q is not permitted to invoke tool %q", userID, tenantID, toolID))
	}
	return nil
}
