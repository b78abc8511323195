package normalize

import (
	"fmt"
	"regexp"
)

// ACLMapping is one (source_tool -> source acl) rule. Exact is tried first;
// if Pattern is set instead, it is matched as a regular expression and its
// capture groups are available as $1..$n in Template.
type ACLMapping struct {
	SourceTool string
	Exact      map[string]string // source acl -> canonical acl
	Pattern    *regexp.Regexp
	Template   string // e.g. "tenant:$1:group:$2"
}

// MapACLs maps sourceACLs (as reported by sourceTool) to canonical ACL
// strings, per §4.4 point 4: always prepend tenant:{tenant_id}; for each
// source ACL try an exact mapping, then a pattern mapping with $1..$n
// substitution, then the namespaced fallback {source_tool}:{acl}. The
// result is deduplicated but preserves first-seen order.
func MapACLs(tenantID, sourceTool string, sourceACLs []string, mappings []ACLMapping) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(acl string) {
		if !seen[acl] {
			seen[acl] = true
			out = append(out, acl)
		}
	}

	add(fmt.Sprintf("tenant:%s", tenantID))

	for _, acl := range sourceACLs {
		mapped, ok := mapOneACL(sourceTool, acl, mappings)
		if !ok {
			mapped = fmt.Sprintf("%s:%s", sourceTool, acl)
		}
		add(mapped)
	}
	return out
}

func mapOneACL(sourceTool, acl string, mappings []ACLMapping) (string, bool) {
	for _, m := range mappings {
		if m.SourceTool != sourceTool {
			continue
		}
		if m.Exact != nil {
			if mapped, ok := m.Exact[acl]; ok {
				return mapped, true
			}
		}
	}
	for _, m := range mappings {
		if m.SourceTool != sourceTool || m.Pattern == nil {
			continue
		}
		if m.Pattern.MatchString(acl) {
			return m.Pattern.ReplaceAllString(acl, m.Template), true
		}
	}
	return "", false
}
