// Package normalize canonicalizes tool-adapter payloads into ragdata
// Documents: PII scrubbing, ACL mapping, and checksum computation (§4.4).
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"ragpipeline/internal/pipelineerr"
	"ragpipeline/internal/ragdata"
)

// Options configures one Normalizer instance.
type Options struct {
	PIIScrub    bool
	CustomPII   []*regexp.Regexp
	ACLMappings []ACLMapping
	Clock       func() time.Time
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

// Normalize turns a tool-specific payload into a canonical Document. Steps
// are deterministic and order-independent (§4.4): derive id, extract
// fields, scrub PII, map ACLs, compute checksum over the scrubbed content.
func Normalize(tenantID, sourceTool string, payload map[string]any, opts Options) (ragdata.Document, error) {
	if tenantID == "" || sourceTool == "" {
		return ragdata.Document{}, pipelineerr.New(pipelineerr.SchemaInvalid, "tenant_id and source_tool are required")
	}

	sourceID, _ := payload["source_id"].(string)
	if sourceID == "" {
		sourceID = synthesizeSourceID(payload)
	}

	content := firstString(payload, "content", "text")
	metadata, _ := payload["metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}

	var sourceACLs []string
	if raw, ok := payload["acl"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				sourceACLs = append(sourceACLs, s)
			}
		}
	}

	tsSource := extractTimestamp(payload, opts.now())

	if opts.PIIScrub {
		content = ScrubPII(content, opts.CustomPII)
		metadata = scrubMetadata(metadata, opts.CustomPII)
	}

	checksum := computeChecksum(sourceID, content, metadata, tsSource)

	doc := ragdata.Document{
		ID:         fmt.Sprintf("%s:%s:%s", tenantID, sourceTool, sourceID),
		TenantID:   tenantID,
		SourceTool: sourceTool,
		SourceID:   sourceID,
		Content:    content,
		Metadata:   metadata,
		ACL:        MapACLs(tenantID, sourceTool, sourceACLs, opts.ACLMappings),
		TsSource:   tsSource,
		TsIngested: opts.now(),
		Checksum:   checksum,
	}
	return doc, nil
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// extractTimestamp falls back timestamp -> created_at -> now, per §4.4
// point 2.
func extractTimestamp(payload map[string]any, now time.Time) time.Time {
	for _, key := range []string{"ts_source", "timestamp", "created_at"} {
		v, ok := payload[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			return t
		case string:
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return parsed
			}
		}
	}
	return now
}

// synthesizeSourceID derives a stable ID from the canonical JSON of the
// payload when the adapter supplies none, per §4.4 point 1.
func synthesizeSourceID(payload map[string]any) string {
	raw, err := canonicalJSON(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// computeChecksum = md5(canonical_json({source_id, content, metadata,
// ts_source})), scrubbed content in, per §4.4 point 5 and the PII-before-
// checksum resolution in SPEC_FULL.md §9.
func computeChecksum(sourceID, content string, metadata map[string]any, tsSource time.Time) string {
	payload := map[string]any{
		"source_id": sourceID,
		"content":   content,
		"metadata":  metadata,
		"ts_source": tsSource.UTC().Format(time.RFC3339Nano),
	}
	raw, err := canonicalJSON(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON marshals v with map keys sorted, matching Python's
// json.dumps(..., sort_keys=True) semantics the checksum formula assumes.
// encoding/json already sorts map[string]any keys; this helper exists so
// the sorting guarantee is documented at the call site rather than relied
// on implicitly.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(sortedCopy(v))
}

func sortedCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortedCopy(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return v
	}
}

func scrubMetadata(metadata map[string]any, custom []*regexp.Regexp) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if s, ok := v.(string); ok {
			out[k] = ScrubPII(s, custom)
		} else {
			out[k] = v
		}
	}
	return out
}
