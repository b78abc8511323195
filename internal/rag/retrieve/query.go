// Package retrieve implements the hybrid retriever (§4.8): parallel
// vector + BM25 fan-out, Reciprocal Rank Fusion, and optional graph-
// constrained expansion.
package retrieve

import (
	"strings"
	"time"
)

// TimeWindow narrows retrieval to chunks whose ts_source falls within
// [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Options configures one retrieval call.
type Options struct {
	TopK         int // default 50
	RRFK         int // default 60
	VectorWeight float64
	BM25Weight   float64

	TenantID   string
	ACL        []string
	TimeWindow *TimeWindow

	UseGraph bool
}

func (o Options) topK() int {
	if o.TopK > 0 {
		return o.TopK
	}
	return 50
}

func (o Options) rrfK() int {
	if o.RRFK > 0 {
		return o.RRFK
	}
	return 60
}

func (o Options) weights() (vec, bm25 float64) {
	vec, bm25 = o.VectorWeight, o.BM25Weight
	if vec == 0 && bm25 == 0 {
		vec, bm25 = 1.0, 1.0
	}
	return vec, bm25
}

// buildFilter derives the metadata equality filter applied consistently
// across the vector store and text index. ACL and time_window are not
// equality predicates a store filter can express (set-membership and range,
// respectively, against a map[string]string contract), so they're applied
// as a post-fetch filter over hydrated results instead; see allowed.
func (o Options) buildFilter() map[string]string {
	filter := map[string]string{"tenant_id": o.TenantID}
	return filter
}

// allowed reports whether a hydrated candidate's metadata satisfies o's ACL
// and time_window constraints (§4.8). A chunk with no acl entries is public
// and passes regardless of o.ACL. A chunk whose ts_source can't be parsed
// (absent or malformed) is excluded by a time window rather than assumed in
// range, since "unknown" is not "matches".
func (o Options) allowed(metadata map[string]string) bool {
	if len(o.ACL) > 0 {
		if !aclIntersects(metadata["acl"], o.ACL) {
			return false
		}
	}
	if o.TimeWindow != nil {
		ts, err := time.Parse(time.RFC3339, metadata["ts_source"])
		if err != nil {
			return false
		}
		if ts.Before(o.TimeWindow.Start) || !ts.Before(o.TimeWindow.End) {
			return false
		}
	}
	return true
}

// aclIntersects reports whether the comma-joined chunk ACL (as stamped by
// internal/manifest.Sync) shares any entry with the caller's ACL set. An
// empty chunk ACL means the chunk is public.
func aclIntersects(chunkACL string, callerACL []string) bool {
	if chunkACL == "" {
		return true
	}
	entries := strings.Split(chunkACL, ",")
	allowed := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		allowed[e] = struct{}{}
	}
	for _, c := range callerACL {
		if _, ok := allowed[c]; ok {
			return true
		}
	}
	return false
}
