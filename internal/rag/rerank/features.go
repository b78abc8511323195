package rerank

import "time"

// recencyFeature scores a candidate's age against a one-year horizon
// (§4.9): 1.0 for brand new, 0.0 at or beyond 365 days, 0.5 if the
// timestamp is unknown.
func recencyFeature(tsSource time.Time, now time.Time) float64 {
	if tsSource.IsZero() {
		return 0.5
	}
	const maxAgeDays = 365.0
	ageDays := now.Sub(tsSource).Hours() / 24
	recency := 1.0 - ageDays/maxAgeDays
	if recency < 0 {
		return 0
	}
	if recency > 1 {
		return 1
	}
	return recency
}

// entityOverlapFeature computes |Q∩C| / |Q|, 0 if Q is empty (§4.9).
func entityOverlapFeature(queryEntities, candidateEntities []string) float64 {
	if len(queryEntities) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(candidateEntities))
	for _, e := range candidateEntities {
		set[e] = struct{}{}
	}
	var overlap int
	seen := make(map[string]struct{}, len(queryEntities))
	for _, e := range queryEntities {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		if _, ok := set[e]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryEntities))
}
