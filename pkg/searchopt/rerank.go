package searchopt

import (
	"math"
	"sort"
	"time"

	"github.com/engramhq/engram/pkg/memory"
)

// RerankWeights controls how much each boost signal reduces effective
// distance. Boosts subtract from raw distance, so lower still wins; the
// adjusted score is clamped at zero so pathological combinations cannot go
// negative.
type RerankWeights struct {
	Recency    float64
	Namespace  float64
	SpecMatch  float64
	TagOverlap float64

	// HalfLife is the recency decay half-life.
	HalfLife time.Duration
}

// DefaultRerankWeights returns the standard signal weights with a 30-day
// recency half-life.
func DefaultRerankWeights() RerankWeights {
	return RerankWeights{
		Recency:    0.10,
		Namespace:  0.05,
		SpecMatch:  0.10,
		TagOverlap: 0.05,
		HalfLife:   30 * 24 * time.Hour,
	}
}

// namespacePriority gives operationally important namespaces a fixed edge.
// Values are in [0, 1].
var namespacePriority = map[memory.Namespace]float64{
	memory.NamespaceDecisions:     1.0,
	memory.NamespaceBlockers:      0.9,
	memory.NamespaceLearnings:     0.8,
	memory.NamespacePatterns:      0.7,
	memory.NamespaceReviews:       0.5,
	memory.NamespaceResearch:      0.5,
	memory.NamespaceRetrospective: 0.4,
	memory.NamespaceProgress:      0.3,
	memory.NamespaceElicitation:   0.2,
	memory.NamespaceInception:     0.2,
}

// RerankContext carries the query-side signals.
type RerankContext struct {
	Spec string
	Tags []string
	Now  time.Time
}

// Rerank adjusts raw distance-ordered results with the four boost signals
// and re-sorts ascending by adjusted score. The input slice is modified in
// place.
func Rerank(results []*memory.MemoryResult, rctx RerankContext, weights RerankWeights) {
	now := rctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	if weights.HalfLife <= 0 {
		weights.HalfLife = 30 * 24 * time.Hour
	}

	for _, r := range results {
		boost := weights.Recency*recencyBoost(r.Memory.Timestamp, now, weights.HalfLife) +
			weights.Namespace*namespacePriority[r.Memory.Namespace] +
			weights.SpecMatch*specMatchBoost(r.Memory.Spec, rctx.Spec) +
			weights.TagOverlap*tagOverlap(r.Memory.Tags, rctx.Tags)

		adjusted := r.Distance - boost
		if adjusted < 0 {
			adjusted = 0
		}
		r.Distance = adjusted
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
}

// recencyBoost decays exponentially with age: 1.0 now, 0.5 at one
// half-life, and so on.
func recencyBoost(ts, now time.Time, halfLife time.Duration) float64 {
	age := now.Sub(ts)
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// specMatchBoost is binary: the result either belongs to the queried spec
// or it does not.
func specMatchBoost(resultSpec, querySpec string) float64 {
	if querySpec != "" && resultSpec == querySpec {
		return 1.0
	}
	return 0.0
}

// tagOverlap is the fraction of query tags the result carries.
func tagOverlap(resultTags, queryTags []string) float64 {
	if len(queryTags) == 0 || len(resultTags) == 0 {
		return 0.0
	}
	have := make(map[string]bool, len(resultTags))
	for _, t := range resultTags {
		have[t] = true
	}
	matched := 0
	for _, t := range queryTags {
		if have[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTags))
}
