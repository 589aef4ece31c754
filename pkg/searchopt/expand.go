// Package searchopt sits in front of the recall path: it expands query
// vocabulary, re-ranks raw distance-ordered results with recency, namespace,
// spec and tag signals, and caches results under a TTL.
package searchopt

import (
	"sort"
	"strings"
)

const (
	// maxPerTerm caps how many expansion terms one query token may
	// contribute.
	maxPerTerm = 3
	// maxExpansionTerms caps the total expansion.
	maxExpansionTerms = 8
)

// synonyms maps common engineering query tokens to related vocabulary.
// Expansion augments the embedding input; it never replaces the query.
var synonyms = map[string][]string{
	"bug":      {"defect", "issue", "error"},
	"fix":      {"repair", "patch", "resolve"},
	"error":    {"failure", "fault", "exception"},
	"slow":     {"latency", "performance", "bottleneck"},
	"fast":     {"performance", "optimized", "throughput"},
	"crash":    {"panic", "abort", "failure"},
	"test":     {"spec", "verification", "coverage"},
	"deploy":   {"release", "rollout", "ship"},
	"db":       {"database", "storage", "persistence"},
	"auth":     {"authentication", "authorization", "login"},
	"config":   {"configuration", "settings", "options"},
	"refactor": {"restructure", "cleanup", "rewrite"},
	"decide":   {"decision", "choice", "tradeoff"},
	"block":    {"blocker", "stuck", "impediment"},
	"why":      {"rationale", "reason", "decision"},
}

// domainTerms maps tokens to terms of this system's own domain, so queries
// about the tooling itself recall well.
var domainTerms = map[string][]string{
	"memory":    {"capture", "recall", "note"},
	"note":      {"memory", "log", "annotation"},
	"commit":    {"revision", "sha", "history"},
	"index":     {"search", "embedding", "vector"},
	"search":    {"recall", "query", "similarity"},
	"sync":      {"reindex", "reconcile", "rebuild"},
	"embedding": {"vector", "semantic", "similarity"},
	"blocker":   {"unresolved", "stuck", "impediment"},
	"spec":      {"feature", "workstream", "scope"},
}

// Expand tokenizes the query and returns additional vocabulary from the
// synonym and domain tables, excluding anything already present in the
// query. Output order is deterministic.
func Expand(query string) []string {
	tokens := tokenize(query)
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}

	seen := make(map[string]bool)
	var expansion []string
	for _, t := range tokens {
		var hits []string
		hits = append(hits, lookup(synonyms, t)...)
		hits = append(hits, lookup(domainTerms, t)...)

		added := 0
		for _, h := range hits {
			if present[h] || seen[h] {
				continue
			}
			if added >= maxPerTerm {
				break
			}
			seen[h] = true
			expansion = append(expansion, h)
			added++
			if len(expansion) >= maxExpansionTerms {
				return expansion
			}
		}
	}
	return expansion
}

func lookup(table map[string][]string, token string) []string {
	hits := table[token]
	out := make([]string, len(hits))
	copy(out, hits)
	sort.Strings(out)
	return out
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
