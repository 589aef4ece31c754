package searchopt

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramhq/engram/internal/observability"
	"github.com/engramhq/engram/pkg/embedding"
	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/recall"
)

// Optimizer fronts the recall service with query expansion, re-ranking and
// a time-bounded result cache.
type Optimizer struct {
	recall   *recall.Service
	embedder embedding.Provider
	cache    *Cache
	weights  RerankWeights
	logger   zerolog.Logger
}

// Config holds optimizer configuration.
type Config struct {
	Recall    *recall.Service
	Embedder  embedding.Provider
	CacheSize int
	CacheTTL  time.Duration
	Weights   *RerankWeights // nil means DefaultRerankWeights
	Logger    zerolog.Logger
}

// New creates an optimizer.
func New(cfg Config) *Optimizer {
	weights := DefaultRerankWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}
	return &Optimizer{
		recall:   cfg.Recall,
		embedder: cfg.Embedder,
		cache:    NewCache(cfg.CacheSize, cfg.CacheTTL),
		weights:  weights,
		logger:   cfg.Logger,
	}
}

// Search runs the optimized read path: expand, consult the cache, embed the
// augmented query, search, re-rank, cache. Tags bias the tag-overlap boost
// and may be empty.
func (o *Optimizer) Search(ctx context.Context, query string, filters index.Filters, tags []string, limit int) ([]*memory.MemoryResult, error) {
	expansion := Expand(query)
	key := Key(query, expansion, filters, tags, limit)

	if cached, ok := o.cache.Get(key); ok {
		observability.RecordCacheLookup(true)
		o.logger.Debug().Str("key", key).Msg("Search cache hit")
		return cloneResults(cached), nil
	}
	observability.RecordCacheLookup(false)

	// The original query always leads; expansion terms only add vocabulary
	// to the embedding input.
	embedInput := query
	if len(expansion) > 0 {
		embedInput = query + "\n" + strings.Join(expansion, " ")
	}
	vec, err := o.embedder.Embed(ctx, embedInput)
	if err != nil {
		return nil, err
	}

	results, err := o.recall.SearchVector(ctx, vec, filters, limit)
	if err != nil {
		return nil, err
	}

	Rerank(results, RerankContext{Spec: filters.Spec, Tags: tags}, o.weights)

	o.cache.Set(key, cloneResults(results))
	return results, nil
}

// InvalidateNamespace drops cached result sets that could contain stale
// rows for the namespace. Called after a capture commits.
func (o *Optimizer) InvalidateNamespace(ns memory.Namespace) int {
	n := o.cache.Invalidate("ns=" + string(ns) + ";")
	// Unfiltered searches can also contain the namespace.
	n += o.cache.Invalidate("ns=;")
	return n
}

// InvalidateAll drops every cached result set, used after bulk index
// rewrites where per-namespace invalidation would be pointless.
func (o *Optimizer) InvalidateAll() int {
	return o.cache.Invalidate("")
}

// CacheLen reports the current cache entry count.
func (o *Optimizer) CacheLen() int { return o.cache.Len() }

// cloneResults shields cached slices from caller mutation (re-ranking
// mutates distances in place).
func cloneResults(in []*memory.MemoryResult) []*memory.MemoryResult {
	out := make([]*memory.MemoryResult, len(in))
	for i, r := range in {
		cp := *r
		out[i] = &cp
	}
	return out
}
