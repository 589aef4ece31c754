// Package recall is the read path: embed the query, run a filtered
// nearest-neighbor search against the index, and hydrate surviving IDs back
// toward the log for progressively more detail. Reads take no lock; a
// search may observe the index before or after a concurrent capture, which
// is the documented eventual-consistency race.
package recall

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramhq/engram/internal/observability"
	"github.com/engramhq/engram/pkg/embedding"
	"github.com/engramhq/engram/pkg/gitlog"
	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/memory"
)

// MaxLimit is the hard ceiling on search results regardless of what the
// caller asks for.
const MaxLimit = 50

// DefaultLimit applies when the caller passes no limit.
const DefaultLimit = 10

// HydrationLevel selects how much detail is fetched back from the log for
// a result. Each level is a strict superset of the previous one.
type HydrationLevel int

const (
	// LevelSummary is what search already returns: metadata only.
	LevelSummary HydrationLevel = iota
	// LevelFull adds the full note body, one log read.
	LevelFull
	// LevelSnapshot adds the changed files' content at the memory's commit.
	LevelSnapshot
)

// SpecContext aggregates every memory captured under one spec, grouped by
// namespace and chronological within each group.
type SpecContext struct {
	Spec          string                                `json:"spec"`
	Groups        map[memory.Namespace][]*memory.Memory `json:"groups"`
	Total         int                                   `json:"total"`
	EstimatedSize int                                   `json:"estimated_size"`
}

// Service is the recall orchestrator.
type Service struct {
	log      *gitlog.Store
	idx      *index.Store
	embedder embedding.Provider
	logger   zerolog.Logger
}

// Config holds recall service configuration.
type Config struct {
	Log      *gitlog.Store
	Index    *index.Store
	Embedder embedding.Provider
	Logger   zerolog.Logger
}

// NewService wires the read path.
func NewService(cfg Config) (*Service, error) {
	if cfg.Log == nil || cfg.Index == nil || cfg.Embedder == nil {
		return nil, fmt.Errorf("log, index and embedder are all required")
	}
	observability.EnsureRegistered()
	return &Service{
		log:      cfg.Log,
		idx:      cfg.Index,
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
	}, nil
}

// Search embeds the query and returns the nearest memories, ascending by
// distance, hydrated to summary level via one batch lookup.
func (s *Service) Search(ctx context.Context, query string, filters index.Filters, limit int) ([]*memory.MemoryResult, error) {
	start := time.Now()
	defer func() { observability.RecordSearch(time.Since(start)) }()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.idx.SearchVector(vec, filters, limit)
	if err != nil {
		return nil, err
	}
	return s.hydrateMatches(matches)
}

// SearchVector runs a search with a pre-computed embedding. The optimizer
// uses this to search with an expansion-augmented vector while keeping one
// code path for hydration.
func (s *Service) SearchVector(ctx context.Context, vec []float32, filters index.Filters, limit int) ([]*memory.MemoryResult, error) {
	start := time.Now()
	defer func() { observability.RecordSearch(time.Since(start)) }()

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	matches, err := s.idx.SearchVector(vec, filters, limit)
	if err != nil {
		return nil, err
	}
	return s.hydrateMatches(matches)
}

func (s *Service) hydrateMatches(matches []index.Match) ([]*memory.MemoryResult, error) {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	byID, err := s.idx.GetBatch(ids)
	if err != nil {
		return nil, err
	}

	results := make([]*memory.MemoryResult, 0, len(matches))
	for _, m := range matches {
		mem, ok := byID[m.ID]
		if !ok {
			// Row vanished between search and hydration; skip rather than
			// fail the whole search.
			continue
		}
		results = append(results, &memory.MemoryResult{Memory: mem, Distance: m.Distance})
	}
	return results, nil
}

// Hydrate raises a result to the requested detail level. Levels already
// satisfied are never re-fetched.
func (s *Service) Hydrate(ctx context.Context, result *memory.MemoryResult, level HydrationLevel) error {
	if result == nil || result.Memory == nil {
		return fmt.Errorf("nil result")
	}

	if level >= LevelFull && result.NoteBody == "" {
		text, found, err := s.log.Show(ctx, result.Memory.Namespace, result.Memory.CommitSHA)
		if err != nil {
			return err
		}
		if !found {
			return memory.NewStorageError("recall.hydrate",
				"the note vanished from the log; run 'engram sync verify' to inspect divergence",
				memory.ErrNotFound)
		}
		result.NoteBody = text
	}

	if level >= LevelSnapshot && result.Snapshots == nil {
		paths, err := s.log.ChangedFiles(ctx, result.Memory.CommitSHA)
		if err != nil {
			return err
		}
		snapshots := make(map[string]string, len(paths))
		for _, p := range paths {
			content, err := s.log.ShowFileAt(ctx, result.Memory.CommitSHA, p)
			if err != nil {
				// Deleted files have no blob at this commit.
				s.logger.Debug().Err(err).Str("path", p).Msg("Snapshot read skipped")
				continue
			}
			snapshots[p] = content
		}
		result.Snapshots = snapshots
	}
	return nil
}

// Context aggregates everything captured under a spec across all
// namespaces for downstream consumers with a content budget.
func (s *Service) Context(ctx context.Context, spec string) (*SpecContext, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("spec is required")
	}

	out := &SpecContext{
		Spec:   spec,
		Groups: make(map[memory.Namespace][]*memory.Memory),
	}

	ids, err := s.idx.AllIDs()
	if err != nil {
		return nil, err
	}
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	byID, err := s.idx.GetBatch(idList)
	if err != nil {
		return nil, err
	}

	for _, mem := range byID {
		if mem.Spec != spec {
			continue
		}
		out.Groups[mem.Namespace] = append(out.Groups[mem.Namespace], mem)
		out.Total++
		out.EstimatedSize += len(mem.Summary) + len(mem.Content)
	}

	for ns := range out.Groups {
		group := out.Groups[ns]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
	}
	return out, nil
}

// Similar finds memories close to an existing one, using its own summary
// and content as the query and excluding it from the results.
func (s *Service) Similar(ctx context.Context, mem *memory.Memory, limit int) ([]*memory.MemoryResult, error) {
	if mem == nil {
		return nil, fmt.Errorf("memory is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	vec, err := s.embedder.Embed(ctx, mem.Summary+"\n"+mem.Content)
	if err != nil {
		return nil, err
	}

	// Over-fetch by one so the self-match can be dropped.
	matches, err := s.idx.SearchVector(vec, index.Filters{}, limit+1)
	if err != nil {
		return nil, err
	}

	filtered := matches[:0]
	for _, m := range matches {
		if m.ID == mem.ID {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return s.hydrateMatches(filtered)
}
