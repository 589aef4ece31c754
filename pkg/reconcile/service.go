// Package reconcile keeps the derived index consistent with the note log.
// The log is authoritative; any divergence is fixed by re-deriving rows
// from it, never the other way around.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramhq/engram/internal/observability"
	"github.com/engramhq/engram/pkg/embedding"
	"github.com/engramhq/engram/pkg/gitlog"
	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/notecodec"
)

// ReindexStats reports the outcome of a full rebuild. Individual note
// failures are counted, not fatal.
type ReindexStats struct {
	NotesSeen       int           `json:"notes_seen"`
	MemoriesIndexed int           `json:"memories_indexed"`
	Failures        int           `json:"failures"`
	Duration        time.Duration `json:"duration"`
}

// VerifyReport describes divergence between log and index.
type VerifyReport struct {
	Consistent      bool     `json:"consistent"`
	MissingInIndex  []string `json:"missing_in_index"`
	OrphanedInIndex []string `json:"orphaned_in_index"`
	// Mismatched is reserved for content-hash divergence detection; the
	// current verifier only reconciles ID sets.
	Mismatched []string `json:"mismatched"`
}

// RepairStats reports what a repair changed.
type RepairStats struct {
	Resynced int `json:"resynced"`
	Removed  int `json:"removed"`
	Failures int `json:"failures"`
}

// ProgressFunc receives rebuild progress as (done, total) note counts.
type ProgressFunc func(done, total int)

// noteAddr locates one note in the log.
type noteAddr struct {
	ns     memory.Namespace
	commit string
}

// Service reconciles the index with the log.
type Service struct {
	log      *gitlog.Store
	idx      *index.Store
	embedder embedding.Provider
	logger   zerolog.Logger
}

// Config holds sync service configuration.
type Config struct {
	Log      *gitlog.Store
	Index    *index.Store
	Embedder embedding.Provider
	Logger   zerolog.Logger
}

// NewService wires the reconciliation path.
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

// SyncNoteToIndex re-derives the index rows for one note address. Returns
// false, not an error, when no note exists there.
func (s *Service) SyncNoteToIndex(ctx context.Context, ns memory.Namespace, commit string) (bool, error) {
	text, found, err := s.log.Show(ctx, ns, commit)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	n, err := s.indexNote(ctx, ns, commit, text)
	if err != nil {
		return false, err
	}
	s.logger.Debug().
		Str("namespace", string(ns)).
		Str("commit", commit).
		Int("memories", n).
		Msg("Note synced to index")
	return true, nil
}

// indexNote parses one note blob (which may hold several concatenated
// documents) and upserts every memory in it. Later documents win on ID
// collision, which is how blocker resolutions supersede the original.
func (s *Service) indexNote(ctx context.Context, ns memory.Namespace, commit, text string) (int, error) {
	fullSHA, shortSHA, err := s.log.ResolveCommit(ctx, commit)
	if err != nil {
		return 0, err
	}

	metas, bodies, err := notecodec.ParseMulti(text)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for i, meta := range metas {
		mem := notecodec.MemoryFromNote(meta, bodies[i], shortSHA, fullSHA)
		vec, err := s.embedder.Embed(ctx, mem.Summary+"\n"+mem.Content)
		if err != nil {
			return indexed, err
		}
		if err := s.idx.Insert(mem, vec); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// FullReindex clears the index and rebuilds it from every note in every
// namespace. One bad note is logged and skipped; the rebuild continues.
func (s *Service) FullReindex(ctx context.Context, progress ProgressFunc) (*ReindexStats, error) {
	start := time.Now()
	stats := &ReindexStats{}

	if err := s.idx.Clear(); err != nil {
		observability.RecordSyncRun("full_reindex", time.Since(start), false)
		return nil, err
	}

	addrs, err := s.listAll(ctx)
	if err != nil {
		observability.RecordSyncRun("full_reindex", time.Since(start), false)
		return nil, err
	}

	total := len(addrs)
	for done, addr := range addrs {
		synced, err := s.SyncNoteToIndex(ctx, addr.ns, addr.commit)
		if err != nil {
			stats.Failures++
			s.logger.Warn().Err(err).
				Str("namespace", string(addr.ns)).
				Str("commit", addr.commit).
				Msg("Skipping unsyncable note")
		} else if synced {
			stats.NotesSeen++
		}
		if progress != nil {
			progress(done+1, total)
		}
	}

	ids, err := s.idx.AllIDs()
	if err == nil {
		stats.MemoriesIndexed = len(ids)
		observability.SetIndexedEntries(len(ids))
	}

	stats.Duration = time.Since(start)
	observability.RecordSyncRun("full_reindex", stats.Duration, stats.Failures == 0)
	s.logger.Info().
		Int("notes", stats.NotesSeen).
		Int("memories", stats.MemoriesIndexed).
		Int("failures", stats.Failures).
		Dur("duration", stats.Duration).
		Msg("Full reindex completed")
	return stats, nil
}

// VerifyIndex diffs the ID set reachable from the log against the ID set
// present in the index.
func (s *Service) VerifyIndex(ctx context.Context) (*VerifyReport, error) {
	reachable, err := s.collectReachable(ctx)
	if err != nil {
		return nil, err
	}
	indexed, err := s.idx.AllIDs()
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{}
	for id := range reachable {
		if _, ok := indexed[id]; !ok {
			report.MissingInIndex = append(report.MissingInIndex, id)
		}
	}
	for id := range indexed {
		if _, ok := reachable[id]; !ok {
			report.OrphanedInIndex = append(report.OrphanedInIndex, id)
		}
	}
	sort.Strings(report.MissingInIndex)
	sort.Strings(report.OrphanedInIndex)
	report.Consistent = len(report.MissingInIndex) == 0 &&
		len(report.OrphanedInIndex) == 0 && len(report.Mismatched) == 0
	return report, nil
}

// RepairIndex re-syncs every missing ID and removes every orphaned row.
func (s *Service) RepairIndex(ctx context.Context) (*RepairStats, error) {
	start := time.Now()
	reachable, err := s.collectReachable(ctx)
	if err != nil {
		observability.RecordSyncRun("repair", time.Since(start), false)
		return nil, err
	}
	indexed, err := s.idx.AllIDs()
	if err != nil {
		observability.RecordSyncRun("repair", time.Since(start), false)
		return nil, err
	}

	stats := &RepairStats{}
	resyncedNotes := make(map[noteAddr]bool)
	for id, addr := range reachable {
		if _, ok := indexed[id]; ok {
			continue
		}
		if resyncedNotes[addr] {
			continue
		}
		if _, err := s.SyncNoteToIndex(ctx, addr.ns, addr.commit); err != nil {
			stats.Failures++
			s.logger.Warn().Err(err).Str("id", id).Msg("Repair re-sync failed")
			continue
		}
		resyncedNotes[addr] = true
		stats.Resynced++
	}

	for id := range indexed {
		if _, ok := reachable[id]; ok {
			continue
		}
		removed, err := s.idx.Delete(id)
		if err != nil {
			stats.Failures++
			s.logger.Warn().Err(err).Str("id", id).Msg("Orphan removal failed")
			continue
		}
		if removed {
			stats.Removed++
		}
	}

	observability.RecordSyncRun("repair", time.Since(start), stats.Failures == 0)
	s.logger.Info().
		Int("resynced", stats.Resynced).
		Int("removed", stats.Removed).
		Int("failures", stats.Failures).
		Msg("Index repair completed")
	return stats, nil
}

// listAll enumerates every note address across the closed namespace set.
func (s *Service) listAll(ctx context.Context) ([]noteAddr, error) {
	var addrs []noteAddr
	for _, ns := range memory.Namespaces() {
		entries, err := s.log.List(ctx, ns)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			addrs = append(addrs, noteAddr{ns: ns, commit: e.CommitSHA})
		}
	}
	return addrs, nil
}

// collectReachable parses every note in the log and maps each derivable
// memory ID to its note address. Unparsable notes are skipped with a
// warning; they cannot contribute IDs either way.
func (s *Service) collectReachable(ctx context.Context) (map[string]noteAddr, error) {
	addrs, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]noteAddr)
	for _, addr := range addrs {
		text, found, err := s.log.Show(ctx, addr.ns, addr.commit)
		if err != nil || !found {
			if err != nil {
				s.logger.Warn().Err(err).Str("commit", addr.commit).Msg("Unreadable note during verify")
			}
			continue
		}
		fullSHA, shortSHA, err := s.log.ResolveCommit(ctx, addr.commit)
		if err != nil {
			continue
		}
		metas, bodies, err := notecodec.ParseMulti(text)
		if err != nil {
			s.logger.Warn().Err(err).Str("commit", addr.commit).Msg("Unparsable note during verify")
			continue
		}
		for i, meta := range metas {
			mem := notecodec.MemoryFromNote(meta, bodies[i], shortSHA, fullSHA)
			reachable[mem.ID] = addr
		}
	}
	return reachable, nil
}
