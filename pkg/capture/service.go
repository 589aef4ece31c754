// Package capture orchestrates the write path: validate, lock, append the
// note to the log, embed, index. The note is durable the moment the log
// append returns; everything after that can only degrade the result to a
// warning, never lose the memory.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/engramhq/engram/internal/observability"
	"github.com/engramhq/engram/pkg/embedding"
	"github.com/engramhq/engram/pkg/gitlog"
	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/notecodec"
)

// DefaultMaxContentBytes bounds note bodies to prevent resource exhaustion.
const DefaultMaxContentBytes = 64 * 1024

// ReindexHint is the warning attached when a note was written but indexing
// failed.
const ReindexHint = "index out of sync; run 'engram sync reindex' to repair"

// Request carries one capture. Commit defaults to HEAD.
type Request struct {
	Namespace memory.Namespace
	Summary   string
	Content   string
	Spec      string
	Commit    string
	Tags      []string
	Phase     string
	Status    string
	RelatesTo []string
}

// Service is the capture orchestrator.
type Service struct {
	log             *gitlog.Store
	idx             *index.Store
	embedder        embedding.Provider
	lock            *Lock
	maxContentBytes int
	logger          zerolog.Logger
}

// Config holds capture service configuration.
type Config struct {
	Log             *gitlog.Store
	Index           *index.Store
	Embedder        embedding.Provider
	Lock            *Lock
	MaxContentBytes int // defaults to DefaultMaxContentBytes
	Logger          zerolog.Logger
}

// NewService wires the capture path.
func NewService(cfg Config) (*Service, error) {
	if cfg.Log == nil || cfg.Index == nil || cfg.Embedder == nil || cfg.Lock == nil {
		return nil, fmt.Errorf("log, index, embedder and lock are all required")
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = DefaultMaxContentBytes
	}
	observability.EnsureRegistered()
	return &Service{
		log:             cfg.Log,
		idx:             cfg.Index,
		embedder:        cfg.Embedder,
		lock:            cfg.Lock,
		maxContentBytes: cfg.MaxContentBytes,
		logger:          cfg.Logger,
	}, nil
}

// Capture runs one write end to end. Validation and lock failures abort
// before anything durable happens; embedding or index failures after the
// append downgrade to a success-with-warning result.
func (s *Service) Capture(ctx context.Context, req Request) (*memory.CaptureResult, error) {
	start := time.Now()
	opID := uuid.NewString()
	logger := s.logger.With().Str("op_id", opID).Str("namespace", string(req.Namespace)).Logger()

	// State: validating. Nothing durable yet.
	if err := s.validate(req); err != nil {
		observability.RecordCapture(string(req.Namespace), "rejected", time.Since(start))
		return nil, err
	}

	commit := req.Commit
	if commit == "" {
		commit = "HEAD"
	}

	// State: locking.
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		observability.RecordCapture(string(req.Namespace), "lock_timeout", time.Since(start))
		return nil, err
	}
	defer release()

	fullSHA, shortSHA, err := s.log.ResolveCommit(ctx, commit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mem := &memory.Memory{
		ID:        memory.MakeID(req.Namespace, shortSHA, now),
		CommitSHA: fullSHA,
		Namespace: req.Namespace,
		Spec:      req.Spec,
		Phase:     req.Phase,
		Status:    req.Status,
		Tags:      req.Tags,
		RelatesTo: req.RelatesTo,
		Summary:   req.Summary,
		Content:   strings.TrimRight(req.Content, "\n"),
		Timestamp: now,
	}

	note, err := notecodec.Format(notecodec.MetaFromMemory(mem), mem.Content)
	if err != nil {
		return nil, err
	}

	// State: writing-note. After this returns the memory is durable.
	if err := s.log.Append(ctx, mem.Namespace, note, fullSHA); err != nil {
		observability.RecordCapture(string(req.Namespace), "storage_error", time.Since(start))
		return nil, err
	}

	// States: embedding, indexing. Failures here are downgraded.
	if warn := s.indexMemory(ctx, mem); warn != "" {
		logger.Warn().Str("id", mem.ID).Str("warning", warn).Msg("Capture degraded")
		observability.RecordCapture(string(req.Namespace), "warning", time.Since(start))
		return &memory.CaptureResult{
			Status:  memory.CaptureWarning,
			Memory:  mem,
			Indexed: false,
			Warning: warn,
		}, nil
	}

	logger.Info().Str("id", mem.ID).Str("commit", shortSHA).Msg("Memory captured")
	observability.RecordCapture(string(req.Namespace), "success", time.Since(start))
	return &memory.CaptureResult{
		Status:  memory.CaptureSuccess,
		Memory:  mem,
		Indexed: true,
	}, nil
}

// indexMemory embeds and indexes. Returns a warning message on failure
// instead of an error; the note is already in the log.
func (s *Service) indexMemory(ctx context.Context, mem *memory.Memory) string {
	vec, err := s.embedder.Embed(ctx, mem.Summary+"\n"+mem.Content)
	if err != nil {
		return fmt.Sprintf("embedding failed (%v); %s", err, ReindexHint)
	}
	if err := s.idx.Insert(mem, vec); err != nil {
		return fmt.Sprintf("index write failed (%v); %s", err, ReindexHint)
	}
	return ""
}

// ResolveBlocker appends resolution text to an existing blocker and marks
// it resolved. The original ID and commit are preserved: the log gains a
// superseding document under the same identity, so a rebuild converges on
// the resolved state.
func (s *Service) ResolveBlocker(ctx context.Context, id, resolution string) (*memory.Memory, error) {
	if strings.TrimSpace(resolution) == "" {
		return nil, memory.NewCaptureError("capture.resolve",
			"provide non-empty resolution text", fmt.Errorf("empty resolution"))
	}

	mem, err := s.idx.Get(id)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, memory.NewCaptureError("capture.resolve",
			"the memory is not indexed; run 'engram sync reindex' and retry", memory.ErrNotFound)
	}
	if mem.Namespace != memory.NamespaceBlockers {
		return nil, memory.NewCaptureError("capture.resolve",
			"only blockers can be resolved",
			fmt.Errorf("memory %s has namespace %s", id, mem.Namespace))
	}

	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	mem.Content = mem.Content + "\n\n## Resolution\n\n" + strings.TrimRight(resolution, "\n")
	mem.Status = memory.StatusResolved

	note, err := notecodec.Format(notecodec.MetaFromMemory(mem), mem.Content)
	if err != nil {
		return nil, err
	}
	if err := s.log.Append(ctx, mem.Namespace, note, mem.CommitSHA); err != nil {
		return nil, err
	}

	if err := s.idx.Update(mem); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("Resolution indexed update failed")
	}

	s.logger.Info().Str("id", id).Msg("Blocker resolved")
	return mem, nil
}

// validate rejects bad input before the lock is even acquired.
func (s *Service) validate(req Request) error {
	if !memory.ValidNamespace(req.Namespace) {
		return memory.NewCaptureError("capture.validate",
			fmt.Sprintf("use one of: %v", memory.Namespaces()),
			fmt.Errorf("%w: %q", memory.ErrInvalidNamespace, req.Namespace))
	}
	if strings.TrimSpace(req.Summary) == "" {
		return memory.NewCaptureError("capture.validate",
			"provide a one-line summary", fmt.Errorf("summary is required"))
	}
	if utf8.RuneCountInString(req.Summary) > memory.MaxSummaryLen {
		return memory.NewCaptureError("capture.validate",
			fmt.Sprintf("shorten the summary to at most %d characters", memory.MaxSummaryLen),
			memory.ErrSummaryTooLong)
	}
	if strings.TrimSpace(req.Content) == "" {
		return memory.NewCaptureError("capture.validate",
			"provide note content", fmt.Errorf("content is required"))
	}
	if len(req.Content) > s.maxContentBytes {
		return memory.NewCaptureError("capture.validate",
			fmt.Sprintf("content is %d bytes, the ceiling is %d; split the capture", len(req.Content), s.maxContentBytes),
			memory.ErrContentTooLarge)
	}
	return nil
}

// MaxContentBytes reports the configured content ceiling.
func (s *Service) MaxContentBytes() int { return s.maxContentBytes }
