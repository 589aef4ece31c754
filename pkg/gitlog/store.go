// Package gitlog wraps the append-only, commit-attached note log kept in
// git notes refs. It is the sole source of truth for memories; everything
// else in the system is derived from it and disposable.
package gitlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramhq/engram/pkg/memory"
)

// DefaultRefPrefix is where namespaces live under refs/notes. One namespace
// maps to one notes ref.
const DefaultRefPrefix = "refs/notes/engram"

// DefaultTimeout bounds every git subprocess invocation.
const DefaultTimeout = 15 * time.Second

// Entry is one note address: the note object plus the commit it annotates.
type Entry struct {
	NoteSHA   string
	CommitSHA string
}

// Store invokes git as a subprocess against one repository. Instances are
// safe for concurrent use; git itself serializes ref updates.
type Store struct {
	repoPath  string
	refPrefix string
	timeout   time.Duration
	logger    zerolog.Logger
}

// Config holds log store configuration.
type Config struct {
	RepoPath  string
	RefPrefix string        // defaults to DefaultRefPrefix
	Timeout   time.Duration // defaults to DefaultTimeout
	Logger    zerolog.Logger
}

// NewStore creates a log store rooted at the given repository path.
func NewStore(cfg Config) (*Store, error) {
	if cfg.RepoPath == "" {
		return nil, errors.New("repository path is required")
	}
	if cfg.RefPrefix == "" {
		cfg.RefPrefix = DefaultRefPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Store{
		repoPath:  cfg.RepoPath,
		refPrefix: cfg.RefPrefix,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}, nil
}

// Ref returns the notes ref backing a namespace.
func (s *Store) Ref(ns memory.Namespace) string {
	return s.refPrefix + "/" + string(ns)
}

// Append attaches content to the commit under the namespace ref. Git notes
// append concatenates, so racing writers never lose prior content.
func (s *Store) Append(ctx context.Context, ns memory.Namespace, content, commit string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if err := ValidateRef(commit); err != nil {
		return err
	}

	_, _, err := s.run(ctx, strings.NewReader(content),
		"notes", "--ref", s.Ref(ns), "append", "--allow-empty", "-F", "-", commit)
	if err != nil {
		return s.classify("gitlog.append", err)
	}

	s.logger.Debug().
		Str("namespace", string(ns)).
		Str("commit", commit).
		Int("bytes", len(content)).
		Msg("Note appended")
	return nil
}

// Show reads the note attached to the commit under the namespace ref. The
// second return is false when no note exists there.
func (s *Store) Show(ctx context.Context, ns memory.Namespace, commit string) (string, bool, error) {
	if err := ValidateNamespace(ns); err != nil {
		return "", false, err
	}
	if err := ValidateRef(commit); err != nil {
		return "", false, err
	}

	stdout, stderr, err := s.run(ctx, nil, "notes", "--ref", s.Ref(ns), "show", commit)
	if err != nil {
		if isNoNote(stderr) {
			return "", false, nil
		}
		return "", false, s.classify("gitlog.show", err)
	}
	return stdout, true, nil
}

// List enumerates every note under the namespace ref.
func (s *Store) List(ctx context.Context, ns memory.Namespace) ([]Entry, error) {
	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}

	stdout, stderr, err := s.run(ctx, nil, "notes", "--ref", s.Ref(ns), "list")
	if err != nil {
		// A ref that was never written to lists as empty, not as an error.
		if isMissingRef(stderr) {
			return nil, nil
		}
		return nil, s.classify("gitlog.list", err)
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		entries = append(entries, Entry{NoteSHA: fields[0], CommitSHA: fields[1]})
	}
	return entries, nil
}

// Remove deletes the note at the commit under the namespace ref. Returns
// false when no note existed. This only ever touches the notes ref; commit
// history is never rewritten.
func (s *Store) Remove(ctx context.Context, ns memory.Namespace, commit string) (bool, error) {
	if err := ValidateNamespace(ns); err != nil {
		return false, err
	}
	if err := ValidateRef(commit); err != nil {
		return false, err
	}

	_, stderr, err := s.run(ctx, nil, "notes", "--ref", s.Ref(ns), "remove", commit)
	if err != nil {
		if isNoNote(stderr) {
			return false, nil
		}
		return false, s.classify("gitlog.remove", err)
	}
	return true, nil
}

// ResolveCommit resolves a reference to its full and short SHA.
func (s *Store) ResolveCommit(ctx context.Context, ref string) (full, short string, err error) {
	if err := ValidateRef(ref); err != nil {
		return "", "", err
	}

	fullOut, _, err := s.run(ctx, nil, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", "", s.classify("gitlog.resolve", err)
	}
	shortOut, _, err := s.run(ctx, nil, "rev-parse", "--short", ref)
	if err != nil {
		return "", "", s.classify("gitlog.resolve", err)
	}
	return strings.TrimSpace(fullOut), strings.TrimSpace(shortOut), nil
}

// ShowFileAt reads one file's content as of a commit, for snapshot
// hydration.
func (s *Store) ShowFileAt(ctx context.Context, commit, path string) (string, error) {
	if err := ValidateRef(commit); err != nil {
		return "", err
	}
	if err := ValidatePath(path); err != nil {
		return "", err
	}

	stdout, _, err := s.run(ctx, nil, "show", commit+":"+path)
	if err != nil {
		return "", s.classify("gitlog.showfile", err)
	}
	return stdout, nil
}

// ChangedFiles lists the paths touched by a commit.
func (s *Store) ChangedFiles(ctx context.Context, commit string) ([]string, error) {
	if err := ValidateRef(commit); err != nil {
		return nil, err
	}

	stdout, _, err := s.run(ctx, nil, "diff-tree", "--no-commit-id", "--name-only", "-r", commit)
	if err != nil {
		return nil, s.classify("gitlog.changedfiles", err)
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// commandError carries the stderr of a failed git invocation for
// classification.
type commandError struct {
	err    error
	stderr string
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%v: %s", e.err, strings.TrimSpace(e.stderr))
}

func (e *commandError) Unwrap() error { return e.err }

// run executes one git subprocess with a bounded deadline.
func (s *Store) run(ctx context.Context, stdin *strings.Reader, args ...string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = s.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	s.logger.Trace().
		Strs("args", args).
		Dur("duration", duration).
		Msg("git invoked")

	if runCtx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), &commandError{err: memory.ErrGitTimeout, stderr: stderr.String()}
	}
	if err != nil {
		return stdout.String(), stderr.String(), &commandError{err: err, stderr: stderr.String()}
	}
	return stdout.String(), stderr.String(), nil
}

// classify maps a failed invocation onto the storage error taxonomy so every
// failure mode surfaces with a distinct recovery hint.
func (s *Store) classify(op string, err error) error {
	var cmdErr *commandError
	stderr := ""
	if errors.As(err, &cmdErr) {
		stderr = strings.ToLower(cmdErr.stderr)
	}

	switch {
	case errors.Is(err, memory.ErrGitTimeout):
		return memory.NewStorageError(op,
			"the git command exceeded its deadline; check for a hung process or raise git_timeout",
			memory.ErrGitTimeout)
	case strings.Contains(stderr, "not a git repository"):
		return memory.NewStorageError(op,
			"run inside a git repository, or point repo_path at one",
			memory.ErrNotARepository)
	case strings.Contains(stderr, "unknown revision") ||
		strings.Contains(stderr, "needed a single revision") ||
		strings.Contains(stderr, "bad default revision"):
		return memory.NewStorageError(op,
			"the repository has no commits yet; make an initial commit first",
			memory.ErrNoCommits)
	case strings.Contains(stderr, "permission denied"):
		return memory.NewStorageError(op,
			"the git object store is not writable; check file ownership and permissions",
			memory.ErrPermissionDenied)
	default:
		return memory.NewStorageError(op,
			"inspect the git error output and retry", err)
	}
}

// isNoNote reports whether stderr indicates an absent note rather than a
// failure.
func isNoNote(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "no note found") ||
		strings.Contains(lower, "object has no note")
}

// isMissingRef reports whether stderr indicates the notes ref was never
// created.
func isMissingRef(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "unknown revision") ||
		strings.Contains(lower, "not a valid ref")
}
