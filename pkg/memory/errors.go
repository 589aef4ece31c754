package memory

import (
	"errors"
	"fmt"
)

// Category classifies an error for machine handling. Every error surfaced by
// the system carries one, plus a human recovery hint.
type Category string

const (
	CategoryStorage   Category = "storage"
	CategoryIndex     Category = "index"
	CategoryEmbedding Category = "embedding"
	CategoryParse     Category = "parse"
	CategoryCapture   Category = "capture"
)

// Error is the domain error type. Hint is a concrete recovery action and is
// always set; errors without guidance are not allowed to escape the system.
type Error struct {
	Category Category
	Op       string
	Hint     string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v (hint: %s)", e.Category, e.Op, e.Err, e.Hint)
	}
	return fmt.Sprintf("%s: %s (hint: %s)", e.Category, e.Op, e.Hint)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a domain error with an explicit category and recovery hint.
func NewError(cat Category, op, hint string, err error) *Error {
	if hint == "" {
		hint = "re-run with --log-level debug and inspect the underlying error"
	}
	return &Error{Category: cat, Op: op, Hint: hint, Err: err}
}

func NewStorageError(op, hint string, err error) *Error {
	return NewError(CategoryStorage, op, hint, err)
}

func NewIndexError(op, hint string, err error) *Error {
	return NewError(CategoryIndex, op, hint, err)
}

func NewEmbeddingError(op, hint string, err error) *Error {
	return NewError(CategoryEmbedding, op, hint, err)
}

func NewParseError(op, hint string, err error) *Error {
	return NewError(CategoryParse, op, hint, err)
}

func NewCaptureError(op, hint string, err error) *Error {
	return NewError(CategoryCapture, op, hint, err)
}

// CategoryOf extracts the category from err, or empty if err is not a
// domain error.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// HintOf extracts the recovery hint from err, or empty.
func HintOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Hint
	}
	return ""
}

var (
	// ErrLockTimeout is returned when the capture lock cannot be acquired
	// within the configured wait. Retryable.
	ErrLockTimeout = errors.New("timed out waiting for capture lock")

	// ErrNotARepository is returned when the working directory is not inside
	// a git repository.
	ErrNotARepository = errors.New("not a git repository")

	// ErrNoCommits is returned when the repository has no commits yet.
	ErrNoCommits = errors.New("repository has no commits")

	// ErrPermissionDenied is returned when the git object store is not
	// writable by the current user.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrGitTimeout is returned when a git subprocess exceeds its deadline.
	ErrGitTimeout = errors.New("git command timed out")

	// ErrInvalidNamespace is returned for a namespace outside the closed set.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidRef is returned for a commit reference that fails the
	// argument allow-list.
	ErrInvalidRef = errors.New("invalid commit reference")

	// ErrNotFound is returned when a memory ID resolves to nothing.
	ErrNotFound = errors.New("memory not found")

	// ErrEmptyText is returned when empty text is passed to the embedder.
	ErrEmptyText = errors.New("cannot embed empty text")

	// ErrContentTooLarge is returned when content exceeds the configured
	// ceiling.
	ErrContentTooLarge = errors.New("content exceeds maximum size")

	// ErrSummaryTooLong is returned when a summary exceeds MaxSummaryLen.
	ErrSummaryTooLong = errors.New("summary exceeds maximum length")
)
