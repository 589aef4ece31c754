package memory

import (
	"fmt"
	"time"
)

// Namespace is a fixed category of memory. It partitions both the note log
// and the search index.
type Namespace string

const (
	NamespaceDecisions     Namespace = "decisions"
	NamespaceLearnings     Namespace = "learnings"
	NamespaceBlockers      Namespace = "blockers"
	NamespaceProgress      Namespace = "progress"
	NamespaceReviews       Namespace = "reviews"
	NamespaceRetrospective Namespace = "retrospective"
	NamespacePatterns      Namespace = "patterns"
	NamespaceResearch      Namespace = "research"
	NamespaceElicitation   Namespace = "elicitation"
	NamespaceInception     Namespace = "inception"
)

// allNamespaces is the closed namespace set. Order is stable for display.
var allNamespaces = []Namespace{
	NamespaceDecisions,
	NamespaceLearnings,
	NamespaceBlockers,
	NamespaceProgress,
	NamespaceReviews,
	NamespaceRetrospective,
	NamespacePatterns,
	NamespaceResearch,
	NamespaceElicitation,
	NamespaceInception,
}

// Namespaces returns the closed set of valid namespaces.
func Namespaces() []Namespace {
	out := make([]Namespace, len(allNamespaces))
	copy(out, allNamespaces)
	return out
}

// ValidNamespace reports whether ns is a member of the closed namespace set.
func ValidNamespace(ns Namespace) bool {
	for _, n := range allNamespaces {
		if n == ns {
			return true
		}
	}
	return false
}

const (
	// MaxSummaryLen bounds the one-line summary.
	MaxSummaryLen = 100

	// StatusUnresolved marks a blocker awaiting resolution.
	StatusUnresolved = "unresolved"
	// StatusResolved marks a blocker that has been resolved.
	StatusResolved = "resolved"
)

// Memory is the canonical record captured by the system. The note log holds
// its serialized form and is the source of truth; the index row derived from
// it is disposable.
type Memory struct {
	ID        string    `json:"id"`
	CommitSHA string    `json:"commit_sha"`
	Namespace Namespace `json:"namespace"`
	Spec      string    `json:"spec,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Status    string    `json:"status,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	RelatesTo []string  `json:"relates_to,omitempty"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MakeID derives the stable memory ID from namespace, short commit SHA and
// capture time. IDs are immutable once created.
func MakeID(ns Namespace, shortSHA string, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%d", ns, shortSHA, ts.UnixMilli())
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasMemoryFields is the capability interface shared by a plain Memory and
// a scored search result wrapping one.
type HasMemoryFields interface {
	GetMemory() *Memory
}

// GetMemory implements HasMemoryFields.
func (m *Memory) GetMemory() *Memory { return m }

// MemoryResult is a memory paired with its search distance. Lower distance
// means closer match.
type MemoryResult struct {
	Memory   *Memory `json:"memory"`
	Distance float64 `json:"distance"`

	// NoteBody and Snapshots are populated by progressive hydration.
	NoteBody  string            `json:"note_body,omitempty"`
	Snapshots map[string]string `json:"snapshots,omitempty"`
}

// GetMemory implements HasMemoryFields.
func (r *MemoryResult) GetMemory() *Memory { return r.Memory }

// CaptureStatus tags the outcome of a capture.
type CaptureStatus string

const (
	// CaptureSuccess means the note was written and indexed.
	CaptureSuccess CaptureStatus = "success"
	// CaptureWarning means the note was written but indexing failed; the
	// memory is durable and recoverable via a full reindex.
	CaptureWarning CaptureStatus = "success_with_warning"
	// CaptureFailure means nothing durable was written.
	CaptureFailure CaptureStatus = "failure"
)

// CaptureResult reports the outcome of a capture operation.
type CaptureResult struct {
	Status  CaptureStatus `json:"status"`
	Memory  *Memory       `json:"memory,omitempty"`
	Indexed bool          `json:"indexed"`
	Warning string        `json:"warning,omitempty"`
}
