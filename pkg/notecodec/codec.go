// Package notecodec serializes memories to and from their log-resident note
// form: a YAML front matter header between "---" delimiters followed by a
// free-form body. Both directions are pure; parsing fails closed.
package notecodec

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/engramhq/engram/pkg/memory"
)

const delimiter = "---"

var (
	// ErrMissingFrontMatter is returned when the note does not begin with a
	// front matter block.
	ErrMissingFrontMatter = errors.New("missing front matter delimiter")

	// ErrUnterminatedFrontMatter is returned when the front matter block is
	// never closed.
	ErrUnterminatedFrontMatter = errors.New("unterminated front matter block")

	// ErrMissingField is returned when a required header field is absent.
	ErrMissingField = errors.New("missing required header field")

	// ErrBadTimestamp is returned when the timestamp field is not a valid
	// RFC 3339 instant.
	ErrBadTimestamp = errors.New("timestamp is not a valid RFC 3339 instant")
)

// NoteMeta is the structured header of a note. Type, Timestamp and Summary
// are required; Spec is written even when empty so a global memory is
// distinguishable from a truncated header.
type NoteMeta struct {
	Type      string    `yaml:"type"`
	Spec      string    `yaml:"spec"`
	Timestamp time.Time `yaml:"-"`
	Summary   string    `yaml:"summary"`
	Phase     string    `yaml:"phase,omitempty"`
	Status    string    `yaml:"status,omitempty"`
	Tags      []string  `yaml:"tags,omitempty"`
	RelatesTo []string  `yaml:"relates_to,omitempty"`
}

// wireMeta is the YAML shape. Timestamps travel as RFC 3339 strings so that
// parse failures are explicit rather than whatever the YAML library guesses.
type wireMeta struct {
	Type      string   `yaml:"type"`
	Spec      string   `yaml:"spec"`
	Timestamp string   `yaml:"timestamp"`
	Summary   string   `yaml:"summary"`
	Phase     string   `yaml:"phase,omitempty"`
	Status    string   `yaml:"status,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
	RelatesTo []string `yaml:"relates_to,omitempty"`
}

// Format renders a note from header metadata and a body.
func Format(meta NoteMeta, body string) (string, error) {
	if meta.Type == "" {
		return "", memory.NewParseError("notecodec.format",
			"set the note type to one of the closed namespace set",
			fmt.Errorf("%w: type", ErrMissingField))
	}
	if meta.Summary == "" {
		return "", memory.NewParseError("notecodec.format",
			"provide a one-line summary", fmt.Errorf("%w: summary", ErrMissingField))
	}
	if utf8.RuneCountInString(meta.Summary) > memory.MaxSummaryLen {
		return "", memory.NewParseError("notecodec.format",
			fmt.Sprintf("shorten the summary to at most %d characters", memory.MaxSummaryLen),
			memory.ErrSummaryTooLong)
	}
	if meta.Timestamp.IsZero() {
		return "", memory.NewParseError("notecodec.format",
			"set the capture timestamp", fmt.Errorf("%w: timestamp", ErrMissingField))
	}

	wire := wireMeta{
		Type:      meta.Type,
		Spec:      meta.Spec,
		Timestamp: meta.Timestamp.Format(time.RFC3339Nano),
		Summary:   meta.Summary,
		Phase:     meta.Phase,
		Status:    meta.Status,
		Tags:      meta.Tags,
		RelatesTo: meta.RelatesTo,
	}

	yamlBytes, err := yaml.Marshal(&wire)
	if err != nil {
		return "", memory.NewParseError("notecodec.format",
			"check header fields for unserializable values", err)
	}

	var sb strings.Builder
	sb.WriteString(delimiter + "\n")
	sb.Write(yamlBytes)
	sb.WriteString(delimiter + "\n\n")
	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Parse decodes a single note. Missing or malformed headers are hard errors,
// never best-effort guesses.
func Parse(text string) (NoteMeta, string, error) {
	meta, body, rest, err := parseOne(text)
	if err != nil {
		return NoteMeta{}, "", err
	}
	// Trailing documents are the concatenation case; callers that expect
	// them use ParseMulti. A single Parse returns just the first document.
	_ = rest
	return meta, body, nil
}

// ParseMulti decodes a note blob that may hold several concatenated
// documents, as produced by repeated appends to the same commit. Documents
// are returned in log order.
func ParseMulti(text string) ([]NoteMeta, []string, error) {
	var metas []NoteMeta
	var bodies []string

	rest := text
	for strings.TrimSpace(rest) != "" {
		meta, body, next, err := parseOne(rest)
		if err != nil {
			return nil, nil, err
		}
		metas = append(metas, meta)
		bodies = append(bodies, body)
		rest = next
	}
	if len(metas) == 0 {
		return nil, nil, memory.NewParseError("notecodec.parse",
			"the note is empty; remove it or re-capture", ErrMissingFrontMatter)
	}
	return metas, bodies, nil
}

// parseOne consumes one document from text and returns the remainder
// starting at the next document, or "" when none follows.
func parseOne(text string) (NoteMeta, string, string, error) {
	trimmed := strings.TrimLeft(text, "\n")
	if !strings.HasPrefix(trimmed, delimiter+"\n") {
		return NoteMeta{}, "", "", memory.NewParseError("notecodec.parse",
			"the note must begin with a '---' front matter block; re-capture or repair the note by hand",
			ErrMissingFrontMatter)
	}

	headerStart := len(delimiter) + 1
	end := strings.Index(trimmed[headerStart:], "\n"+delimiter)
	if end == -1 {
		return NoteMeta{}, "", "", memory.NewParseError("notecodec.parse",
			"close the front matter block with a '---' line", ErrUnterminatedFrontMatter)
	}
	yamlBlock := trimmed[headerStart : headerStart+end]

	afterHeader := trimmed[headerStart+end+1+len(delimiter):]
	afterHeader = strings.TrimPrefix(afterHeader, "\n")
	afterHeader = strings.TrimPrefix(afterHeader, "\n")

	body, rest := splitBody(afterHeader)

	var wire wireMeta
	if err := yaml.Unmarshal([]byte(yamlBlock), &wire); err != nil {
		return NoteMeta{}, "", "", memory.NewParseError("notecodec.parse",
			"the front matter is not a valid YAML mapping; repair the note by hand", err)
	}
	meta, err := fromWire(wire)
	if err != nil {
		return NoteMeta{}, "", "", err
	}
	return meta, body, rest, nil
}

// splitBody ends the body at the first line that starts a new valid
// document. A '---' line inside the body only terminates it when what
// follows parses as a header with the required fields, so stray rules in
// prose do not truncate notes.
func splitBody(text string) (body, rest string) {
	offset := 0
	for {
		idx := strings.Index(text[offset:], "\n"+delimiter+"\n")
		if idx == -1 {
			return strings.TrimRight(text, "\n"), ""
		}
		candidate := offset + idx + 1
		if looksLikeDocumentStart(text[candidate:]) {
			return strings.TrimRight(text[:candidate], "\n"), text[candidate:]
		}
		offset = candidate + len(delimiter)
	}
}

// looksLikeDocumentStart reports whether text begins a document whose header
// block is a YAML mapping containing the required type field.
func looksLikeDocumentStart(text string) bool {
	if !strings.HasPrefix(text, delimiter+"\n") {
		return false
	}
	headerStart := len(delimiter) + 1
	end := strings.Index(text[headerStart:], "\n"+delimiter)
	if end == -1 {
		return false
	}
	var wire wireMeta
	if err := yaml.Unmarshal([]byte(text[headerStart:headerStart+end]), &wire); err != nil {
		return false
	}
	return wire.Type != "" && wire.Timestamp != "" && wire.Summary != ""
}

func fromWire(wire wireMeta) (NoteMeta, error) {
	if wire.Type == "" {
		return NoteMeta{}, memory.NewParseError("notecodec.parse",
			"add a 'type' field to the note header", fmt.Errorf("%w: type", ErrMissingField))
	}
	if wire.Summary == "" {
		return NoteMeta{}, memory.NewParseError("notecodec.parse",
			"add a 'summary' field to the note header", fmt.Errorf("%w: summary", ErrMissingField))
	}
	if wire.Timestamp == "" {
		return NoteMeta{}, memory.NewParseError("notecodec.parse",
			"add a 'timestamp' field to the note header", fmt.Errorf("%w: timestamp", ErrMissingField))
	}
	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return NoteMeta{}, memory.NewParseError("notecodec.parse",
			"rewrite the timestamp as an RFC 3339 instant, e.g. 2026-01-02T15:04:05Z",
			fmt.Errorf("%w: %v", ErrBadTimestamp, err))
	}
	return NoteMeta{
		Type:      wire.Type,
		Spec:      wire.Spec,
		Timestamp: ts,
		Summary:   wire.Summary,
		Phase:     wire.Phase,
		Status:    wire.Status,
		Tags:      wire.Tags,
		RelatesTo: wire.RelatesTo,
	}, nil
}

// MetaFromMemory projects a memory onto its note header.
func MetaFromMemory(m *memory.Memory) NoteMeta {
	return NoteMeta{
		Type:      string(m.Namespace),
		Spec:      m.Spec,
		Timestamp: m.Timestamp,
		Summary:   m.Summary,
		Phase:     m.Phase,
		Status:    m.Status,
		Tags:      m.Tags,
		RelatesTo: m.RelatesTo,
	}
}

// MemoryFromNote rebuilds a memory from a parsed note plus the log address
// it was read from.
func MemoryFromNote(meta NoteMeta, body, shortSHA, fullSHA string) *memory.Memory {
	ns := memory.Namespace(meta.Type)
	return &memory.Memory{
		ID:        memory.MakeID(ns, shortSHA, meta.Timestamp),
		CommitSHA: fullSHA,
		Namespace: ns,
		Spec:      meta.Spec,
		Phase:     meta.Phase,
		Status:    meta.Status,
		Tags:      meta.Tags,
		RelatesTo: meta.RelatesTo,
		Summary:   meta.Summary,
		Content:   body,
		Timestamp: meta.Timestamp,
	}
}
