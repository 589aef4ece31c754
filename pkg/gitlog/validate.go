package gitlog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/engramhq/engram/pkg/memory"
)

// refPattern is the allow-list for commit references. Anything outside it is
// rejected before reaching a subprocess argument vector. Leading '-' is
// excluded so a reference can never be read as a flag.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._/~^@{}-]*$`)

// pathPattern is the allow-list for repository-relative file paths used in
// snapshot reads.
var pathPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// ValidateRef rejects commit references that could be interpreted as flags
// or carry shell or control metacharacters. The log backend is an external
// process, so this is part of the contract, not an implementation detail.
func ValidateRef(ref string) error {
	if ref == "" {
		return memory.NewStorageError("gitlog.validate",
			"pass a commit SHA, branch name, or HEAD",
			fmt.Errorf("%w: empty reference", memory.ErrInvalidRef))
	}
	if strings.HasPrefix(ref, "-") {
		return memory.NewStorageError("gitlog.validate",
			"commit references must not start with '-'",
			fmt.Errorf("%w: %q", memory.ErrInvalidRef, ref))
	}
	if strings.Contains(ref, "..") {
		return memory.NewStorageError("gitlog.validate",
			"ranges are not accepted; pass a single commit reference",
			fmt.Errorf("%w: %q", memory.ErrInvalidRef, ref))
	}
	if !refPattern.MatchString(ref) {
		return memory.NewStorageError("gitlog.validate",
			"commit references may only contain alphanumerics and ._/~^@{}-",
			fmt.Errorf("%w: %q", memory.ErrInvalidRef, ref))
	}
	return nil
}

// ValidateNamespace checks membership in the closed namespace set.
func ValidateNamespace(ns memory.Namespace) error {
	if !memory.ValidNamespace(ns) {
		return memory.NewStorageError("gitlog.validate",
			fmt.Sprintf("use one of: %v", memory.Namespaces()),
			fmt.Errorf("%w: %q", memory.ErrInvalidNamespace, ns))
	}
	return nil
}

// ValidatePath rejects repository paths with traversal segments or
// metacharacters.
func ValidatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "-") || strings.HasPrefix(path, "/") ||
		strings.Contains(path, "..") || !pathPattern.MatchString(path) {
		return memory.NewStorageError("gitlog.validate",
			"file paths must be repository-relative without '..' segments",
			fmt.Errorf("%w: path %q", memory.ErrInvalidRef, path))
	}
	return nil
}
