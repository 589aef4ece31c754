package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidNamespace(t *testing.T) {
	tests := []struct {
		name string
		ns   Namespace
		want bool
	}{
		{name: "decisions", ns: NamespaceDecisions, want: true},
		{name: "blockers", ns: NamespaceBlockers, want: true},
		{name: "inception", ns: NamespaceInception, want: true},
		{name: "unknown", ns: Namespace("scratch"), want: false},
		{name: "empty", ns: Namespace(""), want: false},
		{name: "case sensitive", ns: Namespace("Decisions"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidNamespace(tt.ns))
		})
	}
}

func TestNamespacesIsClosedSet(t *testing.T) {
	all := Namespaces()
	assert.Len(t, all, 10)

	// Mutating the returned slice must not affect the package copy.
	all[0] = Namespace("mutated")
	assert.Equal(t, NamespaceDecisions, Namespaces()[0])
}

func TestMakeID(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id := MakeID(NamespaceLearnings, "abc1234", ts)
	assert.Equal(t, "learnings:abc1234:1773480413000", id)

	// Same inputs always derive the same ID.
	assert.Equal(t, id, MakeID(NamespaceLearnings, "abc1234", ts))

	// Millisecond precision is part of the identity.
	later := ts.Add(time.Millisecond)
	assert.NotEqual(t, id, MakeID(NamespaceLearnings, "abc1234", later))
}

func TestHasTag(t *testing.T) {
	m := &Memory{Tags: []string{"auth", "jwt"}}
	assert.True(t, m.HasTag("jwt"))
	assert.False(t, m.HasTag("oauth"))

	var empty Memory
	assert.False(t, empty.HasTag("anything"))
}

func TestGetMemory(t *testing.T) {
	m := &Memory{ID: "decisions:abc:1"}
	assert.Same(t, m, m.GetMemory())

	r := &MemoryResult{Memory: m, Distance: 0.25}
	assert.Same(t, m, r.GetMemory())
}
