package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/pkg/memory"
)

const testDimension = 4

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Path:      filepath.Join(t.TempDir(), "index.db"),
		Dimension: testDimension,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testMemory(id string, ns memory.Namespace) *memory.Memory {
	return &memory.Memory{
		ID:        id,
		CommitSHA: "abc1234def5678abc1234def5678abc1234def56",
		Namespace: ns,
		Spec:      "auth-service",
		Summary:   "a test memory",
		Content:   "test content",
		Tags:      []string{"test"},
		Timestamp: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(Config{Dimension: 4})
	assert.Error(t, err)

	_, err = NewStore(Config{Path: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	m := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)

	require.NoError(t, store.Insert(m, []float32{1, 0, 0, 0}))

	got, err := store.Get(m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Namespace, got.Namespace)
	assert.Equal(t, m.Tags, got.Tags)
	assert.True(t, m.Timestamp.Equal(got.Timestamp))
}

func TestGetAbsent(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get("decisions:missing:1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertIsUpsert(t *testing.T) {
	store := newTestStore(t)
	m := testMemory("blockers:abc1234:1", memory.NamespaceBlockers)
	m.Status = memory.StatusUnresolved
	require.NoError(t, store.Insert(m, []float32{1, 0, 0, 0}))

	m.Status = memory.StatusResolved
	require.NoError(t, store.Insert(m, []float32{1, 0, 0, 0}))

	got, err := store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusResolved, got.Status)

	ids, err := store.AllIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	m := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)

	err := store.Insert(m, []float32{1, 0})
	require.Error(t, err)
	assert.Equal(t, memory.CategoryIndex, memory.CategoryOf(err))
	assert.Contains(t, memory.HintOf(err), "rebuild")
}

func TestSearchVectorOrdering(t *testing.T) {
	store := newTestStore(t)

	a := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)
	b := testMemory("decisions:abc1234:2", memory.NamespaceDecisions)
	require.NoError(t, store.Insert(a, []float32{1, 0, 0, 0}))
	require.NoError(t, store.Insert(b, []float32{0, 1, 0, 0}))

	matches, err := store.SearchVector([]float32{1, 0.1, 0, 0}, Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, a.ID, matches[0].ID)
	assert.LessOrEqual(t, matches[0].Distance, matches[1].Distance)
}

func TestSearchVectorFilters(t *testing.T) {
	store := newTestStore(t)

	dec := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)
	learn := testMemory("learnings:abc1234:2", memory.NamespaceLearnings)
	learn.Spec = "billing"
	learn.Timestamp = dec.Timestamp.Add(48 * time.Hour)
	require.NoError(t, store.Insert(dec, []float32{1, 0, 0, 0}))
	require.NoError(t, store.Insert(learn, []float32{1, 0, 0, 0}))

	query := []float32{1, 0, 0, 0}

	matches, err := store.SearchVector(query, Filters{Namespace: memory.NamespaceDecisions}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, dec.ID, matches[0].ID)

	matches, err = store.SearchVector(query, Filters{Spec: "billing"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, learn.ID, matches[0].ID)

	matches, err = store.SearchVector(query, Filters{Since: dec.Timestamp.Add(time.Hour)}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, learn.ID, matches[0].ID)

	matches, err = store.SearchVector(query, Filters{Until: dec.Timestamp.Add(time.Hour)}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, dec.ID, matches[0].ID)
}

func TestSearchVectorLimitAppliesAfterFilter(t *testing.T) {
	store := newTestStore(t)

	// Two close decisions and one very close learning; a namespace-filtered
	// search with limit 2 must return both decisions, not lose one to the
	// learning's better raw score.
	d1 := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)
	d2 := testMemory("decisions:abc1234:2", memory.NamespaceDecisions)
	l1 := testMemory("learnings:abc1234:3", memory.NamespaceLearnings)
	require.NoError(t, store.Insert(d1, []float32{0.9, 0.1, 0, 0}))
	require.NoError(t, store.Insert(d2, []float32{0.8, 0.2, 0, 0}))
	require.NoError(t, store.Insert(l1, []float32{1, 0, 0, 0}))

	matches, err := store.SearchVector([]float32{1, 0, 0, 0}, Filters{Namespace: memory.NamespaceDecisions}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.NotEqual(t, l1.ID, m.ID)
	}
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	m := testMemory("blockers:abc1234:1", memory.NamespaceBlockers)
	require.NoError(t, store.Insert(m, []float32{1, 0, 0, 0}))

	m.Status = memory.StatusResolved
	require.NoError(t, store.Update(m))

	got, err := store.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusResolved, got.Status)

	missing := testMemory("blockers:missing:1", memory.NamespaceBlockers)
	err = store.Update(missing)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	m := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)
	require.NoError(t, store.Insert(m, []float32{1, 0, 0, 0}))

	removed, err := store.Delete(m.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(m.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGetBatch(t *testing.T) {
	store := newTestStore(t)
	a := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)
	b := testMemory("decisions:abc1234:2", memory.NamespaceDecisions)
	require.NoError(t, store.Insert(a, []float32{1, 0, 0, 0}))
	require.NoError(t, store.Insert(b, []float32{0, 1, 0, 0}))

	got, err := store.GetBatch([]string{a.ID, b.ID, "decisions:missing:9"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	empty, err := store.GetBatch(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClearAndStats(t *testing.T) {
	store := newTestStore(t)
	a := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)
	b := testMemory("learnings:abc1234:2", memory.NamespaceLearnings)
	require.NoError(t, store.Insert(a, []float32{1, 0, 0, 0}))
	require.NoError(t, store.Insert(b, []float32{0, 1, 0, 0}))

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByNamespace[memory.NamespaceDecisions])
	assert.Equal(t, 2, stats.BySpec["auth-service"])
	assert.False(t, stats.LastWrite.IsZero())

	require.NoError(t, store.Clear())
	stats, err = store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	store, err := NewStore(Config{Path: path, Dimension: testDimension, Logger: zerolog.Nop()})
	require.NoError(t, err)
	m := testMemory("decisions:abc1234:1", memory.NamespaceDecisions)
	require.NoError(t, store.Insert(m, []float32{1, 0, 0, 0}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(Config{Path: path, Dimension: testDimension, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Summary, got.Summary)
}
