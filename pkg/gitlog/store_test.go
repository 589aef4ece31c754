package gitlog

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/pkg/memory"
)

// newTestRepo creates a throwaway repository with one commit and returns its
// path. Tests that need git skip when it is not installed.
func newTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")
	return dir
}

func newTestStore(t *testing.T, repoPath string) *Store {
	t.Helper()
	store, err := NewStore(Config{RepoPath: repoPath, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return store
}

func TestNewStoreRequiresRepoPath(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)
}

func TestAppendAndShow(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	_, found, err := store.Show(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Append(ctx, memory.NamespaceDecisions, "first note\n", "HEAD"))

	text, found, err := store.Show(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, text, "first note")
}

func TestAppendConcatenates(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, memory.NamespaceProgress, "first\n", "HEAD"))
	require.NoError(t, store.Append(ctx, memory.NamespaceProgress, "second\n", "HEAD"))

	text, found, err := store.Show(ctx, memory.NamespaceProgress, "HEAD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, text, "first")
	assert.Contains(t, text, "second")
}

func TestNamespacesAreIsolated(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, memory.NamespaceDecisions, "a decision\n", "HEAD"))

	_, found, err := store.Show(ctx, memory.NamespaceLearnings, "HEAD")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestList(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	entries, err := store.List(ctx, memory.NamespaceDecisions)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.Append(ctx, memory.NamespaceDecisions, "note\n", "HEAD"))

	entries, err = store.List(ctx, memory.NamespaceDecisions)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	full, _, err := store.ResolveCommit(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, full, entries[0].CommitSHA)
}

func TestRemove(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	removed, err := store.Remove(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, store.Append(ctx, memory.NamespaceDecisions, "note\n", "HEAD"))

	removed, err = store.Remove(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := store.Show(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveCommit(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	full, short, err := store.ResolveCommit(ctx, "HEAD")
	require.NoError(t, err)
	assert.Len(t, full, 40)
	assert.True(t, len(short) >= 7)
	assert.Equal(t, short, full[:len(short)])
}

func TestResolveCommitNoCommits(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	store := newTestStore(t, dir)
	_, _, err := store.ResolveCommit(context.Background(), "HEAD")
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrNoCommits)
	assert.NotEmpty(t, memory.HintOf(err))
}

func TestNotARepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	store := newTestStore(t, t.TempDir())

	err := store.Append(context.Background(), memory.NamespaceDecisions, "note\n", "HEAD")
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrNotARepository)
	assert.Equal(t, memory.CategoryStorage, memory.CategoryOf(err))
}

func TestChangedFilesAndShowFileAt(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	paths, err := store.ChangedFiles(ctx, "HEAD")
	require.NoError(t, err)
	require.Contains(t, paths, "README.md")

	content, err := store.ShowFileAt(ctx, "HEAD", "README.md")
	require.NoError(t, err)
	assert.Equal(t, "# test\n", content)
}

func TestInvalidArgumentsNeverReachGit(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	err := store.Append(ctx, "scratch", "note\n", "HEAD")
	assert.ErrorIs(t, err, memory.ErrInvalidNamespace)

	err = store.Append(ctx, memory.NamespaceDecisions, "note\n", "--exec=/bin/sh")
	assert.ErrorIs(t, err, memory.ErrInvalidRef)

	_, err = store.ShowFileAt(ctx, "HEAD", "../outside")
	assert.ErrorIs(t, err, memory.ErrInvalidRef)
}
