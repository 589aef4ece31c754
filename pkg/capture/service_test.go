package capture

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/pkg/embedding"
	"github.com/engramhq/engram/pkg/gitlog"
	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/notecodec"
)

const testDimension = 8

type testEnv struct {
	repo    string
	log     *gitlog.Store
	idx     *index.Store
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repo := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")

	log, err := gitlog.NewStore(gitlog.Config{RepoPath: repo, Logger: zerolog.Nop()})
	require.NoError(t, err)

	idx, err := index.NewStore(index.Config{
		Path:      filepath.Join(t.TempDir(), "index.db"),
		Dimension: testDimension,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	lock := NewLock(filepath.Join(t.TempDir(), "capture.lock"), time.Second, zerolog.Nop())

	service, err := NewService(Config{
		Log:      log,
		Index:    idx,
		Embedder: embedding.NewMockProvider(testDimension),
		Lock:     lock,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testEnv{repo: repo, log: log, idx: idx, service: service}
}

func validRequest() Request {
	return Request{
		Namespace: memory.NamespaceDecisions,
		Summary:   "Chose JWT over session cookies",
		Content:   "## Decision\n\nJWT keeps the gateway stateless.",
		Spec:      "auth-service",
		Tags:      []string{"auth"},
	}
}

func TestCaptureSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.service.Capture(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, memory.CaptureSuccess, result.Status)
	assert.True(t, result.Indexed)
	require.NotNil(t, result.Memory)
	assert.NotEmpty(t, result.Memory.ID)
	assert.Len(t, result.Memory.CommitSHA, 40)

	// The note is in the log.
	text, found, err := env.log.Show(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, text, "Chose JWT over session cookies")

	// The row is in the index under the derived ID.
	got, err := env.idx.Get(result.Memory.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, result.Memory.Summary, got.Summary)
}

func TestCaptureNoteParsesBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.service.Capture(ctx, validRequest())
	require.NoError(t, err)

	text, found, err := env.log.Show(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	require.True(t, found)

	metas, bodies, err := notecodec.ParseMulti(text)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "decisions", metas[0].Type)
	assert.Equal(t, result.Memory.Content, bodies[0])

	// The ID derived from the parsed note matches the capture result.
	_, short, err := env.log.ResolveCommit(ctx, "HEAD")
	require.NoError(t, err)
	rebuilt := notecodec.MemoryFromNote(metas[0], bodies[0], short, result.Memory.CommitSHA)
	assert.Equal(t, result.Memory.ID, rebuilt.ID)
}

func TestCaptureValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{
			name:   "invalid namespace",
			mutate: func(r *Request) { r.Namespace = "scratch" },
			want:   memory.ErrInvalidNamespace,
		},
		{
			name:   "summary too long",
			mutate: func(r *Request) { r.Summary = strings.Repeat("x", memory.MaxSummaryLen+1) },
			want:   memory.ErrSummaryTooLong,
		},
		{
			name:   "multibyte summary too long",
			mutate: func(r *Request) { r.Summary = strings.Repeat("日", memory.MaxSummaryLen+1) },
			want:   memory.ErrSummaryTooLong,
		},
		{
			name:   "content too large",
			mutate: func(r *Request) { r.Content = strings.Repeat("x", DefaultMaxContentBytes+1) },
			want:   memory.ErrContentTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := env.service.Capture(ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.NotEmpty(t, memory.HintOf(err))
		})
	}

	// Nothing durable was written by any rejected capture.
	_, found, err := env.log.Show(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCaptureMultibyteSummaryAtCeiling(t *testing.T) {
	// The summary bound counts characters, so a ceiling-length CJK summary
	// is valid even though it is three bytes per character.
	env := newTestEnv(t)
	req := validRequest()
	req.Summary = strings.Repeat("日", memory.MaxSummaryLen)

	result, err := env.service.Capture(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, memory.CaptureSuccess, result.Status)
	assert.Equal(t, req.Summary, result.Memory.Summary)
}

func TestCaptureContentAtExactCeiling(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	req.Content = strings.Repeat("x", DefaultMaxContentBytes)

	result, err := env.service.Capture(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, memory.CaptureSuccess, result.Status)
}

func TestCaptureEmptySummaryAndContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := validRequest()
	req.Summary = "   "
	_, err := env.service.Capture(ctx, req)
	assert.Error(t, err)

	req = validRequest()
	req.Content = "\n\n"
	_, err = env.service.Capture(ctx, req)
	assert.Error(t, err)
}

func TestCaptureDowngradesOnIndexFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Closing the index makes the post-append insert fail.
	require.NoError(t, env.idx.Close())

	result, err := env.service.Capture(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, memory.CaptureWarning, result.Status)
	assert.False(t, result.Indexed)
	assert.Contains(t, result.Warning, "sync reindex")

	// The note is durable regardless.
	text, found, showErr := env.log.Show(ctx, memory.NamespaceDecisions, "HEAD")
	require.NoError(t, showErr)
	require.True(t, found)
	assert.Contains(t, text, "Chose JWT")
}

func TestCaptureDowngradesOnEmbedFailure(t *testing.T) {
	env := newTestEnv(t)

	lock := NewLock(filepath.Join(t.TempDir(), "capture.lock"), time.Second, zerolog.Nop())
	service, err := NewService(Config{
		Log:      env.log,
		Index:    env.idx,
		Embedder: failingEmbedder{},
		Lock:     lock,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	result, err := service.Capture(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, memory.CaptureWarning, result.Status)
	assert.Contains(t, result.Warning, "embedding failed")
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("model unavailable")
}

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func (failingEmbedder) Dimension() int { return testDimension }

func TestResolveBlocker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := validRequest()
	req.Namespace = memory.NamespaceBlockers
	req.Summary = "CI pipeline flaking on integration tests"
	req.Content = "The pipeline fails intermittently."
	req.Status = memory.StatusUnresolved

	result, err := env.service.Capture(ctx, req)
	require.NoError(t, err)

	resolved, err := env.service.ResolveBlocker(ctx, result.Memory.ID, "Pinned the runner image.")
	require.NoError(t, err)
	assert.Equal(t, memory.StatusResolved, resolved.Status)
	assert.Equal(t, result.Memory.ID, resolved.ID)
	assert.Contains(t, resolved.Content, "## Resolution")
	assert.Contains(t, resolved.Content, "Pinned the runner image.")

	// The index reflects the resolution.
	got, err := env.idx.Get(result.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.StatusResolved, got.Status)

	// The log carries both documents; the later one wins on rebuild.
	text, found, err := env.log.Show(ctx, memory.NamespaceBlockers, "HEAD")
	require.NoError(t, err)
	require.True(t, found)
	metas, _, err := notecodec.ParseMulti(text)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, memory.StatusResolved, metas[1].Status)
}

func TestResolveBlockerRejectsNonBlocker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.service.Capture(ctx, validRequest())
	require.NoError(t, err)

	_, err = env.service.ResolveBlocker(ctx, result.Memory.ID, "not applicable")
	require.Error(t, err)
	assert.Equal(t, memory.CategoryCapture, memory.CategoryOf(err))
}

func TestResolveBlockerUnknownID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.ResolveBlocker(context.Background(), "blockers:missing:1", "fix")
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}
