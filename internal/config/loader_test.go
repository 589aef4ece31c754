package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"repo_path": "/tmp/repo",
		"lock_timeout_ms": 2000,
		"embedding": {"provider": "mock", "dimension": 64},
		"logging": {"level": "debug"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/repo", cfg.RepoPath)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout())
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimension)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 64*1024, cfg.MaxContentBytes)
	assert.Equal(t, 15*time.Second, cfg.GitTimeout())
	assert.Equal(t, 300*time.Second, cfg.CacheTTL())
}

func TestLoadDerivesPaths(t *testing.T) {
	path := writeConfig(t, `{
		"repo_path": ".",
		"data_dir": "/tmp/engram-data",
		"embedding": {"provider": "mock"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/tmp/engram-data", "index.db"), cfg.IndexPath)
	assert.Equal(t, filepath.Join("/tmp/engram-data", "capture.lock"), cfg.LockPath())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{
		"repo_path": ".",
		"repo_pathh": "typo",
		"embedding": {"provider": "mock"}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo_pathh")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "bad provider",
			content: `{"repo_path": ".", "embedding": {"provider": "cohere"}}`,
		},
		{
			name:    "openai without key",
			content: `{"repo_path": ".", "embedding": {"provider": "openai"}}`,
		},
		{
			name:    "negative timeout type",
			content: `{"repo_path": ".", "lock_timeout_ms": -5, "embedding": {"provider": "mock"}}`,
		},
		{
			name:    "bad log level",
			content: `{"repo_path": ".", "embedding": {"provider": "mock"}, "logging": {"level": "verbose"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidateRaw(t *testing.T) {
	assert.NoError(t, ValidateRaw([]byte(`{"repo_path": "."}`)))
	assert.Error(t, ValidateRaw([]byte(`{"unknown_key": 1}`)))
	assert.Error(t, ValidateRaw([]byte(`{"max_content_bytes": "lots"}`)))
}

func TestDefaultConfigIsInternallyConsistent(t *testing.T) {
	cfg := DefaultConfig()
	// The default provider needs a key; everything else about the defaults
	// must pass validation.
	cfg.Embedding.APIKey = "test-key"
	assert.Empty(t, Validate(cfg))
}

func TestHalfLife(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*24*time.Hour, cfg.HalfLife())

	cfg.Search.HalfLifeDays = 0.5
	assert.Equal(t, 12*time.Hour, cfg.HalfLife())
}

func TestMarshalForDisplayMasksKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "sk-secret"

	out, err := MarshalForDisplay(cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "********")

	// The original is untouched.
	assert.Equal(t, "sk-secret", cfg.Embedding.APIKey)
}
