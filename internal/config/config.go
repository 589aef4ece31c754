package config

import (
	"time"
)

// Config is the closed configuration surface. Every recognized option is
// enumerated here with an explicit default; unknown keys are a validation
// error, not silently carried dynamic state.
type Config struct {
	// RepoPath is the git repository whose commits memories attach to.
	RepoPath string `json:"repo_path" mapstructure:"repo_path"`

	// DataDir holds the index file and lock file.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// IndexPath overrides the default <data_dir>/index.db.
	IndexPath string `json:"index_path" mapstructure:"index_path"`

	// MaxContentBytes bounds note bodies.
	MaxContentBytes int `json:"max_content_bytes" mapstructure:"max_content_bytes"`

	// LockTimeoutMs bounds the wait for the capture lock.
	LockTimeoutMs int `json:"lock_timeout_ms" mapstructure:"lock_timeout_ms"`

	// GitTimeoutMs bounds each git subprocess invocation.
	GitTimeoutMs int `json:"git_timeout_ms" mapstructure:"git_timeout_ms"`

	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Search    SearchConfig    `json:"search" mapstructure:"search"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// EmbeddingConfig selects and parameterizes the embedding provider.
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // openai, mock
	Model     string `json:"model" mapstructure:"model"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
}

// SearchConfig parameterizes the optimizer.
type SearchConfig struct {
	CacheSize        int     `json:"cache_size" mapstructure:"cache_size"`
	CacheTTLSeconds  int     `json:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
	HalfLifeDays     float64 `json:"half_life_days" mapstructure:"half_life_days"`
	RecencyWeight    float64 `json:"recency_weight" mapstructure:"recency_weight"`
	NamespaceWeight  float64 `json:"namespace_weight" mapstructure:"namespace_weight"`
	SpecMatchWeight  float64 `json:"spec_match_weight" mapstructure:"spec_match_weight"`
	TagOverlapWeight float64 `json:"tag_overlap_weight" mapstructure:"tag_overlap_weight"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the defaults applied before any file or
// environment override.
func DefaultConfig() *Config {
	return &Config{
		RepoPath:        ".",
		MaxContentBytes: 64 * 1024,
		LockTimeoutMs:   10_000,
		GitTimeoutMs:    15_000,
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Search: SearchConfig{
			CacheSize:        128,
			CacheTTLSeconds:  300,
			HalfLifeDays:     30,
			RecencyWeight:    0.10,
			NamespaceWeight:  0.05,
			SpecMatchWeight:  0.10,
			TagOverlapWeight: 0.05,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// LockTimeout returns the lock wait as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// GitTimeout returns the git deadline as a duration.
func (c *Config) GitTimeout() time.Duration {
	return time.Duration(c.GitTimeoutMs) * time.Millisecond
}

// CacheTTL returns the search cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Search.CacheTTLSeconds) * time.Second
}

// HalfLife returns the recency half-life as a duration.
func (c *Config) HalfLife() time.Duration {
	return time.Duration(c.Search.HalfLifeDays * 24 * float64(time.Hour))
}
