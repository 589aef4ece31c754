package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema rejects unknown keys and type mismatches before the struct
// level checks run.
const configSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"repo_path": {"type": "string"},
		"data_dir": {"type": "string"},
		"index_path": {"type": "string"},
		"max_content_bytes": {"type": "integer", "minimum": 1},
		"lock_timeout_ms": {"type": "integer", "minimum": 1},
		"git_timeout_ms": {"type": "integer", "minimum": 1},
		"embedding": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"provider": {"type": "string", "enum": ["openai", "mock"]},
				"model": {"type": "string"},
				"api_key": {"type": "string"},
				"dimension": {"type": "integer", "minimum": 1}
			}
		},
		"search": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"cache_size": {"type": "integer", "minimum": 1},
				"cache_ttl_seconds": {"type": "integer", "minimum": 1},
				"half_life_days": {"type": "number", "exclusiveMinimum": 0},
				"recency_weight": {"type": "number", "minimum": 0},
				"namespace_weight": {"type": "number", "minimum": 0},
				"spec_match_weight": {"type": "number", "minimum": 0},
				"tag_overlap_weight": {"type": "number", "minimum": 0}
			}
		},
		"logging": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"level": {"type": "string"},
				"file": {"type": "string"},
				"console": {"type": "boolean"},
				"pretty": {"type": "boolean"}
			}
		}
	}
}`

// ValidateRaw checks raw config JSON against the schema, so typos in keys
// fail loudly instead of being ignored.
func ValidateRaw(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Validate performs struct-level validation after defaults are applied.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.RepoPath == "" {
		errs = append(errs, fmt.Errorf("repo_path is required"))
	}
	if cfg.MaxContentBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_content_bytes must be positive"))
	}
	if cfg.LockTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("lock_timeout_ms must be positive"))
	}
	if cfg.GitTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("git_timeout_ms must be positive"))
	}

	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			errs = append(errs, fmt.Errorf("embedding.api_key is required for the openai provider"))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("invalid embedding provider: %s (must be openai or mock)", cfg.Embedding.Provider))
	}
	if cfg.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive"))
	}

	if err := validateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func validateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// MarshalForDisplay renders the config with the API key masked.
func MarshalForDisplay(cfg *Config) (string, error) {
	display := *cfg
	if display.Embedding.APIKey != "" {
		display.Embedding.APIKey = "********"
	}
	out, err := json.MarshalIndent(&display, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
