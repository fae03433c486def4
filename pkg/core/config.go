package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IndexType selects the vector index strategy at construction time.
type IndexType int

const (
	// IndexTypeFlat is an exact brute-force scan. Default.
	IndexTypeFlat IndexType = iota
	// IndexTypeHNSW is an approximate graph index for large stores.
	IndexTypeHNSW
)

// Config holds the engine's construction-time options. There is no
// process-wide default; callers build a Config (usually starting from
// DefaultConfig) and pass it explicitly.
type Config struct {
	// BasePath is the root directory for all durable state. A leading ~ is
	// expanded to the user's home directory.
	BasePath string `json:"basePath"`

	// EnableLongTerm toggles the durable record store. The retrieval engine
	// requires it; disabling it is rejected at construction.
	EnableLongTerm bool `json:"enableLongTerm"`

	// EnableVector toggles the vector index and with it semantic search and
	// merge-on-write. When disabled the engine is keyword-only.
	EnableVector bool `json:"enableVector"`

	// EmbeddingDim is the fixed vector dimension of the index. Must match
	// the configured embedder's output exactly.
	EmbeddingDim int `json:"embeddingDim"`

	// IndexType selects the vector index strategy.
	IndexType IndexType `json:"indexType"`

	// MergeThreshold is the minimum cosine similarity at which an add is
	// treated as an update to an existing record.
	MergeThreshold float64 `json:"mergeThreshold"`

	// MinImportance is the floor below which extracted candidates are
	// discarded before storage.
	MinImportance float64 `json:"minImportance"`

	// ConfidenceFloor is the extraction confidence a candidate must exceed
	// to be stored.
	ConfidenceFloor float64 `json:"confidenceFloor"`

	// Per-category extraction toggles.
	ExtractPreferences bool `json:"extractPreferences"`
	ExtractFacts       bool `json:"extractFacts"`
	ExtractTasks       bool `json:"extractTasks"`

	// LongTermPath and SnapshotPath are derived from BasePath by Resolve
	// when left empty.
	LongTermPath string `json:"longTermPath,omitempty"`
	SnapshotPath string `json:"snapshotPath,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BasePath:           "~/.memvect",
		EnableLongTerm:     true,
		EnableVector:       true,
		EmbeddingDim:       384,
		IndexType:          IndexTypeFlat,
		MergeThreshold:     0.85,
		MinImportance:      0.3,
		ConfidenceFloor:    0.6,
		ExtractPreferences: true,
		ExtractFacts:       true,
		ExtractTasks:       true,
	}
}

// Resolve expands the base path, derives the store and snapshot paths, and
// validates the configuration. It creates the base directories and must
// succeed before the config is handed to the engine; validation failures are
// configuration errors, never silently coerced.
func (c *Config) Resolve() error {
	if c.BasePath == "" {
		return wrapError("config", fmt.Errorf("%w: base path cannot be empty", ErrInvalidConfig))
	}

	if strings.HasPrefix(c.BasePath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return wrapError("config", fmt.Errorf("%w: cannot resolve home directory: %v", ErrInvalidConfig, err))
		}
		c.BasePath = filepath.Join(home, strings.TrimPrefix(c.BasePath, "~"))
	}

	if c.EnableVector && c.EmbeddingDim <= 0 {
		return wrapError("config", fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfig))
	}
	if c.MergeThreshold < -1 || c.MergeThreshold > 1 {
		return wrapError("config", fmt.Errorf("%w: merge threshold must be in [-1, 1]", ErrInvalidConfig))
	}
	if c.MinImportance < 0 || c.MinImportance > 1 {
		return wrapError("config", fmt.Errorf("%w: minimum importance must be in [0, 1]", ErrInvalidConfig))
	}

	if c.LongTermPath == "" {
		c.LongTermPath = filepath.Join(c.BasePath, "long_term.db")
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = filepath.Join(c.BasePath, "vectors", "index.snapshot")
	}

	if err := os.MkdirAll(c.BasePath, 0o755); err != nil {
		return wrapError("config", fmt.Errorf("%w: cannot create base path: %v", ErrInvalidConfig, err))
	}
	if err := os.MkdirAll(filepath.Dir(c.SnapshotPath), 0o755); err != nil {
		return wrapError("config", fmt.Errorf("%w: cannot create vector path: %v", ErrInvalidConfig, err))
	}

	return nil
}
