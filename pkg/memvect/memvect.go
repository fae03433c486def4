// Package memvect is the high-level entry point: one Open call wires the
// record store, vector index, embedder, and extractor into a ready engine.
package memvect

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/memvect/memvect/pkg/core"
	"github.com/memvect/memvect/pkg/extract"
	"github.com/memvect/memvect/pkg/index"
	"github.com/memvect/memvect/pkg/memory"
)

// DB is an opened memory database.
type DB struct {
	store  *core.SQLiteStore
	engine *memory.Engine
	cfg    core.Config
	logger core.Logger
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	embedder  memory.Embedder
	extractor extract.Extractor
	logger    core.Logger
	estimator memory.TokenEstimator
}

// WithEmbedder supplies the embedding model. Without one, a deterministic
// hash embedder matching the configured dimension is used.
func WithEmbedder(e memory.Embedder) Option {
	return func(o *openOptions) { o.embedder = e }
}

// WithExtractor supplies the conversation extractor used by Remember.
func WithExtractor(x extract.Extractor) Option {
	return func(o *openOptions) { o.extractor = x }
}

// WithLogger supplies the logger shared by all components.
func WithLogger(l core.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// WithTokenEstimator replaces the token estimator used by Context.
func WithTokenEstimator(est memory.TokenEstimator) Option {
	return func(o *openOptions) { o.estimator = est }
}

// Open resolves the configuration, opens the record store, restores the
// vector index from its snapshot when one exists, and builds the engine.
func Open(ctx context.Context, cfg core.Config, opts ...Option) (*DB, error) {
	o := openOptions{logger: core.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if !cfg.EnableLongTerm {
		return nil, core.WrapError("open", fmt.Errorf("%w: long-term store cannot be disabled", core.ErrInvalidConfig))
	}

	store, err := core.NewStore(cfg.LongTermPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	var idx index.Index
	var embedder memory.Embedder
	var snapshotPath string

	if cfg.EnableVector {
		switch cfg.IndexType {
		case core.IndexTypeHNSW:
			idx = index.NewHNSWIndex(cfg.EmbeddingDim)
		default:
			idx = index.NewFlatIndex(cfg.EmbeddingDim)
		}

		if _, err := os.Stat(cfg.SnapshotPath); err == nil {
			if err := index.LoadFile(idx, cfg.SnapshotPath); err != nil {
				_ = store.Close()
				return nil, core.WrapError("open", fmt.Errorf("failed to restore index snapshot: %w", err))
			}
			o.logger.Info("restored index snapshot", "path", cfg.SnapshotPath, "entries", idx.Size())
		} else if err := rebuildIndex(ctx, store, idx, o.logger); err != nil {
			_ = store.Close()
			return nil, err
		}

		embedder = o.embedder
		if embedder == nil {
			embedder = memory.NewHashEmbedder(cfg.EmbeddingDim)
		}
		snapshotPath = cfg.SnapshotPath
	}

	engineOpts := []memory.Option{
		memory.WithLogger(o.logger),
		memory.WithSnapshotPath(snapshotPath),
	}
	if o.extractor != nil {
		engineOpts = append(engineOpts, memory.WithExtractor(o.extractor))
	}
	if o.estimator != nil {
		engineOpts = append(engineOpts, memory.WithTokenEstimator(o.estimator))
	}

	engine, err := memory.NewEngine(store, idx, embedder, cfg, engineOpts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &DB{store: store, engine: engine, cfg: cfg, logger: o.logger}, nil
}

// rebuildIndex repopulates the index from embeddings persisted in the store.
// Records whose stored dimension no longer matches the index are skipped;
// they stay reachable through keyword search.
func rebuildIndex(ctx context.Context, store *core.SQLiteStore, idx index.Index, logger core.Logger) error {
	memories, err := store.AllWithEmbeddings(ctx)
	if err != nil {
		return err
	}
	if len(memories) == 0 {
		return nil
	}

	skipped := 0
	for _, m := range memories {
		if len(m.Embedding) != idx.Dim() {
			skipped++
			continue
		}
		if _, err := idx.Insert(m.ID, m.OwnerID, m.Category, m.Embedding); err != nil {
			return core.WrapError("open", fmt.Errorf("failed to rebuild index: %w", err))
		}
	}

	logger.Info("rebuilt index from store", "entries", idx.Size(), "skipped", skipped)
	return nil
}

// Memories returns the retrieval engine.
func (db *DB) Memories() *memory.Engine {
	return db.engine
}

// Config returns the resolved configuration.
func (db *DB) Config() core.Config {
	return db.cfg
}

// Close closes the underlying store.
func (db *DB) Close() error {
	return db.store.Close()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
