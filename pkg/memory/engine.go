package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/memvect/memvect/pkg/core"
	"github.com/memvect/memvect/pkg/extract"
	"github.com/memvect/memvect/pkg/index"
)

// RecordStore is the durable store the engine reads and writes. It is
// satisfied by *core.SQLiteStore.
type RecordStore interface {
	Put(ctx context.Context, m *core.Memory) error
	Get(ctx context.Context, id string) (*core.Memory, error)
	Delete(ctx context.Context, id string) (int64, error)
	DeleteWhere(ctx context.Context, f core.Filter) (int64, error)
	SearchKeyword(ctx context.Context, query, owner, category string, limit int) ([]*core.Memory, error)
	Recent(ctx context.Context, owner, session string, limit int) ([]*core.Memory, error)
	ByCategory(ctx context.Context, owner, category string, minImportance float64, limit int) ([]*core.Memory, error)
}

// Engine ties the record store, vector index, embedder, and extractor
// together. The store is the source of truth; the index is a derived
// accelerator that may lag behind deletes and is reconciled at read time.
type Engine struct {
	store     RecordStore
	index     index.Index
	embedder  Embedder
	extractor extract.Extractor
	cfg       core.Config
	logger    core.Logger
	estimator TokenEstimator

	snapshotPath string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger core.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithExtractor sets the conversation extractor used by Remember.
func WithExtractor(x extract.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithTokenEstimator replaces the token estimator used by Context.
func WithTokenEstimator(est TokenEstimator) Option {
	return func(e *Engine) {
		if est != nil {
			e.estimator = est
		}
	}
}

// WithSnapshotPath sets where the index snapshot is persisted after writes.
// Empty disables persistence.
func WithSnapshotPath(path string) Option {
	return func(e *Engine) { e.snapshotPath = path }
}

// NewEngine creates a retrieval engine. The store is required. Index and
// embedder are given together or not at all; when present their dimensions
// must agree with the configuration.
func NewEngine(store RecordStore, idx index.Index, embedder Embedder, cfg core.Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, core.WrapError("engine", fmt.Errorf("%w: record store is required", core.ErrInvalidConfig))
	}
	if (idx == nil) != (embedder == nil) {
		return nil, core.WrapError("engine", fmt.Errorf("%w: index and embedder must be configured together", core.ErrInvalidConfig))
	}
	if idx != nil {
		if embedder.Dim() != cfg.EmbeddingDim {
			return nil, core.WrapError("engine", fmt.Errorf("%w: embedder dimension %d does not match configured %d",
				core.ErrInvalidConfig, embedder.Dim(), cfg.EmbeddingDim))
		}
		if idx.Dim() != cfg.EmbeddingDim {
			return nil, core.WrapError("engine", fmt.Errorf("%w: index dimension %d does not match configured %d",
				core.ErrInvalidConfig, idx.Dim(), cfg.EmbeddingDim))
		}
	}

	e := &Engine{
		store:     store,
		index:     idx,
		embedder:  embedder,
		cfg:       cfg,
		logger:    core.NopLogger(),
		estimator: WordCountEstimator,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AddInput describes a record to add.
type AddInput struct {
	Content    string
	Category   string
	Importance float64
	Owner      string
	Agent      string
	Session    string
	Metadata   map[string]string

	// MergeSimilar folds the add into an existing record when one scores at
	// or above the configured merge threshold.
	MergeSimilar bool
}

// Add stores a record. With MergeSimilar set and a sufficiently similar
// record already indexed, the existing record is updated in place and
// returned; otherwise a new record is written and then indexed. The store
// write always precedes the index insert so the index never references a
// record that was never durable.
func (e *Engine) Add(ctx context.Context, in AddInput) (*core.Memory, error) {
	if in.Content == "" {
		return nil, core.WrapError("add", core.ErrEmptyContent)
	}

	if in.Category == "" {
		in.Category = core.CategoryGeneral
	}
	if in.Importance <= 0 {
		in.Importance = core.DefaultImportance
	}
	in.Importance = core.ClampImportance(in.Importance)

	var vector []float32
	if e.index != nil {
		var err error
		vector, err = e.embedder.Embed(ctx, in.Content)
		if err != nil {
			return nil, core.WrapError("add", fmt.Errorf("embedding failed: %w", err))
		}
	}

	if in.MergeSimilar && e.index != nil {
		existing, err := e.findSimilar(ctx, vector, in.Owner)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.Content = in.Content
			existing.Embedding = vector
			if in.Importance > existing.Importance {
				existing.Importance = in.Importance
			}
			existing.MergeMetadata(in.Metadata)
			existing.Touch()

			if err := e.store.Put(ctx, existing); err != nil {
				return nil, err
			}
			e.logger.Debug("merged into existing record", "id", existing.ID)
			return existing, nil
		}
	}

	m := core.NewMemory(in.Content, in.Owner)
	m.AgentID = in.Agent
	m.SessionID = in.Session
	m.Category = in.Category
	m.Importance = in.Importance
	m.Metadata = in.Metadata
	m.Embedding = vector

	if err := e.store.Put(ctx, m); err != nil {
		return nil, err
	}

	if e.index != nil {
		if _, err := e.index.Insert(m.ID, m.OwnerID, m.Category, vector); err != nil {
			return nil, core.WrapError("add", fmt.Errorf("index insert failed: %w", err))
		}
		e.persistIndex()
	}

	e.logger.Debug("added record", "id", m.ID, "category", m.Category)
	return m, nil
}

// findSimilar returns the stored record most similar to the vector at or
// above the merge threshold, or nil when none qualifies.
func (e *Engine) findSimilar(ctx context.Context, vector []float32, owner string) (*core.Memory, error) {
	hits := e.index.Search(vector, index.Options{
		TopK:     1,
		MinScore: e.cfg.MergeThreshold,
		Owner:    owner,
	})
	if len(hits) == 0 {
		return nil, nil
	}

	m, err := e.store.Get(ctx, hits[0].RecordID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// persistIndex writes the index snapshot. Failures are logged, not fatal;
// the store already holds the record and the index rebuilds from it.
func (e *Engine) persistIndex() {
	if e.snapshotPath == "" {
		return
	}
	if err := index.SaveFile(e.index, e.snapshotPath); err != nil {
		e.logger.Warn("failed to persist index snapshot", "path", e.snapshotPath, "error", err)
	}
}

// SearchInput describes a search.
type SearchInput struct {
	Query    string
	Owner    string
	Category string
	Limit    int

	// Semantic selects the vector path. When false, or when the engine has
	// no index, the keyword path is used directly.
	Semantic bool

	// Threshold is the minimum similarity for semantic hits. Zero keeps
	// everything the index returns.
	Threshold float64
}

// Result is one search hit. Score is the similarity for semantic hits and
// zero for keyword hits.
type Result struct {
	*core.Memory
	Score float64
}

// Search runs a hybrid search. The semantic path resolves index hits against
// the store, dropping entries whose record no longer exists. If the semantic
// path yields nothing, the keyword path runs instead; the two paths never
// mix in one result set. Results are ordered by importance, then creation
// time, then id.
func (e *Engine) Search(ctx context.Context, in SearchInput) ([]Result, error) {
	if in.Limit <= 0 {
		in.Limit = 10
	}

	var results []Result

	if in.Semantic && e.index != nil {
		vector, err := e.embedder.Embed(ctx, in.Query)
		if err != nil {
			return nil, core.WrapError("search", fmt.Errorf("embedding failed: %w", err))
		}

		// Overfetch so stale entries and category filtering do not starve
		// the result set.
		hits := e.index.Search(vector, index.Options{
			TopK:     in.Limit * 2,
			MinScore: in.Threshold,
			Owner:    in.Owner,
		})

		// Updates re-index a record under a new slot, so the same id can
		// appear more than once. Hits arrive sorted by score, keep the best.
		seen := make(map[string]bool, len(hits))
		for _, hit := range hits {
			if seen[hit.RecordID] {
				continue
			}
			seen[hit.RecordID] = true
			if in.Category != "" && hit.Category != in.Category {
				continue
			}
			m, err := e.store.Get(ctx, hit.RecordID)
			if err != nil {
				return nil, err
			}
			if m == nil {
				e.logger.Debug("dropping stale index entry", "id", hit.RecordID)
				continue
			}
			results = append(results, Result{Memory: m, Score: hit.Score})
		}
	}

	if len(results) == 0 {
		memories, err := e.store.SearchKeyword(ctx, in.Query, in.Owner, in.Category, in.Limit)
		if err != nil {
			return nil, err
		}
		for _, m := range memories {
			results = append(results, Result{Memory: m})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Importance != results[j].Importance {
			return results[i].Importance > results[j].Importance
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > in.Limit {
		results = results[:in.Limit]
	}
	return results, nil
}

// Get fetches a record by id. A miss returns (nil, nil).
func (e *Engine) Get(ctx context.Context, id string) (*core.Memory, error) {
	return e.store.Get(ctx, id)
}

// Update replaces a record's content and merges metadata. The updated record
// is re-embedded and re-indexed so semantic search reflects the new content.
// An absent id returns (nil, nil).
func (e *Engine) Update(ctx context.Context, id, content string, metadata map[string]string) (*core.Memory, error) {
	if content == "" {
		return nil, core.WrapError("update", core.ErrEmptyContent)
	}

	m, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	m.Content = content
	m.MergeMetadata(metadata)
	m.Touch()

	var vector []float32
	if e.index != nil {
		vector, err = e.embedder.Embed(ctx, content)
		if err != nil {
			return nil, core.WrapError("update", fmt.Errorf("embedding failed: %w", err))
		}
		m.Embedding = vector
	}

	if err := e.store.Put(ctx, m); err != nil {
		return nil, err
	}

	if e.index != nil {
		if _, err := e.index.Insert(m.ID, m.OwnerID, m.Category, vector); err != nil {
			return nil, core.WrapError("update", fmt.Errorf("index insert failed: %w", err))
		}
		e.persistIndex()
	}

	return m, nil
}

// Delete removes a record by id and returns the number removed (0 or 1). The
// index entry is left behind and dropped lazily at search time.
func (e *Engine) Delete(ctx context.Context, id string) (int64, error) {
	return e.store.Delete(ctx, id)
}

// DeleteWhere removes all records matching the filter.
func (e *Engine) DeleteWhere(ctx context.Context, f core.Filter) (int64, error) {
	return e.store.DeleteWhere(ctx, f)
}

// Remember extracts memories from a conversation and stores them with
// merge-on-write. Extraction failures are logged and yield no memories; the
// conversation itself is never lost to an oracle outage.
func (e *Engine) Remember(ctx context.Context, owner, agent, session string, messages []extract.Message) ([]*core.Memory, error) {
	if e.extractor == nil {
		e.logger.Debug("no extractor configured, skipping")
		return nil, nil
	}

	candidates, err := e.extractor.Extract(ctx, messages)
	if err != nil {
		e.logger.Warn("extraction failed", "error", err)
		return nil, nil
	}

	candidates = extract.Filter(candidates, e.cfg)

	stored := make([]*core.Memory, 0, len(candidates))
	for _, c := range candidates {
		m, err := e.Add(ctx, AddInput{
			Content:      c.Content,
			Category:     c.Category,
			Importance:   c.Importance,
			Owner:        owner,
			Agent:        agent,
			Session:      session,
			Metadata:     c.Metadata,
			MergeSimilar: true,
		})
		if err != nil {
			return stored, err
		}
		stored = append(stored, m)
	}

	e.logger.Info("remembered conversation", "candidates", len(candidates), "stored", len(stored))
	return stored, nil
}
