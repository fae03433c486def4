package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/memvect/memvect/pkg/core"
	"github.com/memvect/memvect/pkg/extract"
	"github.com/memvect/memvect/pkg/index"
)

// stubEmbedder returns canned vectors per text so similarity is controlled
// exactly. Unknown texts embed to a vector orthogonal to everything canned.
type stubEmbedder struct {
	dim     int
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, s.dim)
	v[s.dim-1] = 1
	return v, nil
}

func (s *stubEmbedder) Dim() int { return s.dim }

type failingEmbedder struct{ dim int }

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("model unavailable")
}

func (f *failingEmbedder) Dim() int { return f.dim }

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.EmbeddingDim = 3
	return cfg
}

func newTestEngine(t *testing.T, embedder Embedder, opts ...Option) *Engine {
	t.Helper()

	store, err := core.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig()
	var idx index.Index
	if embedder != nil {
		idx = index.NewFlatIndex(cfg.EmbeddingDim)
	}

	engine, err := NewEngine(store, idx, embedder, cfg, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	store, err := core.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer store.Close()

	cfg := testConfig()

	if _, err := NewEngine(nil, nil, nil, cfg); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("nil store error = %v, want ErrInvalidConfig", err)
	}

	idx := index.NewFlatIndex(3)
	if _, err := NewEngine(store, idx, nil, cfg); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("index without embedder error = %v, want ErrInvalidConfig", err)
	}

	wrongDim := &stubEmbedder{dim: 5}
	if _, err := NewEngine(store, idx, wrongDim, cfg); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("dimension mismatch error = %v, want ErrInvalidConfig", err)
	}

	wrongIdx := index.NewFlatIndex(5)
	if _, err := NewEngine(store, wrongIdx, &stubEmbedder{dim: 3}, cfg); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("index dimension mismatch error = %v, want ErrInvalidConfig", err)
	}

	if _, err := NewEngine(store, nil, nil, cfg); err != nil {
		t.Errorf("keyword-only engine: %v", err)
	}
}

func TestAddEmptyContent(t *testing.T) {
	engine := newTestEngine(t, nil)

	_, err := engine.Add(context.Background(), AddInput{})
	if !errors.Is(err, core.ErrEmptyContent) {
		t.Errorf("error = %v, want ErrEmptyContent", err)
	}
}

func TestAddDefaults(t *testing.T) {
	engine := newTestEngine(t, nil)

	m, err := engine.Add(context.Background(), AddInput{Content: "plain note", Owner: "alice"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if m.Category != core.CategoryGeneral {
		t.Errorf("Category = %q", m.Category)
	}
	if m.Importance != core.DefaultImportance {
		t.Errorf("Importance = %v", m.Importance)
	}
	if m.OwnerID != "alice" {
		t.Errorf("OwnerID = %q", m.OwnerID)
	}
}

func TestAddEmbeddingFailureIsFatal(t *testing.T) {
	engine := newTestEngine(t, &failingEmbedder{dim: 3})

	_, err := engine.Add(context.Background(), AddInput{Content: "x"})
	if err == nil {
		t.Fatal("expected error when embedding fails")
	}

	// Nothing durable was written.
	results, err := engine.Search(context.Background(), SearchInput{Query: "x", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("found %d records after failed add", len(results))
	}
}

func TestAddMergesSimilar(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"likes peanuts":        {1, 0, 0},
		"really likes peanuts": {0.99, 0.14, 0}, // cosine ~0.99 with the first
		"lives in SF":          {0, 1, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	first, err := engine.Add(ctx, AddInput{Content: "likes peanuts", Owner: "alice", Importance: 0.5, MergeSimilar: true})
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}

	merged, err := engine.Add(ctx, AddInput{
		Content:      "really likes peanuts",
		Owner:        "alice",
		Importance:   0.9,
		Metadata:     map[string]string{"source": "chat"},
		MergeSimilar: true,
	})
	if err != nil {
		t.Fatalf("merging Add: %v", err)
	}

	if merged.ID != first.ID {
		t.Errorf("merge created a new record: %s vs %s", merged.ID, first.ID)
	}
	if merged.Content != "really likes peanuts" {
		t.Errorf("Content = %q", merged.Content)
	}
	if merged.Importance != 0.9 {
		t.Errorf("Importance = %v, want max of both", merged.Importance)
	}
	if merged.Metadata["source"] != "chat" {
		t.Errorf("Metadata = %v", merged.Metadata)
	}

	distinct, err := engine.Add(ctx, AddInput{Content: "lives in SF", Owner: "alice", MergeSimilar: true})
	if err != nil {
		t.Fatalf("distinct Add: %v", err)
	}
	if distinct.ID == first.ID {
		t.Error("dissimilar content merged")
	}
}

func TestAddMergeKeepsHigherImportance(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"v1": {1, 0, 0},
		"v2": {1, 0, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	if _, err := engine.Add(ctx, AddInput{Content: "v1", Importance: 0.9, MergeSimilar: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	merged, err := engine.Add(ctx, AddInput{Content: "v2", Importance: 0.3, MergeSimilar: true})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if merged.Importance != 0.9 {
		t.Errorf("Importance = %v, want 0.9 kept", merged.Importance)
	}
}

func TestAddNoMergeCreatesDuplicates(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"same": {1, 0, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	a, err := engine.Add(ctx, AddInput{Content: "same"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	b, err := engine.Add(ctx, AddInput{Content: "same"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.ID == b.ID {
		t.Error("adds without MergeSimilar collapsed into one record")
	}
}

func TestSearchSemantic(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"likes peanuts": {1, 0, 0},
		"lives in SF":   {0, 1, 0},
		"peanuts?":      {0.95, 0.31, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	for _, content := range []string{"likes peanuts", "lives in SF"} {
		if _, err := engine.Add(ctx, AddInput{Content: content, Owner: "alice"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	results, err := engine.Search(ctx, SearchInput{Query: "peanuts?", Owner: "alice", Semantic: true, Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Content != "likes peanuts" {
		t.Errorf("Content = %q", results[0].Content)
	}
	if results[0].Score <= 0.5 {
		t.Errorf("Score = %v", results[0].Score)
	}
}

func TestSearchKeywordFallback(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"enjoys rock climbing": {1, 0, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	if _, err := engine.Add(ctx, AddInput{Content: "enjoys rock climbing", Owner: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The query embeds orthogonally to everything stored, so the semantic
	// path misses and the keyword path takes over.
	results, err := engine.Search(ctx, SearchInput{Query: "climbing", Owner: "alice", Semantic: true, Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 from keyword fallback", len(results))
	}
	if results[0].Score != 0 {
		t.Errorf("keyword hit Score = %v, want 0", results[0].Score)
	}
}

func TestSearchDropsStaleIndexEntries(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"ephemeral": {1, 0, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	m, err := engine.Add(ctx, AddInput{Content: "ephemeral"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := engine.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	results, err := engine.Search(ctx, SearchInput{Query: "ephemeral", Semantic: true, Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("stale entry surfaced: %v", results)
	}
}

func TestSearchOrdering(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"low importance":  {1, 0, 0},
		"high importance": {0.99, 0.14, 0},
		"query":           {1, 0.05, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	if _, err := engine.Add(ctx, AddInput{Content: "low importance", Importance: 0.2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := engine.Add(ctx, AddInput{Content: "high importance", Importance: 0.9}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := engine.Search(ctx, SearchInput{Query: "query", Semantic: true, Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	// Importance outranks similarity in the final ordering.
	if results[0].Content != "high importance" {
		t.Errorf("first result = %q", results[0].Content)
	}
}

func TestUpdate(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"old text": {1, 0, 0},
		"new text": {0, 1, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	m, err := engine.Add(ctx, AddInput{Content: "old text"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	updated, err := engine.Update(ctx, m.ID, "new text", map[string]string{"edited": "yes"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Content != "new text" || updated.Metadata["edited"] != "yes" {
		t.Errorf("update not applied: %+v", updated)
	}

	// The new content is findable semantically.
	results, err := engine.Search(ctx, SearchInput{Query: "new text", Semantic: true, Threshold: 0.9, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != m.ID {
		t.Errorf("updated record not found semantically: %v", results)
	}

	missing, err := engine.Update(ctx, "no-such-id", "x", nil)
	if err != nil {
		t.Fatalf("Update missing: %v", err)
	}
	if missing != nil {
		t.Errorf("Update on absent id = %v, want nil", missing)
	}
}

func TestSearchReturnsUpdatedRecordOnce(t *testing.T) {
	// An update re-indexes the record under a new slot; both slots can match
	// one query, but the record must surface once, at its best score.
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"old text": {1, 0, 0},
		"new text": {0.7, 0.7, 0},
	}}
	engine := newTestEngine(t, embedder)
	ctx := context.Background()

	m, err := engine.Add(ctx, AddInput{Content: "old text", Owner: "alice"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := engine.Update(ctx, m.ID, "new text", nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := engine.Add(ctx, AddInput{Content: "other note", Owner: "alice"}); err != nil {
		t.Fatalf("Add other: %v", err)
	}

	results, err := engine.Search(ctx, SearchInput{Query: "new text", Owner: "alice", Semantic: true, Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	ids := make(map[string]int)
	for _, r := range results {
		ids[r.ID]++
	}
	if ids[m.ID] != 1 {
		t.Fatalf("record appeared %d times: %v", ids[m.ID], results)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("Score = %v, want the best-scoring entry kept", results[0].Score)
	}

	// Repeated updates must not inflate the result set either.
	for i := 0; i < 3; i++ {
		if _, err := engine.Update(ctx, m.ID, "new text", nil); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}
	results, err = engine.Search(ctx, SearchInput{Query: "new text", Owner: "alice", Semantic: true, Threshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results after repeated updates, want 1", len(results))
	}
}

func TestDeleteUnknownID(t *testing.T) {
	engine := newTestEngine(t, nil)

	removed, err := engine.Delete(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

type stubExtractor struct {
	candidates []extract.Candidate
	err        error
}

func (s *stubExtractor) Extract(context.Context, []extract.Message) ([]extract.Candidate, error) {
	return s.candidates, s.err
}

func TestRemember(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"likes go":  {1, 0, 0},
		"needs pto": {0, 1, 0},
	}}
	extractor := &stubExtractor{candidates: []extract.Candidate{
		{Content: "likes go", Category: core.CategoryPreference, Importance: 0.7, Confidence: 0.9},
		{Content: "needs pto", Category: core.CategoryTask, Importance: 0.8, Confidence: 0.9},
		{Content: "shaky guess", Category: core.CategoryFact, Importance: 0.7, Confidence: 0.3},
	}}
	engine := newTestEngine(t, embedder, WithExtractor(extractor))

	stored, err := engine.Remember(context.Background(), "alice", "helper", "s1", []extract.Message{
		{Role: "user", Content: "whatever was said"},
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d memories, want 2", len(stored))
	}
	for _, m := range stored {
		if m.OwnerID != "alice" || m.SessionID != "s1" || m.AgentID != "helper" {
			t.Errorf("attribution wrong: %+v", m)
		}
	}
}

func TestRememberExtractionFailure(t *testing.T) {
	engine := newTestEngine(t, nil, WithExtractor(&stubExtractor{err: fmt.Errorf("oracle down")}))

	stored, err := engine.Remember(context.Background(), "alice", "", "s1", []extract.Message{
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Remember: %v, extraction failures must not propagate", err)
	}
	if len(stored) != 0 {
		t.Errorf("stored %d memories from a failed extraction", len(stored))
	}
}

func TestRememberNoExtractor(t *testing.T) {
	engine := newTestEngine(t, nil)

	stored, err := engine.Remember(context.Background(), "alice", "", "", nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if stored != nil {
		t.Errorf("stored = %v, want nil", stored)
	}
}
