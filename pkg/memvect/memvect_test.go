package memvect

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/memvect/memvect/pkg/core"
	"github.com/memvect/memvect/pkg/extract"
	"github.com/memvect/memvect/pkg/memory"
)

func testConfig(t *testing.T) core.Config {
	t.Helper()

	cfg := core.DefaultConfig()
	cfg.BasePath = t.TempDir()
	cfg.EmbeddingDim = 64
	return cfg
}

func TestOpenAddSearch(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Memories().Add(ctx, memory.AddInput{Content: "likes salted peanuts", Owner: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := db.Memories().Add(ctx, memory.AddInput{Content: "lives in San Francisco", Owner: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := db.Memories().Search(ctx, memory.SearchInput{
		Query: "salted peanuts", Owner: "alice", Semantic: true, Threshold: 0.3, Limit: 5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Content != "likes salted peanuts" {
		t.Errorf("best result = %q", results[0].Content)
	}
}

func TestOpenRejectsDisabledLongTerm(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableLongTerm = false

	if _, err := Open(context.Background(), cfg); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestReopenRestoresIndexFromSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.Memories().Add(ctx, memory.AddInput{Content: "enjoys trail running", Owner: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(db.Config().SnapshotPath); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	reopened, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	results, err := reopened.Memories().Search(ctx, memory.SearchInput{
		Query: "trail running", Owner: "alice", Semantic: true, Threshold: 0.3, Limit: 5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results after reopen, want 1", len(results))
	}
}

func TestReopenRebuildsIndexWithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.Memories().Add(ctx, memory.AddInput{Content: "collects vinyl records", Owner: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := os.Remove(db.Config().SnapshotPath); err != nil {
		t.Fatalf("remove snapshot: %v", err)
	}

	reopened, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	results, err := reopened.Memories().Search(ctx, memory.SearchInput{
		Query: "vinyl records", Owner: "alice", Semantic: true, Threshold: 0.3, Limit: 5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results after rebuild, want 1", len(results))
	}
}

func TestOpenWithHNSW(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.IndexType = core.IndexTypeHNSW

	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Memories().Add(ctx, memory.AddInput{Content: "plays chess on weekends", Owner: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := db.Memories().Search(ctx, memory.SearchInput{
		Query: "chess weekends", Owner: "alice", Semantic: true, Threshold: 0.3, Limit: 5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestKeywordOnlyWithoutVector(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.EnableVector = false

	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Memories().Add(ctx, memory.AddInput{Content: "reads science fiction", Owner: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Semantic is requested but no index exists, so the keyword path serves.
	results, err := db.Memories().Search(ctx, memory.SearchInput{
		Query: "science", Owner: "alice", Semantic: true, Limit: 5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestRememberThroughFacade(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, testConfig(t), WithExtractor(extract.NewRuleBasedExtractor()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	session := NewSessionID()
	stored, err := db.Memories().Remember(ctx, "alice", "", session, []extract.Message{
		{Role: "user", Content: "I prefer meetings in the morning"},
		{Role: "assistant", Content: "Noted."},
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d memories, want 1", len(stored))
	}
	if stored[0].Category != core.CategoryPreference {
		t.Errorf("Category = %q", stored[0].Category)
	}
	if stored[0].SessionID != session {
		t.Errorf("SessionID = %q, want %q", stored[0].SessionID, session)
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	if NewSessionID() == NewSessionID() {
		t.Error("session ids collided")
	}
}
