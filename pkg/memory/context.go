package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/memvect/memvect/pkg/core"
)

// TokenEstimator approximates the token cost of a context line.
type TokenEstimator func(line string) float64

// WordCountEstimator estimates tokens as word count times 1.3, a usable
// approximation for English prose without a tokenizer dependency.
func WordCountEstimator(line string) float64 {
	return float64(len(strings.Fields(line))) * 1.3
}

// ContextInput describes a context assembly request.
type ContextInput struct {
	Owner   string
	Session string

	// MaxTokens is the budget for the assembled block. Zero or negative
	// yields an empty context.
	MaxTokens int

	// Categories, when set, restricts the context to those categories.
	Categories []string
}

// Context assembles a token-bounded context block for a prompt. Candidates
// are the most recently updated records plus high-importance preferences,
// deduplicated by id, ordered by importance then recency, and taken greedily
// until a line would overflow the budget. The result is empty when nothing
// fits.
func (e *Engine) Context(ctx context.Context, in ContextInput) (string, error) {
	if in.MaxTokens <= 0 {
		return "", nil
	}

	recent, err := e.store.Recent(ctx, in.Owner, in.Session, 20)
	if err != nil {
		return "", err
	}

	preferences, err := e.store.ByCategory(ctx, in.Owner, core.CategoryPreference, 0.7, 10)
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool, len(recent)+len(preferences))
	candidates := make([]*core.Memory, 0, len(recent)+len(preferences))
	for _, m := range append(recent, preferences...) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if len(in.Categories) > 0 && !containsCategory(in.Categories, m.Category) {
			continue
		}
		candidates = append(candidates, m)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Importance != candidates[j].Importance {
			return candidates[i].Importance > candidates[j].Importance
		}
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	var lines []string
	var used float64
	for _, m := range candidates {
		line := fmt.Sprintf("[%s] %s", m.Category, m.Content)
		cost := e.estimator(line)
		if used+cost > float64(in.MaxTokens) {
			break
		}
		lines = append(lines, line)
		used += cost
	}

	return strings.Join(lines, "\n"), nil
}

func containsCategory(categories []string, category string) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}
