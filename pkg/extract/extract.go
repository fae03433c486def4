// Package extract turns conversation transcripts into memory candidates.
// An Extractor proposes candidates with a confidence and importance; Filter
// applies the engine's thresholds and category toggles before storage.
package extract

import (
	"context"

	"github.com/memvect/memvect/pkg/core"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Candidate is a proposed memory before filtering.
type Candidate struct {
	Content    string            `json:"content"`
	Category   string            `json:"category"`
	Importance float64           `json:"importance"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Extractor proposes memory candidates from a conversation.
type Extractor interface {
	Extract(ctx context.Context, messages []Message) ([]Candidate, error)
}

// Filter drops candidates below the confidence floor or importance minimum,
// and candidates in categories the configuration has toggled off.
func Filter(candidates []Candidate, cfg core.Config) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Content == "" {
			continue
		}
		if c.Confidence <= cfg.ConfidenceFloor {
			continue
		}
		if c.Importance < cfg.MinImportance {
			continue
		}
		switch c.Category {
		case core.CategoryPreference:
			if !cfg.ExtractPreferences {
				continue
			}
		case core.CategoryFact:
			if !cfg.ExtractFacts {
				continue
			}
		case core.CategoryTask:
			if !cfg.ExtractTasks {
				continue
			}
		}
		kept = append(kept, c)
	}
	return kept
}
