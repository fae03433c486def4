package extract

import (
	"context"
	"strings"

	"github.com/memvect/memvect/pkg/core"
)

// Phrase lists per category. A user turn that contains one of these phrases
// becomes a candidate in that category; each category matches at most once
// per turn.
var (
	preferencePhrases = []string{
		"i like", "i love", "i prefer", "i enjoy",
		"i don't like", "i hate", "i dislike",
	}
	factPhrases = []string{
		"i am a", "i work as", "i live in",
		"my name is", "i have",
	}
	taskPhrases = []string{
		"i need to", "i should", "i must",
		"remind me to", "don't forget",
	}
)

// RuleBasedExtractor extracts memories with phrase matching. It needs no
// external model, never fails, and only looks at user turns.
type RuleBasedExtractor struct{}

// NewRuleBasedExtractor creates a rule-based extractor.
func NewRuleBasedExtractor() *RuleBasedExtractor {
	return &RuleBasedExtractor{}
}

// Extract scans user turns for category phrases.
func (e *RuleBasedExtractor) Extract(_ context.Context, messages []Message) ([]Candidate, error) {
	var candidates []Candidate

	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}

		lower := strings.ToLower(msg.Content)

		if containsAny(lower, preferencePhrases) {
			candidates = append(candidates, Candidate{
				Content:    msg.Content,
				Category:   core.CategoryPreference,
				Importance: 0.6,
				Confidence: 0.7,
			})
		}
		if containsAny(lower, factPhrases) {
			candidates = append(candidates, Candidate{
				Content:    msg.Content,
				Category:   core.CategoryFact,
				Importance: 0.7,
				Confidence: 0.8,
			})
		}
		if containsAny(lower, taskPhrases) {
			candidates = append(candidates, Candidate{
				Content:    msg.Content,
				Category:   core.CategoryTask,
				Importance: 0.8,
				Confidence: 0.9,
			})
		}
	}

	return candidates, nil
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
