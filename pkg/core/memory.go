package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Well-known memory categories. The set is open; callers may use their own
// category strings.
const (
	CategoryPreference = "preference"
	CategoryFact       = "fact"
	CategoryTask       = "task"
	CategoryGeneral    = "general"
)

// DefaultImportance is assigned to records created without an explicit score.
const DefaultImportance = 0.5

// TimeLayout is the canonical timestamp format used in the memories table.
// The fractional seconds are fixed-width so that lexicographic order of the
// stored strings matches chronological order, which the store's ORDER BY
// clauses rely on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Memory is a single durable memory record. The ID is assigned at creation
// and never changes; content, importance, and metadata are mutable.
type Memory struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	OwnerID    string            `json:"ownerId,omitempty"`
	AgentID    string            `json:"agentId,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	Category   string            `json:"category"`
	Importance float64           `json:"importance"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Embedding is the record's vector, persisted alongside the row so the
	// index can be rebuilt from the store when no snapshot exists. Not part
	// of the record's JSON form.
	Embedding []float32 `json:"-"`
}

// NewMemory creates a record with a fresh deterministic ID. Category defaults
// to general and importance to DefaultImportance; both timestamps are set to
// the current time.
func NewMemory(content, owner string) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:         memoryID(content, owner, now),
		Content:    content,
		OwnerID:    owner,
		Category:   CategoryGeneral,
		Importance: DefaultImportance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// memoryID derives a stable identifier from the record's content, owner, and
// creation time.
func memoryID(content, owner string, createdAt time.Time) string {
	data := fmt.Sprintf("%s:%s:%s", content, owner, createdAt.Format(TimeLayout))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// Touch refreshes the record's updated timestamp.
func (m *Memory) Touch() {
	m.UpdatedAt = time.Now().UTC()
}

// MergeMetadata merges extra key/value pairs into the record's metadata.
// Existing keys are overwritten; keys absent from extra are kept.
func (m *Memory) MergeMetadata(extra map[string]string) {
	if len(extra) == 0 {
		return
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		m.Metadata[k] = v
	}
}

// Clone returns a deep copy of the record.
func (m *Memory) Clone() *Memory {
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ClampImportance bounds an importance score to [0, 1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
