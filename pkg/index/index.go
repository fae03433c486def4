// Package index provides in-memory vector indexes with slot-based identity
// and durable snapshots. Scores are cosine similarity computed as inner
// product over unit-normalized vectors.
package index

import (
	"errors"
	"io"
)

// ErrDimensionMismatch is returned when a vector's length does not match the
// index's fixed dimension. Inserts fail fast; the index is never resized.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is one search result. Slot is the entry's insertion order and breaks
// score ties so result order is deterministic.
type Hit struct {
	RecordID string
	Score    float64
	Owner    string
	Category string
	Slot     uint64
}

// Options control a search.
type Options struct {
	// TopK caps the number of hits returned.
	TopK int
	// MinScore drops hits scoring below the threshold.
	MinScore float64
	// Owner, when set, restricts hits to entries stored for that owner.
	Owner string
}

// Index is a fixed-dimension vector index. Implementations are safe for
// concurrent use.
type Index interface {
	// Insert adds a vector with its record metadata and returns the slot
	// assigned to it. Slots are monotonic and never reused.
	Insert(recordID, owner, category string, vector []float32) (uint64, error)

	// Search returns the best-scoring hits for the query, ordered by score
	// descending with earlier slots first on ties. Entries without a record
	// id are skipped.
	Search(query []float32, opts Options) []Hit

	// Size returns the number of entries.
	Size() int

	// Dim returns the fixed vector dimension.
	Dim() int

	// Save writes the index state to w.
	Save(w io.Writer) error

	// Load replaces the index state with one previously written by Save.
	Load(r io.Reader) error
}
