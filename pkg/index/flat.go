package index

import (
	"io"
	"sort"
	"sync"

	"github.com/memvect/memvect/internal/encoding"
	"github.com/memvect/memvect/pkg/core"
)

// entry is one indexed vector. Vectors are normalized at insert so search is
// a plain inner product.
type entry struct {
	slot     uint64
	vector   []float32
	recordID string
	owner    string
	category string
}

// FlatIndex is an exact brute-force index. Every search scans all entries,
// which keeps results exact and is fast enough well into the tens of
// thousands of vectors.
type FlatIndex struct {
	mu       sync.RWMutex
	dim      int
	entries  []entry
	nextSlot uint64
}

// NewFlatIndex creates an empty flat index with a fixed dimension.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Insert adds a vector and returns its slot.
func (f *FlatIndex) Insert(recordID, owner, category string, vector []float32) (uint64, error) {
	if len(vector) != f.dim {
		return 0, ErrDimensionMismatch
	}
	if err := encoding.ValidateVector(vector); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	slot := f.nextSlot
	f.nextSlot++

	f.entries = append(f.entries, entry{
		slot:     slot,
		vector:   core.Normalize(vector),
		recordID: recordID,
		owner:    owner,
		category: category,
	})

	return slot, nil
}

// Search scans all entries and returns the top hits.
func (f *FlatIndex) Search(query []float32, opts Options) []Hit {
	if len(query) != f.dim || opts.TopK <= 0 {
		return nil
	}

	q := core.Normalize(query)

	f.mu.RLock()
	defer f.mu.RUnlock()

	hits := make([]Hit, 0, len(f.entries))
	for i := range f.entries {
		e := &f.entries[i]
		if e.recordID == "" {
			continue
		}
		if opts.Owner != "" && e.owner != opts.Owner {
			continue
		}

		score := core.DotProduct(q, e.vector)
		if score < opts.MinScore {
			continue
		}

		hits = append(hits, Hit{
			RecordID: e.recordID,
			Score:    score,
			Owner:    e.owner,
			Category: e.category,
			Slot:     e.slot,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Slot < hits[j].Slot
	})

	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits
}

// Size returns the number of entries.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Dim returns the fixed vector dimension.
func (f *FlatIndex) Dim() int {
	return f.dim
}

// Save writes the index to w.
func (f *FlatIndex) Save(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := snapshot{
		Dim:      f.dim,
		NextSlot: f.nextSlot,
		Entries:  make([]snapshotEntry, 0, len(f.entries)),
	}
	for i := range f.entries {
		e := &f.entries[i]
		snap.Entries = append(snap.Entries, snapshotEntry{
			Slot:     e.slot,
			Vector:   e.vector,
			RecordID: e.recordID,
			Owner:    e.owner,
			Category: e.category,
		})
	}

	return writeSnapshot(w, &snap)
}

// Load replaces the index state from r.
func (f *FlatIndex) Load(r io.Reader) error {
	snap, err := readSnapshot(r)
	if err != nil {
		return err
	}

	entries := make([]entry, 0, len(snap.Entries))
	for _, se := range snap.Entries {
		entries = append(entries, entry{
			slot:     se.Slot,
			vector:   se.Vector,
			recordID: se.RecordID,
			owner:    se.Owner,
			category: se.Category,
		})
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.dim = snap.Dim
	f.nextSlot = snap.NextSlot
	f.entries = entries
	return nil
}
