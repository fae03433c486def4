package index

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// snapshot is the on-disk form shared by all index implementations. An HNSW
// snapshot loads cleanly into a flat index and vice versa; the graph is
// rebuilt from the entries on load.
type snapshot struct {
	Dim      int
	NextSlot uint64
	Entries  []snapshotEntry
}

type snapshotEntry struct {
	Slot     uint64
	Vector   []float32
	RecordID string
	Owner    string
	Category string
}

func writeSnapshot(w io.Writer, snap *snapshot) error {
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

func readSnapshot(r io.Reader) (*snapshot, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// SaveFile writes the index to path atomically: the snapshot is written to a
// temporary file in the same directory, then renamed over the target. A crash
// mid-write leaves the previous snapshot intact.
func SaveFile(idx Index, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if err := idx.Save(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// LoadFile restores the index from a snapshot at path.
func LoadFile(idx Index, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	return idx.Load(f)
}
