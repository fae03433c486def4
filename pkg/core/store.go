package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/memvect/memvect/internal/encoding"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore is the durable record store backing long-term memory. One row
// per record; all list-returning queries are total-ordered with rowid as the
// final tie-break so results are deterministic.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// NewStore creates a record store at the given database path. Call Init
// before use.
func NewStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, wrapError("init", fmt.Errorf("%w: database path cannot be empty", ErrInvalidConfig))
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the SQLite database and creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	// _journal_mode=WAL: Better concurrency
	// _busy_timeout=5000: Wait up to 5s for lock instead of failing immediately
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	s.db = db

	if err := s.createTables(ctx); err != nil {
		return wrapError("init", err)
	}

	return nil
}

// createTables creates the memories table and its indexes.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		owner_id TEXT DEFAULT '',
		agent_id TEXT DEFAULT '',
		session_id TEXT DEFAULT '',
		category TEXT DEFAULT 'general',
		importance REAL DEFAULT 0.5,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id);
	CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
	CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
	CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at);
	`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Put upserts a record by id, replacing all mutable fields.
func (s *SQLiteStore) Put(ctx context.Context, m *Memory) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wrapError("put", ErrStoreClosed)
	}
	if m == nil || m.ID == "" {
		return wrapError("put", fmt.Errorf("record must have an id"))
	}

	metadataJSON, err := encoding.EncodeMetadata(m.Metadata)
	if err != nil {
		return wrapError("put", err)
	}

	var embeddingBlob []byte
	if m.Embedding != nil {
		embeddingBlob, err = encoding.EncodeVector(m.Embedding)
		if err != nil {
			return wrapError("put", err)
		}
	}

	query := `
	INSERT OR REPLACE INTO memories
	(id, content, owner_id, agent_id, session_id, category, importance, created_at, updated_at, metadata, embedding)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		m.Content,
		m.OwnerID,
		m.AgentID,
		m.SessionID,
		m.Category,
		m.Importance,
		m.CreatedAt.UTC().Format(TimeLayout),
		m.UpdatedAt.UTC().Format(TimeLayout),
		metadataJSON,
		embeddingBlob,
	)
	if err != nil {
		return wrapError("put", fmt.Errorf("failed to insert record: %w", err))
	}

	return nil
}

// Get fetches a record by id. A miss returns (nil, nil), not an error.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("get", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM memories WHERE id = ?", id)
	if err != nil {
		return nil, wrapError("get", fmt.Errorf("failed to query record: %w", err))
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}

	m, err := scanMemory(rows)
	if err != nil {
		return nil, wrapError("get", err)
	}
	return m, nil
}

// Delete removes a record by id and returns the number of rows removed
// (0 or 1). Deleting an absent id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, wrapError("delete", ErrStoreClosed)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return 0, wrapError("delete", fmt.Errorf("failed to delete record: %w", err))
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, wrapError("delete", fmt.Errorf("failed to get rows affected: %w", err))
	}

	return removed, nil
}

// Filter selects records by owner, category, and/or session. Empty fields
// are unconstrained.
type Filter struct {
	Owner    string
	Category string
	Session  string
}

// IsEmpty reports whether the filter carries no predicate.
func (f Filter) IsEmpty() bool {
	return f.Owner == "" && f.Category == "" && f.Session == ""
}

// toSQL builds the WHERE clause for the filter.
func (f Filter) toSQL() (string, []any) {
	var conditions []string
	var args []any

	if f.Owner != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, f.Owner)
	}
	if f.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, f.Category)
	}
	if f.Session != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, f.Session)
	}

	return strings.Join(conditions, " AND "), args
}

// DeleteWhere removes all records matching the filter and returns the count
// removed. An empty filter is rejected rather than wiping the table.
func (s *SQLiteStore) DeleteWhere(ctx context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, wrapError("delete_where", ErrStoreClosed)
	}
	if f.IsEmpty() {
		return 0, wrapError("delete_where", ErrEmptyFilter)
	}

	whereClause, args := f.toSQL()
	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE "+whereClause, args...)
	if err != nil {
		return 0, wrapError("delete_where", fmt.Errorf("failed to delete records: %w", err))
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, wrapError("delete_where", fmt.Errorf("failed to get rows affected: %w", err))
	}

	return removed, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, wrapError("count", ErrStoreClosed)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		return 0, wrapError("count", fmt.Errorf("failed to count records: %w", err))
	}
	return count, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
