package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/memvect/memvect/internal/encoding"
)

const selectColumns = `SELECT id, content, owner_id, agent_id, session_id, category, importance, created_at, updated_at, metadata, embedding`

// totalOrder breaks remaining ties by insertion order so repeated queries
// over identical data return identical slices.
const totalOrder = `importance DESC, updated_at DESC, rowid ASC`

// SearchKeyword returns records whose content contains the query substring,
// case-insensitively, optionally scoped to an owner and category. Results are
// ordered by importance then recency.
func (s *SQLiteStore) SearchKeyword(ctx context.Context, query, owner, category string, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("search_keyword", ErrStoreClosed)
	}
	if limit <= 0 {
		return nil, nil
	}

	sqlQuery := selectColumns + ` FROM memories WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}

	if owner != "" {
		sqlQuery += " AND owner_id = ?"
		args = append(args, owner)
	}
	if category != "" {
		sqlQuery += " AND category = ?"
		args = append(args, category)
	}

	sqlQuery += " ORDER BY " + totalOrder + " LIMIT ?"
	args = append(args, limit)

	return s.queryMemories(ctx, "search_keyword", sqlQuery, args...)
}

// Recent returns the most recently updated records for an owner. When a
// session is given, records from that session and records stored without a
// session both qualify.
func (s *SQLiteStore) Recent(ctx context.Context, owner, session string, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("recent", ErrStoreClosed)
	}
	if limit <= 0 {
		return nil, nil
	}

	sqlQuery := selectColumns + " FROM memories WHERE 1=1"
	var args []any

	if owner != "" {
		sqlQuery += " AND owner_id = ?"
		args = append(args, owner)
	}
	if session != "" {
		sqlQuery += " AND (session_id = ? OR session_id = '')"
		args = append(args, session)
	}

	sqlQuery += " ORDER BY updated_at DESC, rowid ASC LIMIT ?"
	args = append(args, limit)

	return s.queryMemories(ctx, "recent", sqlQuery, args...)
}

// ByCategory returns records in a category at or above a minimum importance,
// ordered by importance then recency.
func (s *SQLiteStore) ByCategory(ctx context.Context, owner, category string, minImportance float64, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("by_category", ErrStoreClosed)
	}
	if limit <= 0 {
		return nil, nil
	}

	sqlQuery := selectColumns + " FROM memories WHERE category = ? AND importance >= ?"
	args := []any{category, minImportance}

	if owner != "" {
		sqlQuery += " AND owner_id = ?"
		args = append(args, owner)
	}

	sqlQuery += " ORDER BY " + totalOrder + " LIMIT ?"
	args = append(args, limit)

	return s.queryMemories(ctx, "by_category", sqlQuery, args...)
}

// queryMemories runs a select and scans all rows. Callers hold s.mu.
func (s *SQLiteStore) queryMemories(ctx context.Context, op, query string, args ...any) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(op, fmt.Errorf("query failed: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var results []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}

	return results, nil
}

// AllWithEmbeddings walks every record that carries an embedding, in
// insertion order. Used to rebuild the vector index when no snapshot exists.
func (s *SQLiteStore) AllWithEmbeddings(ctx context.Context) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrapError("all_with_embeddings", ErrStoreClosed)
	}

	query := selectColumns + " FROM memories WHERE embedding IS NOT NULL ORDER BY rowid ASC"
	return s.queryMemories(ctx, "all_with_embeddings", query)
}

// scanMemory reads one row into a Memory.
func scanMemory(rows *sql.Rows) (*Memory, error) {
	var m Memory
	var createdAt, updatedAt string
	var metadataJSON sql.NullString
	var embeddingBlob []byte

	err := rows.Scan(
		&m.ID,
		&m.Content,
		&m.OwnerID,
		&m.AgentID,
		&m.SessionID,
		&m.Category,
		&m.Importance,
		&createdAt,
		&updatedAt,
		&metadataJSON,
		&embeddingBlob,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if m.CreatedAt, err = time.Parse(TimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(TimeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		m.Metadata, err = encoding.DecodeMetadata(metadataJSON.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	if len(embeddingBlob) > 0 {
		m.Embedding, err = encoding.DecodeVector(embeddingBlob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}

	return &m, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
