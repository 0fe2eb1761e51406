package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/ircmod/core/extension"
)

// HistoryStore persists message history per target, pruning to the
// caller-supplied line and age limits on every insert.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a history store on an open database.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Add inserts one line and prunes the target back within limit. A
// duplicate message ID for the same target is ignored; replayed server
// bursts must not double history.
func (s *HistoryStore) Add(ctx context.Context, target string, line extension.HistoryLine, limit extension.HistoryLimit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_lines (target, msg_id, sent_at, line)
		VALUES (?, ?, ?, ?)
	`, target, line.ID, line.Time.UTC(), line.Line)
	if err != nil {
		return fmt.Errorf("history add: %w", err)
	}
	return s.prune(ctx, target, limit)
}

func (s *HistoryStore) prune(ctx context.Context, target string, limit extension.HistoryLimit) error {
	if limit.MaxAge > 0 {
		cutoff := time.Now().UTC().Add(-limit.MaxAge)
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM history_lines WHERE target = ? AND sent_at < ?
		`, target, cutoff); err != nil {
			return fmt.Errorf("history prune by age: %w", err)
		}
	}
	if limit.MaxLines > 0 {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM history_lines
			WHERE target = ? AND id NOT IN (
				SELECT id FROM history_lines
				WHERE target = ?
				ORDER BY sent_at DESC, id DESC
				LIMIT ?
			)
		`, target, target, limit.MaxLines); err != nil {
			return fmt.Errorf("history prune by count: %w", err)
		}
	}
	return nil
}

// SetLimit prunes the target immediately without adding anything.
func (s *HistoryStore) SetLimit(ctx context.Context, target string, limit extension.HistoryLimit) error {
	return s.prune(ctx, target, limit)
}

// Query returns the target's history oldest first, honoring the filter's
// line limit and message-ID bounds.
func (s *HistoryStore) Query(ctx context.Context, target string, filter extension.HistoryFilter) ([]extension.HistoryLine, error) {
	query := `SELECT msg_id, sent_at, line FROM history_lines WHERE target = ?`
	args := []any{target}

	if filter.AfterID != "" {
		query += ` AND id > (SELECT id FROM history_lines WHERE target = ? AND msg_id = ?)`
		args = append(args, target, filter.AfterID)
	}
	if filter.BeforeID != "" {
		query += ` AND id < (SELECT id FROM history_lines WHERE target = ? AND msg_id = ?)`
		args = append(args, target, filter.BeforeID)
	}
	if filter.Limit.MaxAge > 0 {
		query += ` AND sent_at >= ?`
		args = append(args, time.Now().UTC().Add(-filter.Limit.MaxAge))
	}
	query += ` ORDER BY sent_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var lines []extension.HistoryLine
	for rows.Next() {
		var l extension.HistoryLine
		if err := rows.Scan(&l.ID, &l.Time, &l.Line); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Line limits keep the newest lines, so trim from the front.
	if n := filter.Limit.MaxLines; n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Destroy drops all history for a target.
func (s *HistoryStore) Destroy(ctx context.Context, target string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_lines WHERE target = ?`, target); err != nil {
		return fmt.Errorf("history destroy: %w", err)
	}
	return nil
}
