package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jeanpaul/tutor/internal/types"
)

// Turn is a persisted conversation turn.
type Turn struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Methodology string    `json:"methodology,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	types.ConversationTurn
}

// AppendTurn stores a turn at the end of its session and returns it with
// its order assigned.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, role types.Role, content, methodology string) (Turn, error) {
	now := time.Now().UTC()
	t := Turn{
		ID:          s.newID(),
		SessionID:   sessionID,
		Methodology: methodology,
		CreatedAt:   now,
		ConversationTurn: types.ConversationTurn{
			Role:    role,
			Content: content,
		},
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, err
	}
	defer tx.Rollback()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM turns WHERE session_id = ?`, sessionID).Scan(&last); err != nil {
		return Turn{}, fmt.Errorf("next turn seq: %w", err)
	}
	t.Order = int(last.Int64) + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, seq, role, content, methodology, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, sessionID, t.Order, string(role), content, methodology, now.Format(time.RFC3339Nano)); err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, err
	}
	return t, nil
}

// RecentTurns returns up to limit latest turns of a session, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]types.ConversationTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, seq FROM turns
		WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationTurn
	for rows.Next() {
		var (
			t    types.ConversationTurn
			role string
		)
		if err := rows.Scan(&role, &t.Content, &t.Order); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = types.Role(role)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
