package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/techs-targe/PromptRig-sub001/internal/session"
)

// SaveMessages replaces the persisted history for a session. Called at
// turn end so a later task on the same session id can continue the
// conversation.
func (s *Store) SaveMessages(ctx context.Context, sessionID string, msgs []session.Message) error {
	ctx, span := tracer.Start(ctx, "store.messages.save")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning message transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clearing messages: %w", err)
	}
	for i, m := range msgs {
		var toolCalls string
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("encoding tool calls: %w", err)
			}
			toolCalls = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, tool_calls, tool_call_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, i, m.Role, m.Content, toolCalls, m.ToolCallID, m.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	return nil
}

// LoadMessages returns the persisted history for a session, in order.
func (s *Store) LoadMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []session.Message
	for rows.Next() {
		var m session.Message
		var toolCalls string
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &m.ToolCallID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
