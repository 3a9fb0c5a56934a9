package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/techs-targe/PromptRig-sub001/internal/policy"
)

// AppendAudit persists one policy decision. Implements policy.AuditSink.
func (s *Store) AppendAudit(ctx context.Context, sessionID string, d *policy.Decision) error {
	argsJSON, err := json.Marshal(d.Args)
	if err != nil {
		return fmt.Errorf("encoding decision args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (session_id, tool, tier, outcome, reason, args_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, d.Tool, string(d.Tier), string(d.Outcome), d.Reason, string(argsJSON), d.Timestamp)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// AuditEntry is one persisted policy decision.
type AuditEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Tool      string    `json:"tool"`
	Tier      string    `json:"tier"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason"`
	ArgsJSON  string    `json:"args_json"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAudit returns a session's audit trail in decision order.
func (s *Store) ListAudit(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error) {
	query := `SELECT id, session_id, tool, tier, outcome, reason, args_json, created_at
	          FROM audit_log WHERE session_id = ? ORDER BY id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Tool, &e.Tier, &e.Outcome, &e.Reason, &e.ArgsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
