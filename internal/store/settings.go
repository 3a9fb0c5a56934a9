package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Settings are the operator-tunable runtime values. Every numeric value
// is clamped into its documented range on read, so a hand-edited row can
// never push the runtime outside safe bounds.
type Settings struct {
	MaxIterations        int  `json:"max_iterations"`
	StreamTimeoutSeconds int  `json:"stream_timeout_seconds"`
	MaxTokens            int  `json:"max_tokens"`
	WorkerCount          int  `json:"worker_count"`
	FlushEvery           int  `json:"flush_every"`
	UnknownToolDeny      bool `json:"unknown_tool_deny"`
}

type intSetting struct {
	key      string
	def      int
	min, max int
}

var intSettings = []intSetting{
	{"max_iterations", 30, 10, 99},
	{"stream_timeout_seconds", 300, 60, 1800},
	{"max_tokens", 16384, 1024, 65536},
	{"worker_count", 5, 1, 32},
	{"flush_every", 10, 1, 1000},
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		MaxIterations:        30,
		StreamTimeoutSeconds: 300,
		MaxTokens:            16384,
		WorkerCount:          5,
		FlushEvery:           10,
		UnknownToolDeny:      false,
	}
}

// GetSettings loads settings, falling back to defaults for missing keys
// and clamping stored values into range.
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	out := DefaultSettings()
	for _, is := range intSettings {
		v, ok, err := s.getSetting(ctx, is.key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue // unparseable row keeps the default
		}
		n = clampInt(n, is.min, is.max)
		switch is.key {
		case "max_iterations":
			out.MaxIterations = n
		case "stream_timeout_seconds":
			out.StreamTimeoutSeconds = n
		case "max_tokens":
			out.MaxTokens = n
		case "worker_count":
			out.WorkerCount = n
		case "flush_every":
			out.FlushEvery = n
		}
	}
	if v, ok, err := s.getSetting(ctx, "unknown_tool_deny"); err != nil {
		return nil, err
	} else if ok {
		out.UnknownToolDeny = v == "true" || v == "1"
	}
	return out, nil
}

// UpdateSetting writes one setting. Numeric values are clamped before
// storage so reads and writes agree.
func (s *Store) UpdateSetting(ctx context.Context, key, value string) error {
	for _, is := range intSettings {
		if is.key != key {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("setting %s: invalid integer %q", key, value)
		}
		value = strconv.Itoa(clampInt(n, is.min, is.max))
		return s.putSetting(ctx, key, value)
	}
	if key == "unknown_tool_deny" {
		if value != "true" && value != "false" {
			return fmt.Errorf("setting %s: want true or false, got %q", key, value)
		}
		return s.putSetting(ctx, key, value)
	}
	return fmt.Errorf("unknown setting %q", key)
}

func (s *Store) getSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) putSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}
