// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package conversation persists conversation turns in SQLite and serves
// the recent-turn window the analyzer and integrator read from.
// Implements: prd005-conversation (R1-R4); docs/ARCHITECTURE.md §
// Conversation Store.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/research-assistant/pkg/types"
)

// Store manages the conversation SQLite database. Turns form an
// ordered-append log per conversation; nothing is ever updated in place.
type Store struct {
	db         *sql.DB
	windowSize int
}

// NewStore opens or creates the conversation database at cfg.Path and
// creates the schema if it does not exist.
func NewStore(cfg types.StoreConfig) (*Store, error) {
	cfg = cfg.WithDefaults()

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, windowSize: cfg.WindowSize}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. The health endpoint uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			intent_type TEXT,
			entities TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, seq)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Append adds one turn to the end of its conversation's log. Missing IDs
// and timestamps are filled in; the stored turn is returned.
func (s *Store) Append(ctx context.Context, turn types.Turn) (types.Turn, error) {
	if turn.ConversationID == "" {
		return types.Turn{}, fmt.Errorf("turn has no conversation ID")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var entitiesJSON []byte
	if len(turn.Entities) > 0 {
		var err error
		entitiesJSON, err = json.Marshal(turn.Entities)
		if err != nil {
			return types.Turn{}, fmt.Errorf("marshaling entities: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, role, content, created_at, intent_type, entities)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ConversationID, string(turn.Role), turn.Content,
		turn.CreatedAt.Format(time.RFC3339Nano), turn.IntentType, string(entitiesJSON),
	)
	if err != nil {
		return types.Turn{}, fmt.Errorf("inserting turn: %w", err)
	}
	return turn, nil
}

// ReadRecent returns the last n turns of a conversation in chronological
// order. n <= 0 uses the store's configured window size. An unknown
// conversation yields an empty slice, not an error.
func (s *Store) ReadRecent(ctx context.Context, conversationID string, n int) ([]types.Turn, error) {
	if n <= 0 {
		n = s.windowSize
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at, intent_type, entities
		 FROM turns WHERE conversation_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	// Rows came back newest-first; reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// History returns every turn of a conversation in chronological order.
func (s *Store) History(ctx context.Context, conversationID string) ([]types.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at, intent_type, entities
		 FROM turns WHERE conversation_id = ?
		 ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// Conversations lists known conversation IDs, most recently active first.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM turns GROUP BY conversation_id ORDER BY max(seq) DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTurns(rows *sql.Rows) ([]types.Turn, error) {
	var turns []types.Turn
	for rows.Next() {
		var (
			turn         types.Turn
			role         string
			createdAt    string
			intentType   sql.NullString
			entitiesJSON sql.NullString
		)
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &role, &turn.Content,
			&createdAt, &intentType, &entitiesJSON); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}

		turn.Role = types.Role(role)
		turn.IntentType = intentType.String

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing turn timestamp: %w", err)
		}
		turn.CreatedAt = ts

		if entitiesJSON.Valid && entitiesJSON.String != "" {
			if err := json.Unmarshal([]byte(entitiesJSON.String), &turn.Entities); err != nil {
				return nil, fmt.Errorf("parsing turn entities: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
