package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/zhouzirui/duet/backend/internal/model/chat"
)

// SQLiteStore is the durable backend. Safety tags are stored as a JSON
// array column; the per-session sequence is computed inside the append
// transaction so cursors stay dense and monotonic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given DSN.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY, -- UUID
        mode TEXT NOT NULL CHECK (mode IN ('couple', 'solo')),
        turn_state TEXT NOT NULL,
        boundary_flag BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('partnerA', 'partnerB', 'ai')),
        content TEXT NOT NULL,
        seq INTEGER NOT NULL,
        safety_tags TEXT, -- JSON array
        risk_level TEXT,
        created_at DATETIME NOT NULL,
        UNIQUE (session_id, seq),
        FOREIGN KEY (session_id) REFERENCES sessions (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession records a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session chat.Session) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, mode, turn_state, boundary_flag, created_at) VALUES (?, ?, ?, ?, ?)",
		session.ID, string(session.Mode), string(session.TurnState), session.BoundaryFlag, session.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns the current session record.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var session chat.Session
	var mode, turnState, createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, mode, turn_state, boundary_flag, created_at FROM sessions WHERE id = ?", sessionID).
		Scan(&session.ID, &mode, &turnState, &session.BoundaryFlag, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	session.Mode = chat.Mode(mode)
	session.TurnState = chat.TurnState(turnState)
	session.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return session, nil
}

// AppendAndAdvance runs the message insert and session update in one
// transaction, the unit of atomicity the turn engine requires.
func (s *SQLiteStore) AppendAndAdvance(ctx context.Context, message chat.Message, next chat.TurnState, boundary bool) (chat.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE sessions SET turn_state = ?, boundary_flag = ? WHERE id = ?",
		string(next), boundary, message.SessionID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to advance session: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return chat.Message{}, ErrSessionNotFound
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?",
		message.SessionID).Scan(&message.Seq); err != nil {
		return chat.Message{}, fmt.Errorf("failed to assign sequence: %w", err)
	}

	tags, err := json.Marshal(message.SafetyTags)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to encode safety tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, sender, content, seq, safety_tags, risk_level, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		message.ID, message.SessionID, string(message.Sender), message.Content, message.Seq,
		string(tags), message.RiskLevel, message.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return chat.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("failed to commit append: %w", err)
	}
	return message, nil
}

// MessagesSince returns messages newer than the cursor, in creation order.
func (s *SQLiteStore) MessagesSince(ctx context.Context, sessionID string, since int64) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, sender, content, seq, safety_tags, risk_level, created_at FROM messages WHERE session_id = ? AND seq > ? ORDER BY seq ASC",
		sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var sender, createdAt string
		var tags sql.NullString
		var riskLevel sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &sender, &msg.Content, &msg.Seq, &tags, &riskLevel, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender = chat.Sender(sender)
		msg.RiskLevel = riskLevel.String
		if tags.Valid && tags.String != "" && tags.String != "null" {
			if err := json.Unmarshal([]byte(tags.String), &msg.SafetyTags); err != nil {
				return nil, fmt.Errorf("failed to decode safety tags: %w", err)
			}
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ResetBoundary clears the lockout and hands the turn back to partner A.
func (s *SQLiteStore) ResetBoundary(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET boundary_flag = FALSE, turn_state = ? WHERE id = ?",
		string(chat.AwaitingA), sessionID)
	if err != nil {
		return fmt.Errorf("failed to reset boundary: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}
