package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/lmarchetti42/chatform/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			token_count INTEGER NOT NULL DEFAULT 0,
			cost TEXT NOT NULL DEFAULT '0',
			execution_id TEXT NOT NULL DEFAULT '',
			execution_title TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			extracted TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, token_count, cost, execution_id, execution_title, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.TokenCount, session.Cost.String(),
		session.ExecutionID, session.ExecutionTitle, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns a session by id, or nil when it does not exist.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, token_count, cost, execution_id, execution_title, created_at
		 FROM sessions WHERE session_id = ?`, sessionID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, token_count, cost, execution_id, execution_title, created_at
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// UpdateSessionUsage overwrites the session's running counters.
func (s *SQLiteStore) UpdateSessionUsage(ctx context.Context, sessionID string, tokens int, cost decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET token_count = ?, cost = ? WHERE session_id = ?`,
		tokens, cost.String(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session usage: %w", err)
	}
	return nil
}

// SetSessionExecution records the execution id. The first write wins.
func (s *SQLiteStore) SetSessionExecution(ctx context.Context, sessionID, executionID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET execution_id = ?, execution_title = ?
		 WHERE session_id = ? AND execution_id = ''`,
		executionID, title, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set session execution: %w", err)
	}
	return nil
}

// CreateMessage inserts a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	extracted, err := marshalExtraction(message.Extracted)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, extracted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.SessionID, string(message.Role),
		message.Content, extracted, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// UpdateMessage overwrites a message's content and extracted payload.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, message *domain.Message) error {
	extracted, err := marshalExtraction(message.Extracted)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, extracted = ? WHERE message_id = ?`,
		message.Content, extracted, message.MessageID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// GetMessages returns messages of a session in insertion order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, extracted, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY created_at ASC, message_id ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var extracted sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &role,
			&msg.Content, &extracted, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = domain.Role(role)
		if extracted.Valid && extracted.String != "" {
			var ex domain.Extraction
			if err := json.Unmarshal([]byte(extracted.String), &ex); err == nil {
				msg.Extracted = &ex
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var cost string
	if err := row.Scan(&session.SessionID, &session.TokenCount, &cost,
		&session.ExecutionID, &session.ExecutionTitle, &session.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(cost)
	if err != nil {
		parsed = decimal.Zero
	}
	session.Cost = parsed
	return &session, nil
}

func marshalExtraction(ex *domain.Extraction) (any, error) {
	if ex == nil {
		return nil, nil
	}
	data, err := json.Marshal(ex)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction: %w", err)
	}
	return string(data), nil
}
