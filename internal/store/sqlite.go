package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS app_state (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS feedback (
        query_id TEXT PRIMARY KEY,
        feedback_type TEXT NOT NULL CHECK (feedback_type IN ('positive', 'negative')),
        original_text TEXT NOT NULL,
        generated_query TEXT NOT NULL,
        conversation_id TEXT,
        user_id TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        synced BOOLEAN DEFAULT FALSE
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()

	var user User
	err = s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// App-state methods. A minimal durable key-value surface; the only key the
// orchestrator uses today is the per-user current conversation id.
func (s *SQLiteStore) setState(key, value string) error {
	_, err := s.db.Exec("INSERT INTO app_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert app state %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) getState(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil // Unset
		}
		return "", fmt.Errorf("failed to query app state %q: %w", key, err)
	}
	return value, nil
}

func currentConversationKey(userID string) string {
	return "current_conversation_id:" + userID
}

func (s *SQLiteStore) CurrentConversationID(userID string) (string, error) {
	return s.getState(currentConversationKey(userID))
}

func (s *SQLiteStore) SetCurrentConversationID(userID, conversationID string) error {
	return s.setState(currentConversationKey(userID), conversationID)
}

// Feedback methods
func (s *SQLiteStore) GetFeedback(queryID string) (*FeedbackRecord, error) {
	var rec FeedbackRecord
	var conversationID sql.NullString
	err := s.db.QueryRow("SELECT query_id, feedback_type, original_text, generated_query, conversation_id, user_id, timestamp, synced FROM feedback WHERE query_id = ?", queryID).
		Scan(&rec.QueryID, &rec.FeedbackType, &rec.OriginalText, &rec.GeneratedQuery, &conversationID, &rec.UserID, &rec.Timestamp, &rec.Synced)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No vote recorded
		}
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	if conversationID.Valid {
		rec.ConversationID = &conversationID.String
	}
	return &rec, nil
}

func (s *SQLiteStore) RecordFeedback(rec *FeedbackRecord) error {
	var conversationID sql.NullString
	if rec.ConversationID != nil && *rec.ConversationID != "" {
		conversationID = sql.NullString{String: *rec.ConversationID, Valid: true}
	}

	stmt, err := s.db.Prepare("INSERT INTO feedback (query_id, feedback_type, original_text, generated_query, conversation_id, user_id, timestamp, synced) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare feedback insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(rec.QueryID, rec.FeedbackType, rec.OriginalText, rec.GeneratedQuery, conversationID, rec.UserID, rec.Timestamp, rec.Synced)
	if err != nil {
		return fmt.Errorf("failed to execute feedback insert: %w", err)
	}
	return nil
}

// OldestPending returns the head of the pending sync queue, or nil when the
// queue is empty. Queue order is insertion order (rowid).
func (s *SQLiteStore) OldestPending() (*FeedbackRecord, error) {
	var rec FeedbackRecord
	var conversationID sql.NullString
	err := s.db.QueryRow("SELECT query_id, feedback_type, original_text, generated_query, conversation_id, user_id, timestamp, synced FROM feedback WHERE synced = FALSE ORDER BY rowid ASC LIMIT 1").
		Scan(&rec.QueryID, &rec.FeedbackType, &rec.OriginalText, &rec.GeneratedQuery, &conversationID, &rec.UserID, &rec.Timestamp, &rec.Synced)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query pending feedback: %w", err)
	}
	if conversationID.Valid {
		rec.ConversationID = &conversationID.String
	}
	return &rec, nil
}

// MarkFeedbackSynced removes an entry from the pending queue. The lookup row
// itself is kept forever so repeat votes stay rejected after a sync.
func (s *SQLiteStore) MarkFeedbackSynced(queryID string) error {
	res, err := s.db.Exec("UPDATE feedback SET synced = TRUE WHERE query_id = ?", queryID)
	if err != nil {
		return fmt.Errorf("failed to mark feedback synced: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("feedback not found, sync state not updated")
	}
	return nil
}

func (s *SQLiteStore) PendingFeedbackCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM feedback WHERE synced = FALSE").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending feedback: %w", err)
	}
	return count, nil
}
