package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	ConversationActive = "active"
	ConversationEnded  = "ended"
)

type Conversation struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	TurnCount int        `json:"turn_count"`
}

// TurnRecord is one archived exchange.
type TurnRecord struct {
	Timestamp time.Time `json:"timestamp"`
	UserText  string    `json:"user_text"`
	ReplyText string    `json:"reply_text"`
	IsCrisis  bool      `json:"is_crisis"`
	Severity  string    `json:"severity"`
	Emotion   string    `json:"emotion,omitempty"`
}

// SafetyEvent is one flagged or monitored classifier verdict.
type SafetyEvent struct {
	Timestamp         time.Time `json:"timestamp"`
	Severity          string    `json:"severity"`
	Keywords          []string  `json:"keywords"`
	ContextIndicators []string  `json:"context_indicators"`
	Input             string    `json:"input"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "tish.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			user_text TEXT NOT NULL,
			reply_text TEXT NOT NULL,
			is_crisis INTEGER NOT NULL DEFAULT 0,
			severity TEXT NOT NULL DEFAULT 'none',
			emotion TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS safety_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			keywords TEXT NOT NULL DEFAULT '',
			context_indicators TEXT NOT NULL DEFAULT '',
			input TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create safety_events table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_conversations_started_at ON conversations(started_at)"); err != nil {
		return fmt.Errorf("create conversations index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_turns_conversation_id ON turns(conversation_id, timestamp)"); err != nil {
		return fmt.Errorf("create turns index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("conversation id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(id, started_at, status) VALUES(?, ?, ?)`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		ConversationActive,
	)
	if err != nil {
		return fmt.Errorf("create conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndConversation(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET ended_at = ?, status = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		ConversationEnded,
		id,
	)
	if err != nil {
		return fmt.Errorf("end conversation %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end conversation rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID string, turn TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(conversation_id, user_text, reply_text, is_crisis, severity, emotion, timestamp) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		conversationID,
		strings.TrimSpace(turn.UserText),
		strings.TrimSpace(turn.ReplyText),
		turn.IsCrisis,
		orDefault(turn.Severity, "none"),
		turn.Emotion,
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append turn for conversation %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) RecordSafetyEvent(ctx context.Context, conversationID string, ev SafetyEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO safety_events(conversation_id, severity, keywords, context_indicators, input, timestamp) VALUES(?, ?, ?, ?, ?, ?)`,
		conversationID,
		ev.Severity,
		strings.Join(ev.Keywords, ","),
		strings.Join(ev.ContextIndicators, ","),
		ev.Input,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record safety event for conversation %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) GetConversationsByDate(ctx context.Context, date string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.started_at, c.ended_at, c.status, COUNT(t.id)
		 FROM conversations c
		 LEFT JOIN turns t ON t.conversation_id = c.id
		 WHERE substr(c.started_at, 1, 10) = ?
		 GROUP BY c.id
		 ORDER BY c.started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	return scanConversations(rows)
}

func (s *SQLiteStore) GetDates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM conversations ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.started_at, c.ended_at, c.status, COUNT(t.id)
		 FROM conversations c
		 LEFT JOIN turns t ON t.conversation_id = c.id
		 WHERE c.id = ?
		 GROUP BY c.id`,
		id,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("query conversation %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	convs, err := scanConversations(rows)
	if err != nil {
		return Conversation{}, err
	}
	if len(convs) == 0 {
		return Conversation{}, fmt.Errorf("query conversation %s: %w", id, sql.ErrNoRows)
	}
	return convs[0], nil
}

func (s *SQLiteStore) GetTurns(ctx context.Context, conversationID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_text, reply_text, is_crisis, severity, emotion, timestamp
		 FROM turns
		 WHERE conversation_id = ?
		 ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns for conversation %s: %w", conversationID, err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]TurnRecord, 0, 16)
	for rows.Next() {
		var turn TurnRecord
		var ts string
		if err := rows.Scan(&turn.UserText, &turn.ReplyText, &turn.IsCrisis, &turn.Severity, &turn.Emotion, &ts); err != nil {
			return nil, fmt.Errorf("scan turn for conversation %s: %w", conversationID, err)
		}

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse turn timestamp for conversation %s: %w", conversationID, err)
		}
		turn.Timestamp = parsedTS

		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows for conversation %s: %w", conversationID, err)
	}

	return turns, nil
}

func (s *SQLiteStore) GetSafetyEvents(ctx context.Context, conversationID string) ([]SafetyEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, keywords, context_indicators, input, timestamp
		 FROM safety_events
		 WHERE conversation_id = ?
		 ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query safety events for conversation %s: %w", conversationID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []SafetyEvent
	for rows.Next() {
		var ev SafetyEvent
		var keywords, indicators, ts string
		if err := rows.Scan(&ev.Severity, &keywords, &indicators, &ev.Input, &ts); err != nil {
			return nil, fmt.Errorf("scan safety event: %w", err)
		}
		ev.Keywords = splitList(keywords)
		ev.ContextIndicators = splitList(indicators)

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse safety event timestamp: %w", err)
		}
		ev.Timestamp = parsedTS
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate safety event rows: %w", err)
	}

	return events, nil
}

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	convs := make([]Conversation, 0, 16)
	for rows.Next() {
		var conv Conversation
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&conv.ID, &startedAt, &endedAt, &conv.Status, &conv.TurnCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}

		parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		conv.StartedAt = parsedStart

		if endedAt.Valid {
			parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			conv.EndedAt = &parsedEnd
		}

		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return convs, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
