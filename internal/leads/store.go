package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danmuck/chatctl/internal/chat"
)

var ErrDuplicateEmail = errors.New("leads: email already exists")

// Store persists leads in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath in WAL mode.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("leads: create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("leads: open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("leads: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("leads: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL,
		company TEXT,
		qa_pairs_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores one lead. A second lead with the same email fails with
// ErrDuplicateEmail.
func (s *Store) Insert(ctx context.Context, lead Lead) error {
	var pairsJSON any
	if len(lead.QuestionAnswerPairs) > 0 {
		raw, err := json.Marshal(lead.QuestionAnswerPairs)
		if err != nil {
			return fmt.Errorf("leads: marshal qa pairs: %w", err)
		}
		pairsJSON = string(raw)
	}

	query := `
	INSERT INTO leads (id, name, email, phone, company, qa_pairs_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		lead.ID, lead.Name, lead.Email, lead.Phone,
		nullable(lead.Company), pairsJSON, lead.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateEmail, lead.Email)
		}
		return fmt.Errorf("leads: insert: %w", err)
	}
	return nil
}

// List returns one page of leads, newest first, and the total count.
func (s *Store) List(ctx context.Context, page, limit int) ([]Lead, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("leads: count: %w", err)
	}

	offset := (page - 1) * limit
	query := `
	SELECT id, name, email, phone, company, qa_pairs_json, created_at
	FROM leads ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("leads: list: %w", err)
	}
	defer rows.Close()

	out := make([]Lead, 0, limit)
	for rows.Next() {
		var (
			lead      Lead
			company   sql.NullString
			pairsJSON sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&lead.ID, &lead.Name, &lead.Email, &lead.Phone, &company, &pairsJSON, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("leads: scan row: %w", err)
		}
		lead.Company = company.String
		lead.CreatedAt = time.Unix(createdAt, 0).UTC()
		if pairsJSON.Valid && pairsJSON.String != "" {
			var pairs []chat.QuestionAnswerPair
			if err := json.Unmarshal([]byte(pairsJSON.String), &pairs); err != nil {
				return nil, 0, fmt.Errorf("leads: decode qa pairs: %w", err)
			}
			lead.QuestionAnswerPairs = pairs
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("leads: iterate rows: %w", err)
	}
	return out, total, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLITE_CONSTRAINT_UNIQUE")
}
