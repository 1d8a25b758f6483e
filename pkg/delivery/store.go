// Package delivery keeps a log of every send attempt and reports gateway
// status on a schedule.
package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/broadcastio/wagateway/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// fixed width so stored timestamps sort lexically
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Delivery is one recorded send attempt.
type Delivery struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Recipient    string    `json:"recipient"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	Kind         string    `json:"kind"`
	Success      bool      `json:"success"`
	MessageID    string    `json:"message_id,omitempty"`
	Attachment   bool      `json:"attachment"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMS   int64     `json:"duration_ms"`
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Limit       int
	ReferenceID string
	Recipient   string
	FailedOnly  bool
}

// Stats summarizes the log.
type Stats struct {
	Total     int64            `json:"total"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
	ByKind    map[string]int64 `json:"by_kind"`
}

// Store is the sqlite-backed delivery log.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open opens (creating if needed) the delivery log at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create delivery db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open delivery db: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init delivery schema: %w", err)
	}

	logger.InfoCF("delivery", "Delivery log opened", map[string]interface{}{
		"db_path": path,
	})
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		message_id TEXT NOT NULL DEFAULT '',
		attachment INTEGER NOT NULL DEFAULT 0,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_finished ON deliveries(finished_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_reference ON deliveries(reference_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health pings the database.
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.Ping()
}

// Record appends d to the log.
func (s *Store) Record(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, provider, recipient, reference_id, kind, success, message_id,
			attachment, error_code, error_message, started_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Provider, d.Recipient, d.ReferenceID, d.Kind, boolToInt(d.Success), d.MessageID,
		boolToInt(d.Attachment), d.ErrorCode, d.ErrorMessage,
		formatTime(d.StartedAt), formatTime(d.FinishedAt), d.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert delivery %s: %w", d.ID, err)
	}
	return nil
}

// List returns the most recent deliveries first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, provider, recipient, reference_id, kind, success, message_id, attachment,
		error_code, error_message, started_at, finished_at, duration_ms FROM deliveries WHERE 1=1`
	args := []interface{}{}

	if f.ReferenceID != "" {
		query += " AND reference_id = ?"
		args = append(args, f.ReferenceID)
	}
	if f.Recipient != "" {
		query += " AND recipient = ?"
		args = append(args, f.Recipient)
	}
	if f.FailedOnly {
		query += " AND success = 0"
	}

	query += " ORDER BY finished_at DESC, rowid DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []Delivery{}
	for rows.Next() {
		var (
			d                   Delivery
			success, attachment int
			started, finished   string
		)
		if err := rows.Scan(&d.ID, &d.Provider, &d.Recipient, &d.ReferenceID, &d.Kind, &success,
			&d.MessageID, &attachment, &d.ErrorCode, &d.ErrorMessage, &started, &finished,
			&d.DurationMS); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Success = success != 0
		d.Attachment = attachment != 0
		d.StartedAt = parseTime(started)
		d.FinishedAt = parseTime(finished)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// Stats returns aggregate counts over the whole log.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByKind: map[string]int64{}}
	rows, err := s.db.QueryContext(ctx, "SELECT kind, success, COUNT(*) FROM deliveries GROUP BY kind, success")
	if err != nil {
		return st, fmt.Errorf("delivery stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind    string
			success int
			count   int64
		)
		if err := rows.Scan(&kind, &success, &count); err != nil {
			return st, fmt.Errorf("scan delivery stats: %w", err)
		}
		st.ByKind[kind] += count
		st.Total += count
		if success != 0 {
			st.Succeeded += count
		} else {
			st.Failed += count
		}
	}
	return st, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
