// Package history keeps a local log of every call made to the intake
// service, stored in a DuckDB file next to the other runtime data.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// Attempt is one backend call made on behalf of an intake session.
type Attempt struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Operation  string    `json:"operation"`
	Mode       string    `json:"mode"`
	Phone      string    `json:"phone"` // masked
	Success    bool      `json:"success"`
	Status     int       `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OperationStats aggregates attempts per operation.
type OperationStats struct {
	Operation string `json:"operation"`
	Total     int64  `json:"total"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
}

// Options tune the DuckDB connection.
type Options struct {
	Threads     int
	MemoryLimit string
}

// Store persists attempts in DuckDB.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	logger *zap.Logger
}

// Open creates or reopens the history database at dbPath.
func Open(dbPath string, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("history")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	pragmas := []string{"PRAGMA enable_progress_bar=false"}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
	}
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", strings.ReplaceAll(opts.MemoryLimit, "'", "")))
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				logger.Warn("pragma failed", zap.String("pragma", pragma), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id          VARCHAR PRIMARY KEY,
			session_id  VARCHAR NOT NULL,
			operation   VARCHAR NOT NULL,
			mode        VARCHAR,
			phone       VARCHAR,
			success     BOOLEAN NOT NULL,
			status      INTEGER,
			error       VARCHAR,
			duration_ms BIGINT,
			created_at  TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	logger.Info("history store ready", zap.String("path", dbPath))
	return &Store{db: db, dbPath: dbPath, logger: logger}, nil
}

// Record appends an attempt. Missing ID and CreatedAt are filled in.
func (s *Store) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (id, session_id, operation, mode, phone, success, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Operation, a.Mode, a.Phone, a.Success, a.Status, a.Error, a.DurationMs, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// Recent returns the newest attempts first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, operation, mode, phone, success, status, error, duration_ms, created_at
		FROM attempts
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]Attempt, 0, limit)
	for rows.Next() {
		var (
			a                   Attempt
			mode, phone, errMsg sql.NullString
			status              sql.NullInt64
			duration            sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Operation, &mode, &phone, &a.Success, &status, &errMsg, &duration, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Mode = mode.String
		a.Phone = phone.String
		a.Error = errMsg.String
		a.Status = int(status.Int64)
		a.DurationMs = duration.Int64
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Summary aggregates attempts per operation.
func (s *Store) Summary(ctx context.Context) ([]OperationStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE success) AS succeeded
		FROM attempts
		GROUP BY operation
		ORDER BY operation`)
	if err != nil {
		return nil, fmt.Errorf("summarising attempts: %w", err)
	}
	defer rows.Close()

	var stats []OperationStats
	for rows.Next() {
		var st OperationStats
		if err := rows.Scan(&st.Operation, &st.Total, &st.Succeeded); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		st.Failed = st.Total - st.Succeeded
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MaskPhone hides all but the country prefix and the last three digits.
func MaskPhone(phone string) string {
	r := []rune(phone)
	if len(r) <= 6 {
		if len(r) <= 2 {
			return strings.Repeat("*", len(r))
		}
		return strings.Repeat("*", len(r)-2) + string(r[len(r)-2:])
	}
	return string(r[:3]) + strings.Repeat("*", len(r)-6) + string(r[len(r)-3:])
}
