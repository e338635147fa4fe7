package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements DeadLetterStore using SQLite
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	prepared map[string]*sql.Stmt
}

// NewSQLiteStore creates a new SQLite dead letter store
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}
}

// Initialize sets up the database connection and creates necessary tables
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db = db

	// A single writer avoids SQLITE_BUSY under concurrent recorders
	s.db.SetMaxOpenConns(1)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		return fmt.Errorf("failed to prepare statements: %w", err)
	}

	return nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS failed_writes (
		id TEXT PRIMARY KEY,
		resource TEXT NOT NULL,
		discord_user TEXT NOT NULL,
		payload TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failed_writes_created_at ON failed_writes(created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	statements := map[string]string{
		"insert": `INSERT OR IGNORE INTO failed_writes (id, resource, discord_user, payload, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		"list": `SELECT id, resource, discord_user, payload, error, created_at
			FROM failed_writes ORDER BY created_at DESC, id LIMIT ?`,
		"count": `SELECT COUNT(*) FROM failed_writes`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	for _, stmt := range s.prepared {
		if stmt != nil {
			stmt.Close()
		}
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveFailedWrite records a failed backend write
func (s *SQLiteStore) SaveFailedWrite(ctx context.Context, write *FailedWrite) error {
	stmt := s.prepared["insert"]
	if stmt == nil {
		return ErrNotInitialized
	}

	if write.CreatedAt == 0 {
		write.CreatedAt = time.Now().Unix()
	}

	_, err := stmt.ExecContext(ctx,
		write.ID,
		write.Resource,
		write.DiscordUser,
		write.Payload,
		write.Error,
		write.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save failed write: %w", err)
	}
	return nil
}

// ListFailedWrites returns the most recent failures, newest first
func (s *SQLiteStore) ListFailedWrites(ctx context.Context, limit int) ([]*FailedWrite, error) {
	stmt := s.prepared["list"]
	if stmt == nil {
		return nil, ErrNotInitialized
	}

	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed writes: %w", err)
	}
	defer rows.Close()

	return scanFailedWrites(rows)
}

// CountFailedWrites returns the number of stored failures
func (s *SQLiteStore) CountFailedWrites(ctx context.Context) (int, error) {
	stmt := s.prepared["count"]
	if stmt == nil {
		return 0, ErrNotInitialized
	}

	var count int
	if err := stmt.QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed writes: %w", err)
	}
	return count, nil
}

// HealthCheck verifies that the database connection is working
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM failed_writes LIMIT 1"); err != nil {
		return fmt.Errorf("database health check query failed: %w", err)
	}

	return nil
}

// scanFailedWrites reads rows produced by the list queries of either store
func scanFailedWrites(rows *sql.Rows) ([]*FailedWrite, error) {
	var writes []*FailedWrite
	for rows.Next() {
		w := &FailedWrite{}
		if err := rows.Scan(&w.ID, &w.Resource, &w.DiscordUser, &w.Payload, &w.Error, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed write: %w", err)
		}
		writes = append(writes, w)
	}
	return writes, rows.Err()
}
