package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore implements DeadLetterStore using MySQL
type MySQLStore struct {
	db       *sql.DB
	dsn      string
	prepared map[string]*sql.Stmt
}

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// DSN builds the go-sql-driver data source name. Credentials are escaped by the
// driver, so any character is allowed in the password.
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Timeout = c.Timeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// NewMySQLStore creates a new MySQL dead letter store
func NewMySQLStore(config MySQLConfig) *MySQLStore {
	return &MySQLStore{
		dsn:      config.DSN(),
		prepared: make(map[string]*sql.Stmt),
	}
}

// connectWithRetry opens and pings the database with exponential backoff
func (s *MySQLStore) connectWithRetry(ctx context.Context) (*sql.DB, error) {
	const maxRetries = 5
	const baseDelay = time.Second

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		db, err := sql.Open("mysql", s.dsn)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: failed to open database: %w", attempt+1, err)
			continue
		}

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			lastErr = fmt.Errorf("attempt %d: failed to ping database: %w", attempt+1, err)
			continue
		}

		return db, nil
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// isRetryableError checks if an error is a network/connection issue
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	for _, retryable := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"no such host",
	} {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}

// executeWithRetry retries a database operation on connection failures
func (s *MySQLStore) executeWithRetry(ctx context.Context, operation func() error) error {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return err
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", maxRetries, lastErr)
}

// Initialize sets up the database connection and creates necessary tables
func (s *MySQLStore) Initialize(ctx context.Context) error {
	db, err := s.connectWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to establish database connection: %w", err)
	}

	s.db = db

	s.db.SetMaxOpenConns(10)
	s.db.SetMaxIdleConns(5)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		return fmt.Errorf("failed to prepare statements: %w", err)
	}

	return nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS failed_writes (
			id CHAR(36) PRIMARY KEY,
			resource VARCHAR(64) NOT NULL,
			discord_user VARCHAR(255) NOT NULL,
			payload MEDIUMTEXT NOT NULL,
			error TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_failed_writes_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}

	return nil
}

func (s *MySQLStore) prepareStatements() error {
	statements := map[string]string{
		"insert": `INSERT IGNORE INTO failed_writes (id, resource, discord_user, payload, error, created_at)
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
func (s *MySQLStore) Close() error {
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
func (s *MySQLStore) SaveFailedWrite(ctx context.Context, write *FailedWrite) error {
	stmt := s.prepared["insert"]
	if stmt == nil {
		return ErrNotInitialized
	}

	if write.CreatedAt == 0 {
		write.CreatedAt = time.Now().Unix()
	}

	return s.executeWithRetry(ctx, func() error {
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
	})
}

// ListFailedWrites returns the most recent failures, newest first
func (s *MySQLStore) ListFailedWrites(ctx context.Context, limit int) ([]*FailedWrite, error) {
	stmt := s.prepared["list"]
	if stmt == nil {
		return nil, ErrNotInitialized
	}

	var writes []*FailedWrite
	err := s.executeWithRetry(ctx, func() error {
		rows, err := stmt.QueryContext(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list failed writes: %w", err)
		}
		defer rows.Close()

		writes, err = scanFailedWrites(rows)
		return err
	})
	return writes, err
}

// CountFailedWrites returns the number of stored failures
func (s *MySQLStore) CountFailedWrites(ctx context.Context) (int, error) {
	stmt := s.prepared["count"]
	if stmt == nil {
		return 0, ErrNotInitialized
	}

	var count int
	err := s.executeWithRetry(ctx, func() error {
		return stmt.QueryRowContext(ctx).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count failed writes: %w", err)
	}
	return count, nil
}

// HealthCheck verifies that the database connection is working
func (s *MySQLStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	return s.executeWithRetry(ctx, func() error {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM failed_writes LIMIT 1"); err != nil {
			return fmt.Errorf("database health check query failed: %w", err)
		}

		return nil
	})
}
