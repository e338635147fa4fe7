package storage

import (
	"context"
	"errors"
)

// FailedWrite is a persistence write that the backend API rejected or never received.
// It is kept locally so an operator can audit or replay it.
type FailedWrite struct {
	ID          string `db:"id"`           // UUID assigned when the failure is recorded
	Resource    string `db:"resource"`     // Backend resource: completion, recipes or images
	DiscordUser string `db:"discord_user"` // Discord username the record belongs to
	Payload     string `db:"payload"`      // JSON body that was sent
	Error       string `db:"error"`        // Failure reported by the backend client
	CreatedAt   int64  `db:"created_at"`   // Unix timestamp of the failure
}

// ErrNotInitialized is returned when a store is used before Initialize
var ErrNotInitialized = errors.New("storage not initialized")

// DeadLetterStore defines the interface for failed-write persistence operations
type DeadLetterStore interface {
	// Initialize sets up the database connection and creates necessary tables
	Initialize(ctx context.Context) error

	// Close closes the database connection
	Close() error

	// SaveFailedWrite records a failed backend write
	SaveFailedWrite(ctx context.Context, write *FailedWrite) error

	// ListFailedWrites returns the most recent failures, newest first
	ListFailedWrites(ctx context.Context, limit int) ([]*FailedWrite, error)

	// CountFailedWrites returns the number of stored failures
	CountFailedWrites(ctx context.Context) (int, error)

	// HealthCheck verifies that the database connection is working
	HealthCheck(ctx context.Context) error
}
