package storage

import (
	"context"
	"fmt"
)

// MigrationService copies failed writes from one store to another, typically
// from the local SQLite file into a shared MySQL database
type MigrationService struct {
	source DeadLetterStore
	target DeadLetterStore
}

// NewMigrationService creates a new migration service
func NewMigrationService(source, target DeadLetterStore) *MigrationService {
	return &MigrationService{
		source: source,
		target: target,
	}
}

// MigrateData copies every failed write from source to target and returns how many were copied
func (m *MigrationService) MigrateData(ctx context.Context) (int, error) {
	total, err := m.source.CountFailedWrites(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count source failed writes: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	writes, err := m.source.ListFailedWrites(ctx, total)
	if err != nil {
		return 0, fmt.Errorf("failed to read source failed writes: %w", err)
	}

	for i, w := range writes {
		if err := m.target.SaveFailedWrite(ctx, w); err != nil {
			return i, fmt.Errorf("failed to insert failed write %s: %w", w.ID, err)
		}
	}

	return len(writes), nil
}

// ValidateMigration checks that the target holds at least as many records as the source
func (m *MigrationService) ValidateMigration(ctx context.Context) error {
	sourceCount, err := m.source.CountFailedWrites(ctx)
	if err != nil {
		return fmt.Errorf("failed to count source failed writes: %w", err)
	}

	targetCount, err := m.target.CountFailedWrites(ctx)
	if err != nil {
		return fmt.Errorf("failed to count target failed writes: %w", err)
	}

	if targetCount < sourceCount {
		return fmt.Errorf("failed write count mismatch: source=%d, target=%d", sourceCount, targetCount)
	}

	return nil
}
