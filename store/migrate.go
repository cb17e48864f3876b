package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"dripline/models"
)

var (
	ErrNotUpdated         = errors.New("store: not updated")
	ErrSequenceNotFound   = errors.New("store: sequence not found")
	ErrStepNotFound       = errors.New("store: step not found")
	ErrJobNotFound        = errors.New("store: job not found")
	ErrInvalidStepOrder   = errors.New("store: step order must list every step exactly once")
	ErrPositionOutOfRange = errors.New("store: position out of range")
)

// activeJobKeyIndex keeps at most one non-cancelled job per key even when two
// writers race past the existence check.
const activeJobKeyIndex = `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_job_active_key
	ON scheduled_jobs (deal_id, sequence_id, position)
	WHERE status <> 'cancelled' AND deleted_at IS NULL
`

// Migrate creates or updates the drip tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Company{},
		&models.Deal{},
		&models.DripSequence{},
		&models.DripStep{},
		&models.ScheduledJob{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := db.Exec(activeJobKeyIndex).Error; err != nil {
		return fmt.Errorf("failed to create job key index: %w", err)
	}
	return nil
}
