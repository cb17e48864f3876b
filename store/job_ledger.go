package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dripline/drip"
	"dripline/models"
)

var _ drip.Ledger = (*JobLedger)(nil)

// JobLedger keeps scheduled jobs in postgres. Status transitions are
// conditional updates on the current status, so a cancel and a dispatcher
// claim on the same row cannot both win.
type JobLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJobLedger(db *gorm.DB) *JobLedger {
	return &JobLedger{db: db, now: time.Now}
}

// CreateJob inserts job as pending. It reports false without error when a
// non-cancelled job already holds the same key.
func (l *JobLedger) CreateJob(ctx context.Context, job *models.ScheduledJob) (bool, error) {
	var created bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := createJob(tx, job)
		created = ok
		return err
	})
	return created, err
}

func (l *JobLedger) CancelJob(ctx context.Context, id uint) (bool, error) {
	return cancelJob(l.db.WithContext(ctx), id, l.now())
}

func (l *JobLedger) ListPendingForDealSequence(ctx context.Context, dealID, sequenceID uint) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := l.db.WithContext(ctx).
		Where("deal_id = ? AND sequence_id = ? AND status = ?", dealID, sequenceID, models.JobPending).
		Order("position ASC").
		Find(&jobs).Error
	return jobs, err
}

func (l *JobLedger) ListForDealSequence(ctx context.Context, dealID, sequenceID uint) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := l.db.WithContext(ctx).
		Where("deal_id = ? AND sequence_id = ? AND status <> ?", dealID, sequenceID, models.JobCancelled).
		Order("position ASC").
		Find(&jobs).Error
	return jobs, err
}

func (l *JobLedger) ListPendingForDeal(ctx context.Context, dealID uint) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := l.db.WithContext(ctx).
		Where("deal_id = ? AND status = ?", dealID, models.JobPending).
		Order("sequence_id ASC, position ASC").
		Find(&jobs).Error
	return jobs, err
}

// ListDueJobs returns pending jobs whose fire time has passed, oldest first
// and in step order within the same instant.
func (l *JobLedger) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	q := l.db.WithContext(ctx).
		Where("status = ? AND fire_at <= ?", models.JobPending, now).
		Order("fire_at ASC, position ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var jobs []models.ScheduledJob
	err := q.Find(&jobs).Error
	return jobs, err
}

// ListForDeal returns every job of a deal, newest schedule last.
func (l *JobLedger) ListForDeal(ctx context.Context, companyID, dealID uint) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := l.db.WithContext(ctx).
		Where("company_id = ? AND deal_id = ?", companyID, dealID).
		Order("sequence_id ASC, position ASC, created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

func (l *JobLedger) GetJob(ctx context.Context, companyID, id uint) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	err := l.db.WithContext(ctx).Where("id = ? AND company_id = ?", id, companyID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Apply runs the cancels and then the creates of one reconcile in a single
// transaction.
func (l *JobLedger) Apply(ctx context.Context, creates []models.ScheduledJob, cancels []uint) (int, int, error) {
	var created, cancelled int
	now := l.now()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, cancelled = 0, 0
		for _, id := range cancels {
			ok, err := cancelJob(tx, id, now)
			if err != nil {
				return fmt.Errorf("failed to cancel job %d: %w", id, err)
			}
			if ok {
				cancelled++
			}
		}

		for i := range creates {
			job := creates[i]
			ok, err := createJob(tx, &job)
			if err != nil {
				return fmt.Errorf("failed to create job for position %d: %w", job.Position, err)
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, cancelled, nil
}

// ClaimJob moves a pending job to sending under token. It reports false when
// the job was cancelled, claimed by another worker or locked by one.
func (l *JobLedger) ClaimJob(ctx context.Context, id uint, token string, now time.Time) (bool, error) {
	var claimed bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.ScheduledJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ? AND status = ?", id, models.JobPending).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.ScheduledJob{}).
			Where("id = ? AND status = ?", id, models.JobPending).
			Updates(map[string]interface{}{
				"status":      models.JobSending,
				"claim_token": token,
				"claimed_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	return claimed, err
}

func (l *JobLedger) MarkSent(ctx context.Context, id uint, token string, at time.Time) error {
	return l.finish(ctx, id, token, map[string]interface{}{
		"status":         models.JobSent,
		"sent_at":        at,
		"failure_reason": "",
	})
}

func (l *JobLedger) MarkFailed(ctx context.Context, id uint, token string, reason string) error {
	return l.finish(ctx, id, token, map[string]interface{}{
		"status":         models.JobFailed,
		"failure_reason": reason,
	})
}

func (l *JobLedger) finish(ctx context.Context, id uint, token string, updates map[string]interface{}) error {
	res := l.db.WithContext(ctx).
		Model(&models.ScheduledJob{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, models.JobSending, token).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to finish job %d: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: job=%d", ErrNotUpdated, id)
	}
	return nil
}

// ExpireClaims fails jobs left in sending since before cutoff. They are not
// sent again since the message may already have gone out.
func (l *JobLedger) ExpireClaims(ctx context.Context, cutoff time.Time) (int, error) {
	res := l.db.WithContext(ctx).
		Model(&models.ScheduledJob{}).
		Where("status = ? AND claimed_at < ?", models.JobSending, cutoff).
		Updates(map[string]interface{}{
			"status":         models.JobFailed,
			"failure_reason": "claim expired before delivery was confirmed",
		})
	return int(res.RowsAffected), res.Error
}

// PruneTerminal hard-deletes finished jobs last updated before the cutoff.
func (l *JobLedger) PruneTerminal(ctx context.Context, before time.Time) (int, error) {
	res := l.db.WithContext(ctx).
		Unscoped().
		Where("status IN ? AND updated_at < ?", []models.JobStatus{models.JobSent, models.JobFailed, models.JobCancelled}, before).
		Delete(&models.ScheduledJob{})
	return int(res.RowsAffected), res.Error
}

func createJob(tx *gorm.DB, job *models.ScheduledJob) (bool, error) {
	var count int64
	if err := tx.Model(&models.ScheduledJob{}).
		Where("deal_id = ? AND sequence_id = ? AND position = ? AND status <> ?",
			job.DealID, job.SequenceID, job.Position, models.JobCancelled).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	job.ID = 0
	job.Status = models.JobPending
	// The savepoint keeps a lost race on the unique index from aborting the
	// outer transaction.
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(job).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func cancelJob(tx *gorm.DB, id uint, now time.Time) (bool, error) {
	res := tx.Model(&models.ScheduledJob{}).
		Where("id = ? AND status = ?", id, models.JobPending).
		Updates(map[string]interface{}{
			"status":       models.JobCancelled,
			"cancelled_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
