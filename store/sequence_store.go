package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dripline/drip"
	"dripline/models"
)

var _ drip.SequenceReader = (*SequenceStore)(nil)

// SequenceStore keeps drip sequence definitions in postgres. It never touches
// scheduled jobs; jobs made stale by an edit are reconciled on the next
// trigger for each deal.
type SequenceStore struct {
	db *gorm.DB
}

func NewSequenceStore(db *gorm.DB) *SequenceStore {
	return &SequenceStore{db: db}
}

func preloadSteps(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (s *SequenceStore) GetSequence(ctx context.Context, companyID, pipelineID, stageID uint) (*models.DripSequence, error) {
	var seq models.DripSequence
	err := s.db.WithContext(ctx).
		Preload("Steps", preloadSteps).
		Where("company_id = ? AND pipeline_id = ? AND stage_id = ?", companyID, pipelineID, stageID).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (s *SequenceStore) GetSequenceByID(ctx context.Context, companyID, id uint) (*models.DripSequence, error) {
	var seq models.DripSequence
	err := s.db.WithContext(ctx).
		Preload("Steps", preloadSteps).
		Where("id = ? AND company_id = ?", id, companyID).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrSequenceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (s *SequenceStore) ExistingSequenceIDs(ctx context.Context, companyID uint, ids []uint) ([]uint, error) {
	var out []uint
	if len(ids) == 0 {
		return out, nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.DripSequence{}).
		Where("company_id = ? AND id IN ?", companyID, ids).
		Pluck("id", &out).Error
	return out, err
}

// ListSequences returns the company's sequences. A zero pipelineID lists all
// pipelines.
func (s *SequenceStore) ListSequences(ctx context.Context, companyID, pipelineID uint) ([]models.DripSequence, error) {
	q := s.db.WithContext(ctx).
		Preload("Steps", preloadSteps).
		Where("company_id = ?", companyID)
	if pipelineID != 0 {
		q = q.Where("pipeline_id = ?", pipelineID)
	}

	var out []models.DripSequence
	if err := q.Order("pipeline_id ASC, stage_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertSequence creates the sequence of a stage or updates its name and
// enabled flag. Steps are managed separately.
func (s *SequenceStore) UpsertSequence(ctx context.Context, seq *models.DripSequence) error {
	row := models.DripSequence{
		CompanyID:  seq.CompanyID,
		PipelineID: seq.PipelineID,
		StageID:    seq.StageID,
		Name:       seq.Name,
		IsEnabled:  seq.IsEnabled,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "company_id"},
				{Name: "pipeline_id"},
				{Name: "stage_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"name", "is_enabled", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to upsert sequence: %w", err)
		}

		return tx.Preload("Steps", preloadSteps).
			Where("company_id = ? AND pipeline_id = ? AND stage_id = ?", seq.CompanyID, seq.PipelineID, seq.StageID).
			First(seq).Error
	})
}

func (s *SequenceStore) DeleteSequence(ctx context.Context, companyID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("id = ? AND company_id = ?", id, companyID).Delete(&models.DripSequence{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: id=%d", ErrSequenceNotFound, id)
		}
		return tx.Unscoped().Where("sequence_id = ?", id).Delete(&models.DripStep{}).Error
	})
}

// CreateStep inserts step at step.Position (negative appends) and shifts the
// steps after it.
func (s *SequenceStore) CreateStep(ctx context.Context, companyID, sequenceID uint, step *models.DripStep) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps, err := lockedSteps(tx, companyID, sequenceID)
		if err != nil {
			return err
		}

		step.ID = 0
		step.SequenceID = sequenceID
		ordered, err := insertAt(steps, *step, step.Position)
		if err != nil {
			return err
		}

		if err := parkPositions(tx, sequenceID); err != nil {
			return err
		}
		for i := range ordered {
			if ordered[i].ID != 0 {
				if err := setPosition(tx, ordered[i].ID, ordered[i].Position); err != nil {
					return err
				}
				continue
			}
			if err := tx.Create(&ordered[i]).Error; err != nil {
				return fmt.Errorf("failed to create step: %w", err)
			}
			*step = ordered[i]
		}
		return nil
	})
}

// UpdateStep changes a step's delay, channel and content. Its position is
// kept; use ReorderSteps to move it.
func (s *SequenceStore) UpdateStep(ctx context.Context, companyID, stepID uint, patch models.DripStep) (*models.DripStep, error) {
	var out models.DripStep
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ownedStep(tx, companyID, stepID).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id=%d", ErrStepNotFound, stepID)
			}
			return err
		}

		if err := tx.Model(&out).
			Select("delay_type", "delay_value", "delay_unit", "channel", "email_subject", "email_body", "sms_body").
			Updates(models.DripStep{
				DelayType:    patch.DelayType,
				DelayValue:   patch.DelayValue,
				DelayUnit:    patch.DelayUnit,
				Channel:      patch.Channel,
				EmailSubject: patch.EmailSubject,
				EmailBody:    patch.EmailBody,
				SMSBody:      patch.SMSBody,
			}).Error; err != nil {
			return fmt.Errorf("failed to update step: %w", err)
		}
		return tx.First(&out, stepID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStep removes a step and closes the gap in positions.
func (s *SequenceStore) DeleteStep(ctx context.Context, companyID, stepID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var step models.DripStep
		if err := ownedStep(tx, companyID, stepID).First(&step).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id=%d", ErrStepNotFound, stepID)
			}
			return err
		}

		steps, err := lockedSteps(tx, companyID, step.SequenceID)
		if err != nil {
			return err
		}
		remaining, _ := without(steps, stepID)

		if err := tx.Unscoped().Delete(&models.DripStep{}, stepID).Error; err != nil {
			return fmt.Errorf("failed to delete step: %w", err)
		}
		return writePositions(tx, step.SequenceID, remaining)
	})
}

// ReorderSteps rewrites positions so that stepIDs[i] sits at position i.
func (s *SequenceStore) ReorderSteps(ctx context.Context, companyID, sequenceID uint, stepIDs []uint) ([]models.DripStep, error) {
	var ordered []models.DripStep
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps, err := lockedSteps(tx, companyID, sequenceID)
		if err != nil {
			return err
		}
		if ordered, err = reorder(steps, stepIDs); err != nil {
			return err
		}
		return writePositions(tx, sequenceID, ordered)
	})
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// lockedSteps loads a company's sequence row for update and returns its steps
// in position order.
func lockedSteps(tx *gorm.DB, companyID, sequenceID uint) ([]models.DripStep, error) {
	var seq models.DripSequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", sequenceID, companyID).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrSequenceNotFound, sequenceID)
	}
	if err != nil {
		return nil, err
	}

	var steps []models.DripStep
	if err := tx.Where("sequence_id = ?", sequenceID).Order("position ASC").Find(&steps).Error; err != nil {
		return nil, err
	}
	sortSteps(steps)
	return steps, nil
}

func ownedStep(tx *gorm.DB, companyID, stepID uint) *gorm.DB {
	return tx.Where("id = ? AND sequence_id IN (?)", stepID,
		tx.Session(&gorm.Session{NewDB: true}).Model(&models.DripSequence{}).Select("id").Where("company_id = ?", companyID))
}

// parkPositions moves every position of a sequence below zero so that the
// final numbering can be written without tripping the unique index.
func parkPositions(tx *gorm.DB, sequenceID uint) error {
	return tx.Model(&models.DripStep{}).
		Where("sequence_id = ?", sequenceID).
		Update("position", gorm.Expr("-position - 1")).Error
}

func setPosition(tx *gorm.DB, stepID uint, position int) error {
	return tx.Model(&models.DripStep{}).Where("id = ?", stepID).Update("position", position).Error
}

func writePositions(tx *gorm.DB, sequenceID uint, steps []models.DripStep) error {
	if err := parkPositions(tx, sequenceID); err != nil {
		return err
	}
	for _, step := range steps {
		if err := setPosition(tx, step.ID, step.Position); err != nil {
			return fmt.Errorf("failed to renumber step %d: %w", step.ID, err)
		}
	}
	return nil
}
