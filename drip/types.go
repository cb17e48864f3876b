package drip

import (
	"context"
	"fmt"
	"time"

	"dripline/models"
)

type TriggerKind string

const (
	DealCreated  TriggerKind = "deal_created"
	StageChanged TriggerKind = "stage_changed"
	ManualToggle TriggerKind = "manual_toggle"
	ManualCancel TriggerKind = "manual_cancel"
)

func (k TriggerKind) Valid() bool {
	switch k {
	case DealCreated, StageChanged, ManualToggle, ManualCancel:
		return true
	default:
		return false
	}
}

// StageScoped reports whether the trigger applies to a single stage's sequence.
func (k TriggerKind) StageScoped() bool {
	return k != ManualCancel
}

// Trigger is an event that makes the engine re-evaluate a deal's jobs.
type Trigger struct {
	Kind       TriggerKind `json:"kind"`
	CompanyID  uint        `json:"company_id"`
	DealID     uint        `json:"deal_id"`
	PipelineID uint        `json:"pipeline_id"`
	StageID    uint        `json:"stage_id"`
	// PreviousStageID is the stage a stage_changed trigger leaves. Zero means
	// unknown.
	PreviousStageID    uint      `json:"previous_stage_id"`
	EnableDrips        bool      `json:"enable_drips"`
	CancelExistingJobs bool      `json:"cancel_existing_jobs"`
	OccurredAt         time.Time `json:"occurred_at"`
}

func (t Trigger) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, t.Kind)
	}
	if t.CompanyID == 0 {
		return fmt.Errorf("%w: company id is required", ErrInvalidTrigger)
	}
	if t.DealID == 0 {
		return fmt.Errorf("%w: deal id is required", ErrInvalidTrigger)
	}
	if t.Kind.StageScoped() && t.StageID == 0 {
		return fmt.Errorf("%w: stage id is required for %s", ErrInvalidTrigger, t.Kind)
	}
	return nil
}

// Result is what the trigger intake reports back to its caller.
type Result struct {
	ScheduledCount int    `json:"scheduled_count"`
	CancelledCount int    `json:"cancelled_count"`
	SequenceID     *uint  `json:"sequence_id"`
	Warning        string `json:"warning,omitempty"`
	// HadPriorJobs is set when sent or still valid jobs from an earlier
	// trigger were left in place.
	HadPriorJobs bool `json:"had_prior_jobs"`
}

// DealContext is the deal and company data used to freeze job content and
// recipients at schedule time.
type DealContext struct {
	DealID       uint
	CompanyID    uint
	PipelineID   uint
	StageID      uint
	Title        string
	ClientName   string
	ClientEmail  string
	ClientPhone  string
	CompanyName  string
	CompanyEmail string
	CompanyPhone string
}

// SequenceReader is the read side of the sequence store. A missing sequence
// is (nil, nil).
type SequenceReader interface {
	GetSequence(ctx context.Context, companyID, pipelineID, stageID uint) (*models.DripSequence, error)
	// ExistingSequenceIDs returns the subset of ids that still exist for the
	// company.
	ExistingSequenceIDs(ctx context.Context, companyID uint, ids []uint) ([]uint, error)
}

// DealDirectory resolves a deal in the scope of its company.
type DealDirectory interface {
	GetDeal(ctx context.Context, companyID, dealID uint) (*DealContext, error)
}

// Ledger stores scheduled jobs. Every status change is a conditional update so
// that cancellation and dispatch of the same row never both succeed.
type Ledger interface {
	CreateJob(ctx context.Context, job *models.ScheduledJob) (bool, error)
	CancelJob(ctx context.Context, id uint) (bool, error)
	ListPendingForDealSequence(ctx context.Context, dealID, sequenceID uint) ([]models.ScheduledJob, error)
	ListForDealSequence(ctx context.Context, dealID, sequenceID uint) ([]models.ScheduledJob, error)
	ListPendingForDeal(ctx context.Context, dealID uint) ([]models.ScheduledJob, error)
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	// Apply cancels and creates in one atomic unit and reports how many rows
	// actually changed.
	Apply(ctx context.Context, creates []models.ScheduledJob, cancels []uint) (created int, cancelled int, err error)
}

// Locker serializes work on a key across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
