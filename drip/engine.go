package drip

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dripline/models"
)

// Engine turns trigger events into ledger mutations. Work on one deal is
// serialized through the Locker; different deals proceed in parallel.
type Engine struct {
	sequences SequenceReader
	deals     DealDirectory
	ledger    Ledger
	locker    Locker
	log       *logrus.Entry
	now       func() time.Time
}

type Option func(*Engine)

// WithClock sets the clock used when a trigger carries no occurrence time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(sequences SequenceReader, deals DealDirectory, ledger Ledger, locker Locker, log *logrus.Entry, opts ...Option) *Engine {
	e := &Engine{
		sequences: sequences,
		deals:     deals,
		ledger:    ledger,
		locker:    locker,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DealLockKey is the lock key guarding a deal's jobs.
func DealLockKey(dealID uint) string {
	return fmt.Sprintf("drip:deal:%d", dealID)
}

// HandleTrigger reconciles the deal named by t. Expected conditions such as a
// missing or disabled sequence are reported through zero counts; an error
// means the ledger was left untouched.
func (e *Engine) HandleTrigger(ctx context.Context, t Trigger) (Result, error) {
	if err := t.Validate(); err != nil {
		return Result{}, err
	}

	unlock, err := e.locker.Lock(ctx, DealLockKey(t.DealID))
	if err != nil {
		return Result{}, fmt.Errorf("lock deal %d: %w", t.DealID, err)
	}
	defer unlock()

	ref := t.OccurredAt
	if ref.IsZero() {
		ref = e.now()
	}

	log := e.log.WithFields(logrus.Fields{
		"trigger":    t.Kind,
		"company_id": t.CompanyID,
		"deal_id":    t.DealID,
		"stage_id":   t.StageID,
	})

	var res Result
	if t.Kind == ManualCancel {
		res, err = e.cancelAll(ctx, t)
	} else {
		res, err = e.reconcileStage(ctx, t, ref)
	}
	if err != nil {
		log.WithError(err).Warn("Drip reconcile failed")
		return Result{}, err
	}

	log.WithFields(logrus.Fields{
		"scheduled": res.ScheduledCount,
		"cancelled": res.CancelledCount,
	}).Info("Drip reconcile completed")
	if res.Warning != "" {
		log.WithField("warning", res.Warning).Warn("Drip steps skipped")
	}
	return res, nil
}

// CancelJob cancels a single pending job on behalf of an operator.
func (e *Engine) CancelJob(ctx context.Context, job models.ScheduledJob) (bool, error) {
	unlock, err := e.locker.Lock(ctx, DealLockKey(job.DealID))
	if err != nil {
		return false, fmt.Errorf("lock deal %d: %w", job.DealID, err)
	}
	defer unlock()

	cancelled, err := e.ledger.CancelJob(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("%w: cancel job %d: %v", ErrLedger, job.ID, err)
	}
	return cancelled, nil
}

func (e *Engine) cancelAll(ctx context.Context, t Trigger) (Result, error) {
	pending, err := e.ledger.ListPendingForDeal(ctx, t.DealID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list pending jobs: %v", ErrLedger, err)
	}

	_, cancelled, err := e.ledger.Apply(ctx, nil, jobIDs(pending))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	return Result{CancelledCount: cancelled}, nil
}

func (e *Engine) reconcileStage(ctx context.Context, t Trigger, ref time.Time) (Result, error) {
	var deal *DealContext
	pipelineID := t.PipelineID
	if pipelineID == 0 || t.EnableDrips {
		d, err := e.deals.GetDeal(ctx, t.CompanyID, t.DealID)
		if err != nil {
			return Result{}, err
		}
		deal = d
		if pipelineID == 0 {
			pipelineID = d.PipelineID
		}
	}

	// Every lookup happens before the first mutation.
	current, err := e.lookup(ctx, t.CompanyID, pipelineID, t.StageID)
	if err != nil {
		return Result{}, err
	}
	stale, err := e.staleJobs(ctx, t, current)
	if err != nil {
		return Result{}, err
	}
	cancels := jobIDs(stale)

	var (
		res     Result
		creates []models.ScheduledJob
	)
	if current != nil {
		id := current.ID
		res.SequenceID = &id

		existing, err := e.ledger.ListForDealSequence(ctx, t.DealID, current.ID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: list jobs: %v", ErrLedger, err)
		}
		if t.CancelExistingJobs {
			var kept []models.ScheduledJob
			for _, job := range existing {
				if job.Status.IsPending() {
					cancels = append(cancels, job.ID)
					continue
				}
				kept = append(kept, job)
			}
			existing = kept
		}

		plan := BuildPlan(PlanInput{
			CompanyID:   t.CompanyID,
			DealID:      t.DealID,
			Sequence:    current,
			EnableDrips: t.EnableDrips,
			Existing:    existing,
			Reference:   ref,
			Deal:        deal,
		})
		cancels = append(cancels, plan.ToCancel...)
		creates = plan.ToCreate
		res.HadPriorJobs = plan.Untouched > 0
		res.Warning = strings.Join(plan.Warnings, "; ")
	}

	created, cancelled, err := e.ledger.Apply(ctx, creates, dedupe(cancels))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	res.ScheduledCount = created
	res.CancelledCount = cancelled
	return res, nil
}

// staleJobs returns the pending jobs of the deal that no longer belong to it.
// A deal leaving a stage keeps nothing outside the new stage's sequence,
// wherever the old jobs came from. Any reconcile drops jobs whose sequence
// was deleted, so a recreated sequence never schedules next to them.
func (e *Engine) staleJobs(ctx context.Context, t Trigger, current *models.DripSequence) ([]models.ScheduledJob, error) {
	pending, err := e.ledger.ListPendingForDeal(ctx, t.DealID)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending jobs: %v", ErrLedger, err)
	}

	var others []models.ScheduledJob
	for _, job := range pending {
		if current != nil && job.SequenceID == current.ID {
			continue
		}
		others = append(others, job)
	}
	if len(others) == 0 {
		return nil, nil
	}

	leaving := t.Kind == StageChanged && t.PreviousStageID != t.StageID
	if leaving {
		return others, nil
	}

	ids := make([]uint, 0, len(others))
	for _, job := range others {
		ids = append(ids, job.SequenceID)
	}
	live, err := e.sequences.ExistingSequenceIDs(ctx, t.CompanyID, dedupe(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: company=%d: %v", ErrSequenceLookup, t.CompanyID, err)
	}
	exists := make(map[uint]bool, len(live))
	for _, id := range live {
		exists[id] = true
	}

	var orphans []models.ScheduledJob
	for _, job := range others {
		if !exists[job.SequenceID] {
			orphans = append(orphans, job)
		}
	}
	return orphans, nil
}

func (e *Engine) lookup(ctx context.Context, companyID, pipelineID, stageID uint) (*models.DripSequence, error) {
	seq, err := e.sequences.GetSequence(ctx, companyID, pipelineID, stageID)
	if err != nil {
		return nil, fmt.Errorf("%w: company=%d pipeline=%d stage=%d: %v", ErrSequenceLookup, companyID, pipelineID, stageID, err)
	}
	return seq, nil
}

func jobIDs(jobs []models.ScheduledJob) []uint {
	ids := make([]uint, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	return ids
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
