package drip

import (
	"fmt"
	"sort"
	"time"

	"dripline/models"
)

// PlanInput is everything the reconcile diff needs for one deal and sequence.
type PlanInput struct {
	CompanyID uint
	DealID    uint
	// Sequence may be nil when the stage has no drip configured.
	Sequence    *models.DripSequence
	EnableDrips bool
	// Existing holds the deal's non-cancelled jobs for Sequence.
	Existing  []models.ScheduledJob
	Reference time.Time
	Deal      *DealContext
}

// Plan is the set of ledger mutations that brings a deal in line with a
// sequence.
type Plan struct {
	SequenceID uint
	ToCreate   []models.ScheduledJob
	ToCancel   []uint
	// Untouched counts existing jobs that were left in place.
	Untouched int
	Warnings  []string
}

// Active reports whether the sequence should produce jobs for the input.
func (in PlanInput) Active() bool {
	return in.Sequence != nil && in.Sequence.IsEnabled && in.EnableDrips
}

// BuildPlan diffs the desired jobs of a sequence against the jobs already in
// the ledger. It is pure: the same input always yields the same plan.
func BuildPlan(in PlanInput) Plan {
	var plan Plan
	if in.Sequence != nil {
		plan.SequenceID = in.Sequence.ID
	}

	desired, skipped, warnings := desiredJobs(in)
	plan.Warnings = warnings

	existing := make([]models.ScheduledJob, 0, len(in.Existing))
	for _, job := range in.Existing {
		if job.Status.IsCancelled() {
			continue
		}
		existing = append(existing, job)
	}
	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].Position < existing[j].Position
	})

	covered := make(map[int]bool, len(existing))
	for _, job := range existing {
		want, ok := desired[job.Position]

		if !job.Status.IsPending() {
			// Sent, failed and in-flight jobs are never re-created.
			covered[job.Position] = true
			plan.Untouched++
			continue
		}

		switch {
		case !ok && skipped[job.Position]:
			covered[job.Position] = true
			plan.Untouched++
		case !ok:
			plan.ToCancel = append(plan.ToCancel, job.ID)
		case job.StepID != 0 && job.StepID != want.StepID:
			// The position now belongs to a different step.
			plan.ToCancel = append(plan.ToCancel, job.ID)
		case covered[job.Position]:
			plan.ToCancel = append(plan.ToCancel, job.ID)
		default:
			covered[job.Position] = true
			plan.Untouched++
		}
	}

	positions := make([]int, 0, len(desired))
	for pos := range desired {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	for _, pos := range positions {
		if covered[pos] {
			continue
		}
		plan.ToCreate = append(plan.ToCreate, desired[pos])
	}

	return plan
}

func desiredJobs(in PlanInput) (map[int]models.ScheduledJob, map[int]bool, []string) {
	desired := map[int]models.ScheduledJob{}
	skipped := map[int]bool{}
	if !in.Active() {
		return desired, skipped, nil
	}

	steps := append([]models.DripStep(nil), in.Sequence.Steps...)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Position < steps[j].Position
	})

	var warnings []string
	for _, step := range steps {
		if _, dup := desired[step.Position]; dup || skipped[step.Position] {
			warnings = append(warnings, fmt.Sprintf("step %d: duplicate position, skipped", step.Position))
			continue
		}

		fireAt, err := ResolveStep(in.Reference, step)
		if err != nil {
			skipped[step.Position] = true
			warnings = append(warnings, fmt.Sprintf("step %d: %v", step.Position, err))
			continue
		}

		content, err := renderFor(step, in.Deal)
		if err != nil {
			skipped[step.Position] = true
			warnings = append(warnings, fmt.Sprintf("step %d skipped: %v", step.Position, err))
			continue
		}

		desired[step.Position] = models.ScheduledJob{
			CompanyID:  in.CompanyID,
			DealID:     in.DealID,
			SequenceID: in.Sequence.ID,
			Position:   step.Position,
			StepID:     step.ID,
			FireAt:     fireAt,
			Status:     models.JobPending,
			Channel:    step.Channel,
			Subject:    content.Subject,
			Body:       content.Body,
			SMSBody:    content.SMSBody,
			ToEmail:    content.ToEmail,
			ToPhone:    content.ToPhone,
		}
	}

	return desired, skipped, warnings
}

func renderFor(step models.DripStep, deal *DealContext) (Rendered, error) {
	if deal == nil {
		deal = &DealContext{}
	}
	return Render(step, deal)
}
