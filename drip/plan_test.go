package drip

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dripline/models"
)

var planRef = time.Date(2024, time.April, 2, 15, 0, 0, 0, time.UTC)

func planSequence(enabled bool, steps ...models.DripStep) *models.DripSequence {
	seq := &models.DripSequence{CompanyID: 7, PipelineID: 1, StageID: 3, Name: "Estimate", IsEnabled: enabled}
	seq.ID = 11
	for i := range steps {
		steps[i].SequenceID = seq.ID
		if steps[i].ID == 0 {
			steps[i].ID = uint(100 + i)
		}
	}
	seq.Steps = steps
	return seq
}

func emailStep(pos int, days int) models.DripStep {
	typ := models.DelayAfter
	if days == 0 {
		typ = models.DelayImmediate
	}
	return models.DripStep{
		Position:     pos,
		DelayType:    typ,
		DelayValue:   days,
		DelayUnit:    models.UnitDays,
		Channel:      models.ChannelEmail,
		EmailSubject: "Hi {{.ClientName}}",
		EmailBody:    "Body",
	}
}

func existingJob(id uint, pos int, stepID uint, status models.JobStatus) models.ScheduledJob {
	job := models.ScheduledJob{DealID: 1, SequenceID: 11, Position: pos, StepID: stepID, Status: status}
	job.ID = id
	return job
}

func positionsOf(jobs []models.ScheduledJob) []int {
	var out []int
	for _, j := range jobs {
		out = append(out, j.Position)
	}
	return out
}

func TestBuildPlanCreatesAllSteps(t *testing.T) {
	plan := BuildPlan(PlanInput{
		CompanyID:   7,
		DealID:      1,
		Sequence:    planSequence(true, emailStep(0, 0), emailStep(1, 2)),
		EnableDrips: true,
		Reference:   planRef,
		Deal:        testDeal(),
	})

	if len(plan.ToCancel) != 0 || len(plan.Warnings) != 0 {
		t.Fatalf("unexpected cancels %v warnings %v", plan.ToCancel, plan.Warnings)
	}
	if diff := cmp.Diff([]int{0, 1}, positionsOf(plan.ToCreate)); diff != "" {
		t.Fatalf("positions (-want +got):\n%s", diff)
	}
	first, second := plan.ToCreate[0], plan.ToCreate[1]
	if !first.FireAt.Equal(planRef) || !second.FireAt.Equal(planRef.Add(48*time.Hour)) {
		t.Fatalf("fire times %s, %s", first.FireAt, second.FireAt)
	}
	if first.Subject != "Hi Ada <Lovelace>" || first.ToEmail != "ada@example.com" || first.StepID != 100 {
		t.Fatalf("content not frozen: %+v", first)
	}
	if first.Status != models.JobPending || first.CompanyID != 7 || first.SequenceID != 11 {
		t.Fatalf("unexpected job header: %+v", first)
	}
}

func TestBuildPlanIdempotent(t *testing.T) {
	in := PlanInput{
		CompanyID:   7,
		DealID:      1,
		Sequence:    planSequence(true, emailStep(0, 0), emailStep(1, 2)),
		EnableDrips: true,
		Reference:   planRef,
		Deal:        testDeal(),
		Existing: []models.ScheduledJob{
			existingJob(1, 0, 100, models.JobSent),
			existingJob(2, 1, 101, models.JobPending),
		},
	}

	plan := BuildPlan(in)
	if len(plan.ToCreate) != 0 || len(plan.ToCancel) != 0 {
		t.Fatalf("expected no changes, got create=%v cancel=%v", positionsOf(plan.ToCreate), plan.ToCancel)
	}
	if plan.Untouched != 2 {
		t.Fatalf("untouched = %d", plan.Untouched)
	}
}

func TestBuildPlanInactiveCancelsPending(t *testing.T) {
	existing := []models.ScheduledJob{
		existingJob(1, 0, 100, models.JobSent),
		existingJob(2, 1, 101, models.JobPending),
		existingJob(3, 2, 102, models.JobPending),
	}

	tests := map[string]PlanInput{
		"disabled sequence": {Sequence: planSequence(false, emailStep(0, 0), emailStep(1, 1), emailStep(2, 2)), EnableDrips: true},
		"drips off":         {Sequence: planSequence(true, emailStep(0, 0), emailStep(1, 1), emailStep(2, 2)), EnableDrips: false},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			in.DealID = 1
			in.Reference = planRef
			in.Deal = testDeal()
			in.Existing = existing

			plan := BuildPlan(in)
			if len(plan.ToCreate) != 0 {
				t.Fatalf("created %v", positionsOf(plan.ToCreate))
			}
			if diff := cmp.Diff([]uint{2, 3}, plan.ToCancel); diff != "" {
				t.Fatalf("cancels (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildPlanTerminalJobsBlockRecreate(t *testing.T) {
	plan := BuildPlan(PlanInput{
		DealID:      1,
		Sequence:    planSequence(true, emailStep(0, 0), emailStep(1, 1), emailStep(2, 2)),
		EnableDrips: true,
		Reference:   planRef,
		Deal:        testDeal(),
		Existing: []models.ScheduledJob{
			existingJob(1, 0, 100, models.JobFailed),
			existingJob(2, 1, 101, models.JobSending),
			existingJob(3, 2, 102, models.JobCancelled),
		},
	})

	// Cancelled rows do not hold their key.
	if diff := cmp.Diff([]int{2}, positionsOf(plan.ToCreate)); diff != "" {
		t.Fatalf("creates (-want +got):\n%s", diff)
	}
	if len(plan.ToCancel) != 0 {
		t.Fatalf("cancelled %v", plan.ToCancel)
	}
}

func TestBuildPlanRemovedStep(t *testing.T) {
	plan := BuildPlan(PlanInput{
		DealID:      1,
		Sequence:    planSequence(true, emailStep(0, 0)),
		EnableDrips: true,
		Reference:   planRef,
		Deal:        testDeal(),
		Existing: []models.ScheduledJob{
			existingJob(1, 0, 100, models.JobPending),
			existingJob(2, 1, 101, models.JobPending),
		},
	})

	if diff := cmp.Diff([]uint{2}, plan.ToCancel); diff != "" {
		t.Fatalf("cancels (-want +got):\n%s", diff)
	}
	if len(plan.ToCreate) != 0 {
		t.Fatalf("created %v", positionsOf(plan.ToCreate))
	}
}

func TestBuildPlanReorderedStepIsReplaced(t *testing.T) {
	a := emailStep(0, 0)
	a.ID = 201
	b := emailStep(1, 3)
	b.ID = 200

	plan := BuildPlan(PlanInput{
		DealID:      1,
		Sequence:    planSequence(true, a, b),
		EnableDrips: true,
		Reference:   planRef,
		Deal:        testDeal(),
		Existing: []models.ScheduledJob{
			existingJob(1, 0, 200, models.JobPending),
			existingJob(2, 1, 201, models.JobPending),
		},
	})

	if diff := cmp.Diff([]uint{1, 2}, plan.ToCancel); diff != "" {
		t.Fatalf("cancels (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1}, positionsOf(plan.ToCreate)); diff != "" {
		t.Fatalf("creates (-want +got):\n%s", diff)
	}
	if plan.ToCreate[0].StepID != 201 || plan.ToCreate[1].StepID != 200 {
		t.Fatalf("step ids %d, %d", plan.ToCreate[0].StepID, plan.ToCreate[1].StepID)
	}
}

func TestBuildPlanMalformedStepSkipped(t *testing.T) {
	broken := emailStep(1, 1)
	broken.EmailSubject = ""

	plan := BuildPlan(PlanInput{
		DealID:      1,
		Sequence:    planSequence(true, emailStep(0, 0), broken, emailStep(2, 2)),
		EnableDrips: true,
		Reference:   planRef,
		Deal:        testDeal(),
		Existing: []models.ScheduledJob{
			existingJob(5, 1, 101, models.JobPending),
		},
	})

	if diff := cmp.Diff([]int{0, 2}, positionsOf(plan.ToCreate)); diff != "" {
		t.Fatalf("creates (-want +got):\n%s", diff)
	}
	if len(plan.ToCancel) != 0 {
		t.Fatalf("malformed step's job was cancelled: %v", plan.ToCancel)
	}
	if len(plan.Warnings) != 1 {
		t.Fatalf("warnings = %v", plan.Warnings)
	}
}

func TestBuildPlanDuplicatePendingCancelled(t *testing.T) {
	plan := BuildPlan(PlanInput{
		DealID:      1,
		Sequence:    planSequence(true, emailStep(0, 0)),
		EnableDrips: true,
		Reference:   planRef,
		Deal:        testDeal(),
		Existing: []models.ScheduledJob{
			existingJob(1, 0, 100, models.JobPending),
			existingJob(2, 0, 100, models.JobPending),
		},
	})

	if diff := cmp.Diff([]uint{2}, plan.ToCancel); diff != "" {
		t.Fatalf("cancels (-want +got):\n%s", diff)
	}
}

func TestBuildPlanNoSequence(t *testing.T) {
	plan := BuildPlan(PlanInput{DealID: 1, EnableDrips: true, Reference: planRef})
	if plan.SequenceID != 0 || len(plan.ToCreate) != 0 || len(plan.ToCancel) != 0 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}
