package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"dripline/models"
)

func memJob(deal, seq uint, pos int, fireAt time.Time) models.ScheduledJob {
	return models.ScheduledJob{
		CompanyID:  1,
		DealID:     deal,
		SequenceID: seq,
		Position:   pos,
		FireAt:     fireAt,
		Channel:    models.ChannelEmail,
	}
}

func TestMemoryLedgerIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	now := time.Now()

	job := memJob(1, 2, 0, now)
	created, err := l.CreateJob(ctx, &job)
	if err != nil || !created {
		t.Fatalf("first create: %v %v", created, err)
	}

	dup := memJob(1, 2, 0, now.Add(time.Hour))
	if created, _ := l.CreateJob(ctx, &dup); created {
		t.Fatal("duplicate key created")
	}

	if ok, _ := l.CancelJob(ctx, job.ID); !ok {
		t.Fatal("cancel failed")
	}
	again := memJob(1, 2, 0, now)
	if created, _ := l.CreateJob(ctx, &again); !created {
		t.Fatal("cancelled job still holds the key")
	}
}

func TestMemoryLedgerDispatchTransitions(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	now := time.Now()

	job := memJob(1, 2, 0, now.Add(-time.Minute))
	l.CreateJob(ctx, &job)

	ok, err := l.ClaimJob(ctx, job.ID, "a", now)
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if ok, _ := l.ClaimJob(ctx, job.ID, "b", now); ok {
		t.Fatal("job claimed twice")
	}
	if ok, _ := l.CancelJob(ctx, job.ID); ok {
		t.Fatal("in-flight job was cancelled")
	}
	if err := l.MarkSent(ctx, job.ID, "b", now); !errors.Is(err, ErrNotUpdated) {
		t.Fatalf("wrong token: expected ErrNotUpdated, got %v", err)
	}
	if err := l.MarkSent(ctx, job.ID, "a", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := l.MarkFailed(ctx, job.ID, "a", "late"); !errors.Is(err, ErrNotUpdated) {
		t.Fatalf("terminal job changed: %v", err)
	}

	got, err := l.GetJob(ctx, 1, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobSent || got.SentAt == nil {
		t.Fatalf("status %s sent_at %v", got.Status, got.SentAt)
	}
	if _, err := l.GetJob(ctx, 2, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("job visible to another company: %v", err)
	}
}

func TestMemoryLedgerDueOrderAndExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	now := time.Now()

	for _, j := range []models.ScheduledJob{
		memJob(1, 2, 1, now.Add(-time.Minute)),
		memJob(1, 2, 0, now.Add(-time.Minute)),
		memJob(3, 2, 0, now.Add(-time.Hour)),
		memJob(4, 2, 0, now.Add(time.Hour)),
	} {
		j := j
		l.CreateJob(ctx, &j)
	}

	due, _ := l.ListDueJobs(ctx, now, 0)
	if len(due) != 3 {
		t.Fatalf("due = %d", len(due))
	}
	if due[0].DealID != 3 || due[1].Position != 0 || due[2].Position != 1 {
		t.Fatalf("order: %+v", due)
	}
	if limited, _ := l.ListDueJobs(ctx, now, 2); len(limited) != 2 {
		t.Fatalf("limit ignored: %d", len(limited))
	}

	l.ClaimJob(ctx, due[0].ID, "x", now.Add(-time.Hour))
	n, _ := l.ExpireClaims(ctx, now.Add(-time.Minute))
	if n != 1 {
		t.Fatalf("expired = %d", n)
	}
	got, _ := l.GetJob(ctx, 1, due[0].ID)
	if got.Status != models.JobFailed {
		t.Fatalf("expired claim status = %s", got.Status)
	}
}

func TestMemoryLedgerPrune(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	past := time.Now().Add(-48 * time.Hour)
	l.now = func() time.Time { return past }

	a := memJob(1, 2, 0, past)
	b := memJob(1, 2, 1, past)
	l.CreateJob(ctx, &a)
	l.CreateJob(ctx, &b)
	l.CancelJob(ctx, a.ID)

	n, _ := l.PruneTerminal(ctx, time.Now().Add(-24*time.Hour))
	if n != 1 {
		t.Fatalf("pruned = %d", n)
	}
	if _, err := l.GetJob(ctx, 1, b.ID); err != nil {
		t.Fatalf("pending job pruned: %v", err)
	}
}

func TestMemorySequenceStoreSteps(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySequenceStore()

	seq := &models.DripSequence{CompanyID: 1, PipelineID: 2, StageID: 3, Name: "a", IsEnabled: true}
	if err := s.UpsertSequence(ctx, seq); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	again := &models.DripSequence{CompanyID: 1, PipelineID: 2, StageID: 3, Name: "renamed"}
	s.UpsertSequence(ctx, again)
	if again.ID != seq.ID || again.IsEnabled {
		t.Fatalf("upsert created a second sequence or kept flag: %+v", again)
	}

	var ids []uint
	for i := 0; i < 3; i++ {
		step := models.DripStep{Position: -1, Channel: models.ChannelSMS, SMSBody: "x"}
		if err := s.CreateStep(ctx, 1, seq.ID, &step); err != nil {
			t.Fatalf("create step: %v", err)
		}
		if step.Position != i {
			t.Fatalf("position = %d, want %d", step.Position, i)
		}
		ids = append(ids, step.ID)
	}

	front := models.DripStep{Position: 0, Channel: models.ChannelSMS, SMSBody: "first"}
	s.CreateStep(ctx, 1, seq.ID, &front)

	if err := s.DeleteStep(ctx, 1, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := s.GetSequence(ctx, 1, 2, 3)
	if len(got.Steps) != 3 || got.Steps[0].ID != front.ID || got.Steps[2].Position != 2 {
		t.Fatalf("steps after delete: %+v", got.Steps)
	}

	ordered, err := s.ReorderSteps(ctx, 1, seq.ID, []uint{ids[2], ids[0], front.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if ordered[0].ID != ids[2] || ordered[2].ID != front.ID {
		t.Fatalf("reorder result %+v", ordered)
	}

	if err := s.DeleteStep(ctx, 2, ids[0]); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("step of another company deleted: %v", err)
	}
	if _, err := s.GetSequenceByID(ctx, 2, seq.ID); !errors.Is(err, ErrSequenceNotFound) {
		t.Fatalf("sequence of another company visible: %v", err)
	}
	if missing, _ := s.GetSequence(ctx, 1, 2, 99); missing != nil {
		t.Fatal("expected nil for missing stage")
	}
}
