package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dripline/delivery"
	"dripline/models"
)

// JobQueue is the dispatcher's view of the job ledger.
type JobQueue interface {
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	ClaimJob(ctx context.Context, id uint, token string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id uint, token string, at time.Time) error
	MarkFailed(ctx context.Context, id uint, token string, reason string) error
	ExpireClaims(ctx context.Context, cutoff time.Time) (int, error)
}

// Publisher receives dispatch outcomes. It must not block.
type Publisher interface {
	Publish(event models.JobEvent)
}

type DispatchConfig struct {
	Interval     time.Duration
	BatchSize    int
	ClaimTimeout time.Duration
	Concurrency  int
}

// DispatchWorker sends due jobs. A job is claimed before it is sent, so a
// job cancelled in the meantime is skipped, and it is never sent twice.
type DispatchWorker struct {
	Queue     JobQueue
	Messenger delivery.Messenger
	Publisher Publisher
	Logger    *logrus.Entry
	Config    DispatchConfig

	now func() time.Time
}

func NewDispatchWorker(queue JobQueue, messenger delivery.Messenger, publisher Publisher, logger *logrus.Entry, cfg DispatchConfig) *DispatchWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 10 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &DispatchWorker{
		Queue:     queue,
		Messenger: messenger,
		Publisher: publisher,
		Logger:    logger,
		Config:    cfg,
		now:       time.Now,
	}
}

func (dw *DispatchWorker) Start(ctx context.Context) {
	dw.Logger.WithField("interval", dw.Config.Interval).Info("Dispatch worker started")

	ticker := time.NewTicker(dw.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dw.Logger.Info("Dispatch worker shutting down...")
			return
		case <-ticker.C:
			if _, err := dw.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				dw.Logger.WithError(err).Error("Dispatch run failed")
			}
		}
	}
}

// RunOnce expires stale claims and sends one batch of due jobs. It returns
// the number of jobs that reached a terminal state.
func (dw *DispatchWorker) RunOnce(ctx context.Context) (int, error) {
	now := dw.now()

	expired, err := dw.Queue.ExpireClaims(ctx, now.Add(-dw.Config.ClaimTimeout))
	if err != nil {
		return 0, fmt.Errorf("expire claims: %w", err)
	}
	if expired > 0 {
		dw.Logger.WithField("count", expired).Warn("Expired stale job claims")
	}

	jobs, err := dw.Queue.ListDueJobs(ctx, now, dw.Config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due jobs: %w", err)
	}

	var done int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dw.Config.Concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			ok, err := dw.dispatch(gctx, job)
			if err != nil {
				dw.Logger.WithError(err).WithField("job_id", job.ID).Error("Failed to dispatch job")
				return nil
			}
			if ok {
				atomic.AddInt32(&done, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(done), ctx.Err()
}

// dispatch claims and delivers one job. It reports false when the job was
// taken or cancelled by someone else first.
func (dw *DispatchWorker) dispatch(ctx context.Context, job models.ScheduledJob) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	token := uuid.NewString()
	claimed, err := dw.Queue.ClaimJob(ctx, job.ID, token, dw.now())
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return false, nil
	}

	log := dw.Logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"deal_id":    job.DealID,
		"company_id": job.CompanyID,
		"channel":    job.Channel,
		"position":   job.Position,
	})

	// A won claim is delivered and recorded even when the run is cancelled.
	finishCtx := context.WithoutCancel(ctx)

	if sendErr := dw.deliver(finishCtx, job); sendErr != nil {
		if err := dw.Queue.MarkFailed(finishCtx, job.ID, token, sendErr.Error()); err != nil {
			return false, fmt.Errorf("mark failed: %w", err)
		}
		log.WithError(sendErr).Warn("Drip message failed")
		dw.publish(job, models.EventJobFailed, models.JobFailed, sendErr.Error())
		return true, nil
	}

	if err := dw.Queue.MarkSent(finishCtx, job.ID, token, dw.now()); err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	log.Info("Drip message sent")
	dw.publish(job, models.EventJobSent, models.JobSent, "")
	return true, nil
}

func (dw *DispatchWorker) deliver(ctx context.Context, job models.ScheduledJob) error {
	if !job.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", job.Channel)
	}
	if job.Channel.UsesEmail() {
		if err := dw.Messenger.SendEmail(ctx, job.ToEmail, job.Subject, job.Body); err != nil {
			return fmt.Errorf("email: %w", err)
		}
	}
	if job.Channel.UsesSMS() {
		if err := dw.Messenger.SendSMS(ctx, job.ToPhone, job.SMSBody); err != nil {
			return fmt.Errorf("sms: %w", err)
		}
	}
	return nil
}

func (dw *DispatchWorker) publish(job models.ScheduledJob, typ models.JobEventType, status models.JobStatus, reason string) {
	if dw.Publisher == nil {
		return
	}
	dw.Publisher.Publish(models.JobEvent{
		Type:      typ,
		CompanyID: job.CompanyID,
		DealID:    job.DealID,
		JobID:     job.ID,
		Status:    status,
		Channel:   job.Channel,
		Error:     reason,
		At:        dw.now(),
	})
}
