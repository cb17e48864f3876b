package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Pruner interface {
	PruneTerminal(ctx context.Context, before time.Time) (int, error)
}

// RetentionWorker deletes sent, failed and cancelled jobs once they are older
// than the retention window.
type RetentionWorker struct {
	Pruner    Pruner
	Logger    *logrus.Entry
	Retention time.Duration

	schedule string
	c        *cron.Cron
	now      func() time.Time
}

func NewRetentionWorker(pruner Pruner, logger *logrus.Entry, retention time.Duration, schedule string) (*RetentionWorker, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	rw := &RetentionWorker{
		Pruner:    pruner,
		Logger:    logger,
		Retention: retention,
		schedule:  schedule,
		c:         cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		now:       time.Now,
	}
	if _, err := rw.c.AddFunc(schedule, func() { rw.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return rw, nil
}

// Start runs the schedule until ctx is done.
func (rw *RetentionWorker) Start(ctx context.Context) {
	rw.Logger.WithField("schedule", rw.schedule).Info("Retention worker started")
	rw.c.Start()
	<-ctx.Done()
	<-rw.c.Stop().Done()
	rw.Logger.Info("Retention worker shutting down...")
}

func (rw *RetentionWorker) RunOnce(ctx context.Context) int {
	cutoff := rw.now().Add(-rw.Retention)
	n, err := rw.Pruner.PruneTerminal(ctx, cutoff)
	if err != nil {
		rw.Logger.WithError(err).Error("Failed to prune finished jobs")
		return 0
	}
	if n > 0 {
		rw.Logger.WithFields(logrus.Fields{"count": n, "before": cutoff}).Info("Pruned finished jobs")
	}
	return n
}
