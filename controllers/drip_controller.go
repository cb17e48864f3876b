package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"dripline/drip"
	"dripline/locker"
	"dripline/middleware"
	"dripline/models"
	"dripline/store"
	"dripline/utils"
)

// SequenceRepository is the operator side of the sequence store.
type SequenceRepository interface {
	GetSequenceByID(ctx context.Context, companyID, id uint) (*models.DripSequence, error)
	ListSequences(ctx context.Context, companyID, pipelineID uint) ([]models.DripSequence, error)
	UpsertSequence(ctx context.Context, seq *models.DripSequence) error
	DeleteSequence(ctx context.Context, companyID, id uint) error
	CreateStep(ctx context.Context, companyID, sequenceID uint, step *models.DripStep) error
	UpdateStep(ctx context.Context, companyID, stepID uint, patch models.DripStep) (*models.DripStep, error)
	DeleteStep(ctx context.Context, companyID, stepID uint) error
	ReorderSteps(ctx context.Context, companyID, sequenceID uint, stepIDs []uint) ([]models.DripStep, error)
}

type JobRepository interface {
	ListForDeal(ctx context.Context, companyID, dealID uint) ([]models.ScheduledJob, error)
	GetJob(ctx context.Context, companyID, id uint) (*models.ScheduledJob, error)
}

// Scheduler is the trigger intake of the drip engine.
type Scheduler interface {
	HandleTrigger(ctx context.Context, t drip.Trigger) (drip.Result, error)
	CancelJob(ctx context.Context, job models.ScheduledJob) (bool, error)
}

type EventPublisher interface {
	Publish(event models.JobEvent)
}

type DripController struct {
	Sequences SequenceRepository
	Jobs      JobRepository
	Scheduler Scheduler
	Events    EventPublisher
	Logger    *logrus.Entry
}

func NewDripController(sequences SequenceRepository, jobs JobRepository, scheduler Scheduler, events EventPublisher, logger *logrus.Entry) *DripController {
	return &DripController{
		Sequences: sequences,
		Jobs:      jobs,
		Scheduler: scheduler,
		Events:    events,
		Logger:    logger,
	}
}

type triggerRequest struct {
	Kind               drip.TriggerKind `json:"kind" validate:"required,oneof=deal_created stage_changed manual_toggle manual_cancel"`
	DealID             uint             `json:"deal_id" validate:"required"`
	PipelineID         uint             `json:"pipeline_id"`
	StageID            uint             `json:"stage_id"`
	PreviousStageID    uint             `json:"previous_stage_id"`
	EnableDrips        *bool            `json:"enable_drips"`
	CancelExistingJobs bool             `json:"cancel_existing_jobs"`
	OccurredAt         *time.Time       `json:"occurred_at"`
}

// HandleTrigger runs one reconcile for a deal of the caller's company.
func (dc *DripController) HandleTrigger(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)

	var input triggerRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.EnableDrips == nil && input.Kind != drip.ManualCancel {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", errors.New("enable_drips is required"))
	}

	t := drip.Trigger{
		Kind:               input.Kind,
		CompanyID:          companyID,
		DealID:             input.DealID,
		PipelineID:         input.PipelineID,
		StageID:            input.StageID,
		PreviousStageID:    input.PreviousStageID,
		CancelExistingJobs: input.CancelExistingJobs,
	}
	if input.EnableDrips != nil {
		t.EnableDrips = *input.EnableDrips
	}
	if input.OccurredAt != nil {
		t.OccurredAt = *input.OccurredAt
	}

	res, err := dc.Scheduler.HandleTrigger(c.UserContext(), t)
	if err != nil {
		return dc.respondError(c, "trigger_failed", err, map[string]interface{}{
			"deal_id": t.DealID,
			"kind":    t.Kind,
		})
	}

	dc.publish(models.JobEvent{
		Type:      models.EventTriggerProcessed,
		CompanyID: companyID,
		DealID:    t.DealID,
		Scheduled: res.ScheduledCount,
		Cancelled: res.CancelledCount,
		At:        time.Now(),
	})
	return c.JSON(utils.SuccessResponse(res))
}

// ListDealJobs returns every job of a deal, including finished ones.
func (dc *DripController) ListDealJobs(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	dealID := utils.ParseUint(c.Params("dealId"))
	if dealID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid deal id", nil)
	}

	jobs, err := dc.Jobs.ListForDeal(c.UserContext(), companyID, dealID)
	if err != nil {
		return dc.respondError(c, "list_jobs_failed", err, map[string]interface{}{"deal_id": dealID})
	}
	if jobs == nil {
		jobs = []models.ScheduledJob{}
	}
	return c.JSON(utils.SuccessResponse(jobs))
}

// CancelJob cancels one pending job. Cancelling a job that already left
// pending is reported as a conflict, not an error.
func (dc *DripController) CancelJob(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job id", nil)
	}

	job, err := dc.Jobs.GetJob(c.UserContext(), companyID, id)
	if err != nil {
		return dc.respondError(c, "cancel_job_failed", err, map[string]interface{}{"job_id": id})
	}

	cancelled, err := dc.Scheduler.CancelJob(c.UserContext(), *job)
	if err != nil {
		return dc.respondError(c, "cancel_job_failed", err, map[string]interface{}{"job_id": id})
	}
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "Job is no longer pending",
		})
	}

	dc.publish(models.JobEvent{
		Type:      models.EventJobCancelled,
		CompanyID: companyID,
		DealID:    job.DealID,
		JobID:     job.ID,
		Status:    models.JobCancelled,
		Channel:   job.Channel,
		At:        time.Now(),
	})
	return c.JSON(utils.SuccessResponse(fiber.Map{"id": id, "status": models.JobCancelled}))
}

func (dc *DripController) publish(ev models.JobEvent) {
	if dc.Events != nil {
		dc.Events.Publish(ev)
	}
}

// respondError maps domain errors to status codes. Anything unexpected is a
// 500 and is reported.
func (dc *DripController) respondError(c *fiber.Ctx, errorType string, err error, fields map[string]interface{}) error {
	switch {
	case errors.Is(err, drip.ErrInvalidTrigger),
		errors.Is(err, drip.ErrInvalidDelay),
		errors.Is(err, store.ErrInvalidStepOrder),
		errors.Is(err, store.ErrPositionOutOfRange):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, drip.ErrDealNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Deal not found", nil)
	case errors.Is(err, store.ErrSequenceNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	case errors.Is(err, store.ErrStepNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	case errors.Is(err, store.ErrJobNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Job not found", nil)
	case errors.Is(err, locker.ErrLockTimeout):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Deal is busy, retry shortly", nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Request timed out", nil)
	}

	fields["company_id"] = middleware.CompanyID(c)
	fields["path"] = c.Path()
	utils.LogError(errorType, err, fields)
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Internal server error", nil)
}
