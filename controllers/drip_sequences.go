package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"dripline/middleware"
	"dripline/models"
	"dripline/utils"
)

type sequenceRequest struct {
	PipelineID uint   `json:"pipeline_id" validate:"required"`
	StageID    uint   `json:"stage_id" validate:"required"`
	Name       string `json:"name" validate:"required,max=200"`
	IsEnabled  bool   `json:"is_enabled"`
}

type stepRequest struct {
	// Position is where a new step is inserted; omitted appends.
	Position     *int   `json:"position" validate:"omitempty,min=0"`
	DelayType    string `json:"delay_type" validate:"required,delay_type"`
	DelayValue   int    `json:"delay_value" validate:"min=0"`
	DelayUnit    string `json:"delay_unit" validate:"required,delay_unit"`
	Channel      string `json:"channel" validate:"required,drip_channel"`
	EmailSubject string `json:"email_subject" validate:"max=500"`
	EmailBody    string `json:"email_body"`
	SMSBody      string `json:"sms_body" validate:"max=1600"`
}

func (r stepRequest) toStep() models.DripStep {
	step := models.DripStep{
		Position:     -1,
		DelayType:    models.DelayType(r.DelayType),
		DelayValue:   r.DelayValue,
		DelayUnit:    models.DelayUnit(r.DelayUnit),
		Channel:      models.Channel(r.Channel),
		EmailSubject: r.EmailSubject,
		EmailBody:    r.EmailBody,
		SMSBody:      r.SMSBody,
	}
	if r.Position != nil {
		step.Position = *r.Position
	}
	return step
}

type reorderRequest struct {
	StepIDs []uint `json:"step_ids" validate:"required,min=1"`
}

// stepView adds the content the step's channel still lacks, so the editor
// can flag steps the scheduler would skip.
type stepView struct {
	models.DripStep
	MissingContent []string `json:"missing_content,omitempty"`
}

func viewSteps(steps []models.DripStep) []stepView {
	out := make([]stepView, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepView{DripStep: s, MissingContent: s.MissingContent()})
	}
	return out
}

func (dc *DripController) ListSequences(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	pipelineID := uint(c.QueryInt("pipeline_id", 0))

	seqs, err := dc.Sequences.ListSequences(c.UserContext(), companyID, pipelineID)
	if err != nil {
		return dc.respondError(c, "list_sequences_failed", err, map[string]interface{}{})
	}
	if seqs == nil {
		seqs = []models.DripSequence{}
	}
	return c.JSON(utils.SuccessResponse(seqs))
}

func (dc *DripController) GetSequence(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence id", nil)
	}

	seq, err := dc.Sequences.GetSequenceByID(c.UserContext(), companyID, id)
	if err != nil {
		return dc.respondError(c, "get_sequence_failed", err, map[string]interface{}{"sequence_id": id})
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"sequence": seq,
		"steps":    viewSteps(seq.Steps),
	}))
}

// UpsertSequence creates or renames the sequence of a pipeline stage.
func (dc *DripController) UpsertSequence(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)

	var input sequenceRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	seq := models.DripSequence{
		CompanyID:  companyID,
		PipelineID: input.PipelineID,
		StageID:    input.StageID,
		Name:       input.Name,
		IsEnabled:  input.IsEnabled,
	}
	if err := dc.Sequences.UpsertSequence(c.UserContext(), &seq); err != nil {
		return dc.respondError(c, "upsert_sequence_failed", err, map[string]interface{}{"stage_id": input.StageID})
	}

	dc.Logger.WithFields(logrus.Fields{
		"company_id":  companyID,
		"sequence_id": seq.ID,
		"enabled":     seq.IsEnabled,
	}).Info("Drip sequence saved")
	return c.JSON(utils.SuccessResponse(seq))
}

func (dc *DripController) DeleteSequence(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence id", nil)
	}

	if err := dc.Sequences.DeleteSequence(c.UserContext(), companyID, id); err != nil {
		return dc.respondError(c, "delete_sequence_failed", err, map[string]interface{}{"sequence_id": id})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (dc *DripController) CreateStep(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	sequenceID := utils.ParseUint(c.Params("id"))
	if sequenceID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence id", nil)
	}

	var input stepRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	step := input.toStep()
	if err := dc.Sequences.CreateStep(c.UserContext(), companyID, sequenceID, &step); err != nil {
		return dc.respondError(c, "create_step_failed", err, map[string]interface{}{"sequence_id": sequenceID})
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(stepView{
		DripStep:       step,
		MissingContent: step.MissingContent(),
	}))
}

// UpdateStep replaces a step's delay, channel and content. Pending jobs are
// not touched here; the next trigger for each deal reconciles them.
func (dc *DripController) UpdateStep(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	stepID := utils.ParseUint(c.Params("stepId"))
	if stepID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid step id", nil)
	}

	var input stepRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	step, err := dc.Sequences.UpdateStep(c.UserContext(), companyID, stepID, input.toStep())
	if err != nil {
		return dc.respondError(c, "update_step_failed", err, map[string]interface{}{"step_id": stepID})
	}
	return c.JSON(utils.SuccessResponse(stepView{
		DripStep:       *step,
		MissingContent: step.MissingContent(),
	}))
}

func (dc *DripController) DeleteStep(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	stepID := utils.ParseUint(c.Params("stepId"))
	if stepID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid step id", nil)
	}

	if err := dc.Sequences.DeleteStep(c.UserContext(), companyID, stepID); err != nil {
		return dc.respondError(c, "delete_step_failed", err, map[string]interface{}{"step_id": stepID})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (dc *DripController) ReorderSteps(c *fiber.Ctx) error {
	companyID := middleware.CompanyID(c)
	sequenceID := utils.ParseUint(c.Params("id"))
	if sequenceID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence id", nil)
	}

	var input reorderRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	steps, err := dc.Sequences.ReorderSteps(c.UserContext(), companyID, sequenceID, input.StepIDs)
	if err != nil {
		return dc.respondError(c, "reorder_steps_failed", err, map[string]interface{}{"sequence_id": sequenceID})
	}
	return c.JSON(utils.SuccessResponse(viewSteps(steps)))
}
