package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"dripline/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("drip_channel", func(fl validator.FieldLevel) bool {
		return models.Channel(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("delay_type", func(fl validator.FieldLevel) bool {
		switch models.DelayType(fl.Field().String()) {
		case models.DelayImmediate, models.DelayAfter:
			return true
		}
		return false
	})
	_ = v.RegisterValidation("delay_unit", func(fl validator.FieldLevel) bool {
		switch models.DelayUnit(fl.Field().String()) {
		case models.UnitMinutes, models.UnitHours, models.UnitDays, models.UnitWeeks, models.UnitMonths:
			return true
		}
		return false
	})
	return v
}

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	// Format validation errors
	var msgs []string
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		param := e.Param()

		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be at least "+param)
		case "max":
			msgs = append(msgs, field+" must be at most "+param)
		case "oneof":
			msgs = append(msgs, field+" must be one of "+param)
		case "drip_channel":
			msgs = append(msgs, field+" must be email, sms or both")
		case "delay_type":
			msgs = append(msgs, field+" must be immediate or after")
		case "delay_unit":
			msgs = append(msgs, field+" must be minutes, hours, days, weeks or months")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, ", "))
}
