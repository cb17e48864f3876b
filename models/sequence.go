package models

import "gorm.io/gorm"

type DelayType string

const (
	DelayImmediate DelayType = "immediate"
	DelayAfter     DelayType = "after"
)

type DelayUnit string

const (
	UnitMinutes DelayUnit = "minutes"
	UnitHours   DelayUnit = "hours"
	UnitDays    DelayUnit = "days"
	UnitWeeks   DelayUnit = "weeks"
	UnitMonths  DelayUnit = "months"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelBoth  Channel = "both"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelBoth:
		return true
	default:
		return false
	}
}

// UsesEmail reports whether the channel sends an email.
func (c Channel) UsesEmail() bool {
	return c == ChannelEmail || c == ChannelBoth
}

// UsesSMS reports whether the channel sends a text message.
func (c Channel) UsesSMS() bool {
	return c == ChannelSMS || c == ChannelBoth
}

// DripSequence is the drip configuration of one pipeline stage of a company.
type DripSequence struct {
	gorm.Model
	CompanyID  uint `gorm:"not null;uniqueIndex:idx_drip_sequence_scope" json:"company_id"`
	PipelineID uint `gorm:"not null;uniqueIndex:idx_drip_sequence_scope" json:"pipeline_id"`
	StageID    uint `gorm:"not null;uniqueIndex:idx_drip_sequence_scope" json:"stage_id"`

	Name      string `gorm:"not null" json:"name"`
	IsEnabled bool   `gorm:"not null" json:"is_enabled"`

	// Relations
	Steps []DripStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// DripStep is one timed message of a sequence. Position is dense and starts at 0.
type DripStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;uniqueIndex:idx_drip_step_position" json:"sequence_id"`
	Position   int  `gorm:"not null;uniqueIndex:idx_drip_step_position" json:"position"`

	DelayType  DelayType `gorm:"not null;default:'immediate'" json:"delay_type"`
	DelayValue int       `gorm:"not null;default:0" json:"delay_value"`
	DelayUnit  DelayUnit `gorm:"not null;default:'days'" json:"delay_unit"`

	Channel      Channel `gorm:"not null;default:'email'" json:"channel"`
	EmailSubject string  `json:"email_subject"`
	EmailBody    string  `gorm:"type:text" json:"email_body"`
	SMSBody      string  `gorm:"type:text" json:"sms_body"`
}

// EffectiveDelay returns the delay value the step is scheduled with. Immediate
// steps always fire with no delay, whatever value is stored.
func (s DripStep) EffectiveDelay() int {
	if s.DelayType == DelayImmediate || s.DelayValue < 0 {
		return 0
	}
	return s.DelayValue
}

// MissingContent lists the content fields the step's channel requires but
// which are blank.
func (s DripStep) MissingContent() []string {
	var missing []string
	if s.Channel.UsesEmail() {
		if isBlank(s.EmailSubject) {
			missing = append(missing, "email_subject")
		}
		if isBlank(s.EmailBody) {
			missing = append(missing, "email_body")
		}
	}
	if s.Channel.UsesSMS() && isBlank(s.SMSBody) {
		missing = append(missing, "sms_body")
	}
	return missing
}
