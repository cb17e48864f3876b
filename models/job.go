package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSending   JobStatus = "sending"
	JobSent      JobStatus = "sent"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) IsPending() bool {
	return s == JobPending
}

func (s JobStatus) IsCancelled() bool {
	return s == JobCancelled
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobSent || s == JobFailed || s == JobCancelled
}

// ScheduledJob is one pending (or finished) send of a drip step for a deal.
// (DealID, SequenceID, Position) identifies the job among non-cancelled rows.
type ScheduledJob struct {
	gorm.Model
	CompanyID  uint `gorm:"not null;index" json:"company_id"`
	DealID     uint `gorm:"not null;index:idx_scheduled_job_key" json:"deal_id"`
	SequenceID uint `gorm:"not null;index:idx_scheduled_job_key" json:"sequence_id"`
	Position   int  `gorm:"not null;index:idx_scheduled_job_key" json:"position"`
	StepID     uint `gorm:"not null" json:"step_id"`

	FireAt  time.Time `gorm:"not null;index:idx_scheduled_job_due" json:"fire_at"`
	Status  JobStatus `gorm:"not null;default:'pending';index:idx_scheduled_job_due" json:"status"`
	Channel Channel   `gorm:"not null" json:"channel"`

	// Content and recipients are frozen when the job is scheduled.
	Subject string `json:"subject,omitempty"`
	Body    string `gorm:"type:text" json:"body,omitempty"`
	SMSBody string `gorm:"type:text" json:"sms_body,omitempty"`
	ToEmail string `json:"to_email,omitempty"`
	ToPhone string `json:"to_phone,omitempty"`

	// Dispatcher bookkeeping
	ClaimToken    string     `gorm:"index" json:"-"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// JobKey is the idempotency key of a scheduled job.
type JobKey struct {
	DealID     uint
	SequenceID uint
	Position   int
}

func (j ScheduledJob) Key() JobKey {
	return JobKey{DealID: j.DealID, SequenceID: j.SequenceID, Position: j.Position}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

type JobEventType string

const (
	EventJobSent          JobEventType = "job_sent"
	EventJobFailed        JobEventType = "job_failed"
	EventJobCancelled     JobEventType = "job_cancelled"
	EventTriggerProcessed JobEventType = "trigger_processed"
)

// JobEvent is pushed to connected operators of a company.
type JobEvent struct {
	Type      JobEventType `json:"type"`
	CompanyID uint         `json:"company_id"`
	DealID    uint         `json:"deal_id"`
	JobID     uint         `json:"job_id,omitempty"`
	Status    JobStatus    `json:"status,omitempty"`
	Channel   Channel      `json:"channel,omitempty"`
	Scheduled int          `json:"scheduled,omitempty"`
	Cancelled int          `json:"cancelled,omitempty"`
	Error     string       `json:"error,omitempty"`
	At        time.Time    `json:"at"`
}
