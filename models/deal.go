package models

import "gorm.io/gorm"

// Company is the read model of a tenant used when rendering drip content.
type Company struct {
	gorm.Model
	Name  string `gorm:"not null" json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Deal is the subset of a CRM deal the drip scheduler needs.
type Deal struct {
	gorm.Model
	CompanyID  uint `gorm:"not null;index" json:"company_id"`
	PipelineID uint `gorm:"not null;index" json:"pipeline_id"`
	StageID    uint `gorm:"not null;index" json:"stage_id"`

	Title       string `json:"title"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
	EnableDrips bool   `gorm:"not null" json:"enable_drips"`

	// Relations
	Company Company `json:"-"`
}
