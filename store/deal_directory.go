package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"dripline/drip"
	"dripline/models"
)

var _ drip.DealDirectory = (*DealDirectory)(nil)

// DealDirectory reads deals and their company from the CRM tables.
type DealDirectory struct {
	db *gorm.DB
}

func NewDealDirectory(db *gorm.DB) *DealDirectory {
	return &DealDirectory{db: db}
}

func (d *DealDirectory) GetDeal(ctx context.Context, companyID, dealID uint) (*drip.DealContext, error) {
	var deal models.Deal
	err := d.db.WithContext(ctx).
		Preload("Company").
		Where("id = ? AND company_id = ?", dealID, companyID).
		First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: company=%d deal=%d", drip.ErrDealNotFound, companyID, dealID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deal %d: %w", dealID, err)
	}
	return DealContextOf(deal), nil
}

// DealContextOf flattens a deal and its preloaded company.
func DealContextOf(deal models.Deal) *drip.DealContext {
	return &drip.DealContext{
		DealID:       deal.ID,
		CompanyID:    deal.CompanyID,
		PipelineID:   deal.PipelineID,
		StageID:      deal.StageID,
		Title:        deal.Title,
		ClientName:   deal.ClientName,
		ClientEmail:  deal.ClientEmail,
		ClientPhone:  deal.ClientPhone,
		CompanyName:  deal.Company.Name,
		CompanyEmail: deal.Company.Email,
		CompanyPhone: deal.Company.Phone,
	}
}
