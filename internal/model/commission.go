package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CommissionStatusPending   = "PENDING"
	CommissionStatusApproved  = "APPROVED"
	CommissionStatusPaid      = "PAID"
	CommissionStatusCancelled = "CANCELLED"
	CommissionStatusAdjusted  = "ADJUSTED"
)

const (
	RateSourceCampaign = "CAMPAIGN"
	RateSourceCategory = "CATEGORY"
	RateSourceBase     = "BASE"
)

// CommissionTransitions lists the allowed edges of the commission workflow.
// PAID, CANCELLED and ADJUSTED have no outgoing edge.
var CommissionTransitions = map[string][]string{
	CommissionStatusPending:  {CommissionStatusApproved, CommissionStatusCancelled},
	CommissionStatusApproved: {CommissionStatusPaid, CommissionStatusAdjusted},
}

func CanTransitionCommission(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := CommissionTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ValidCommissionStatus reports whether s is one of the five workflow states.
func ValidCommissionStatus(s string) bool {
	switch s {
	case CommissionStatusPending, CommissionStatusApproved, CommissionStatusPaid,
		CommissionStatusCancelled, CommissionStatusAdjusted:
		return true
	}
	return false
}

// CommissionRecord is the commission earned by one influencer on one order.
// OrderTotal and RateApplied are snapshots taken at accrual time.
type CommissionRecord struct {
	ID               int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	OrderID          string          `gorm:"type:varchar(64);not null;uniqueIndex:uk_commission_order_influencer" json:"orderId"`
	InfluencerID     int64           `gorm:"not null;uniqueIndex:uk_commission_order_influencer;index" json:"influencerId,string"`
	OrderTotal       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"orderTotal"`
	RateSource       string          `gorm:"type:varchar(16);not null" json:"rateSource"`
	RateApplied      decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rateApplied"`
	CampaignID       *int64          `json:"campaignId,omitempty,string"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commissionAmount"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status           string          `gorm:"type:varchar(16);index;not null" json:"status"`
	Notes            string          `gorm:"type:varchar(512)" json:"notes,omitempty"`
	ApprovedAt       *time.Time      `json:"approvedAt,omitempty"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (CommissionRecord) TableName() string {
	return "commission_record"
}

// CommissionSummary aggregates commission amounts per status for one
// influencer. Total excludes cancelled records; Available equals Approved.
type CommissionSummary struct {
	Pending   decimal.Decimal `json:"pending"`
	Approved  decimal.Decimal `json:"approved"`
	Paid      decimal.Decimal `json:"paid"`
	Cancelled decimal.Decimal `json:"cancelled"`
	Adjusted  decimal.Decimal `json:"adjusted"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}
