package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InfluencerStatusActive    = "active"
	InfluencerStatusSuspended = "suspended"
)

// Influencer is a referring party. BaseRate is the fallback commission rate
// when neither a campaign nor a category rate applies.
type Influencer struct {
	ID        int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"userId"`
	BaseRate  decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"baseRate"`
	Status    string          `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Influencer) TableName() string {
	return "influencer"
}

// CategoryCommissionRate is the platform wide rate for a product category.
type CategoryCommissionRate struct {
	ID        int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Category  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"category"`
	Rate      decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rate"`
	Active    bool            `gorm:"not null" json:"active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (CategoryCommissionRate) TableName() string {
	return "category_commission_rate"
}

// CommissionCampaign overrides the rate for one influencer and category
// while [StartsAt, EndsAt) covers the accrual time. A nil EndsAt is open.
type CommissionCampaign struct {
	ID           int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	InfluencerID int64           `gorm:"not null;index:idx_campaign_lookup" json:"influencerId,string"`
	Category     string          `gorm:"type:varchar(64);not null;index:idx_campaign_lookup" json:"category"`
	Rate         decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rate"`
	StartsAt     time.Time       `gorm:"not null" json:"startsAt"`
	EndsAt       *time.Time      `json:"endsAt,omitempty"`
	Active       bool            `gorm:"not null" json:"active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (CommissionCampaign) TableName() string {
	return "commission_campaign"
}

// Covers reports whether the campaign is running at t.
func (c *CommissionCampaign) Covers(t time.Time) bool {
	if !c.Active || t.Before(c.StartsAt) {
		return false
	}
	return c.EndsAt == nil || t.Before(*c.EndsAt)
}

// ValidRate accepts fractions in [0, 1].
func ValidRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(1))
}
