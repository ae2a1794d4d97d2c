package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses mirrored from the order service. Only COMPLETED orders
// accrue commission.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
)

// OrderSnapshot is the local read model of an order owned by the order
// service. It is fed by order events and never edited through the API.
type OrderSnapshot struct {
	ID           int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	OrderID      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"orderId"`
	UserID       string          `gorm:"type:varchar(64);index;not null" json:"userId"`
	InfluencerID *int64          `gorm:"index" json:"influencerId,omitempty,string"`
	Category     string          `gorm:"type:varchar(64);not null" json:"category"`
	Total        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status       string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CompletedAt  *time.Time      `gorm:"index" json:"completedAt,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (OrderSnapshot) TableName() string {
	return "order_snapshot"
}

// Referred reports whether the order carries an influencer attribution.
func (o *OrderSnapshot) Referred() bool {
	return o.InfluencerID != nil
}

// EligibleForCommission reports whether the order may accrue commission.
func (o *OrderSnapshot) EligibleForCommission() bool {
	return o.Referred() && o.Status == OrderStatusCompleted
}
