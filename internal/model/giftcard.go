package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	GiftCardStatusActive   = "active"
	GiftCardStatusRedeemed = "redeemed"
	GiftCardStatusExpired  = "expired"
	GiftCardStatusDisabled = "disabled"
)

const (
	GiftCardTypeDigital  = "digital"
	GiftCardTypePhysical = "physical"
)

// GiftCard is a redeemable credit instrument.
//
// Amount and Currency are fixed at issue time. Balance only moves through the
// ledger (redeem / refund), and every move bumps Version so concurrent writers
// can detect each other.
type GiftCard struct {
	ID                int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Code              string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Type              string          `gorm:"type:varchar(16);not null" json:"type"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Balance           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance"`
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string          `gorm:"type:varchar(16);index;not null" json:"status"`
	ExpiresAt         *time.Time      `gorm:"index" json:"expiresAt,omitempty"`
	PurchasedByUserID string          `gorm:"type:varchar(64);index;not null" json:"purchasedByUserId"`
	IssuedToEmail     string          `gorm:"type:varchar(255)" json:"issuedToEmail,omitempty"`
	IssuedToName      string          `gorm:"type:varchar(128)" json:"issuedToName,omitempty"`
	Message           string          `gorm:"type:varchar(512)" json:"message,omitempty"`
	RedeemedByUserID  *string         `gorm:"type:varchar(64);index" json:"redeemedByUserId,omitempty"`
	RedeemedAt        *time.Time      `json:"redeemedAt,omitempty"`
	Version           int             `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (GiftCard) TableName() string {
	return "gift_card"
}

// IsExpired reports whether the expiry passed at now. A card without expiry
// never expires.
func (g *GiftCard) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// OwnedBy reports whether userID bought or redeemed the card.
func (g *GiftCard) OwnedBy(userID string) bool {
	if userID == "" {
		return false
	}
	if g.PurchasedByUserID == userID {
		return true
	}
	return g.RedeemedByUserID != nil && *g.RedeemedByUserID == userID
}

// StatusForBalance returns the status a card should carry after its balance
// changed to balance. Disabled cards stay disabled.
func (g *GiftCard) StatusForBalance(balance decimal.Decimal, now time.Time) string {
	switch {
	case g.Status == GiftCardStatusDisabled:
		return GiftCardStatusDisabled
	case !balance.IsPositive():
		return GiftCardStatusRedeemed
	case g.IsExpired(now):
		return GiftCardStatusExpired
	default:
		return GiftCardStatusActive
	}
}

func ValidGiftCardType(t string) bool {
	return t == GiftCardTypeDigital || t == GiftCardTypePhysical
}
