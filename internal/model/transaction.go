package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Ledger transaction types
// ============================================================================

const (
	TransactionTypeRedeemed = "redeemed"
	TransactionTypeRefunded = "refunded"
)

// ============================================================================
// Gift card ledger transaction
// ============================================================================

// GiftCardTransaction is one balance mutation of a gift card.
//
// Rules for this table:
//  1. append only: rows are never updated or deleted
//  2. exactly one row per balance mutation, with or without an order reference
//  3. before/after balances are stored so the chain can be re-verified:
//     redeemed: after = before - amount, refunded: after = before + amount
type GiftCardTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transactionNo"`
	GiftCardID    int64           `gorm:"index;not null" json:"giftCardId,string"`
	Type          string          `gorm:"type:varchar(16);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balanceAfter"`
	OrderID       *string         `gorm:"type:varchar(64);index" json:"orderId,omitempty"`
	UserID        *string         `gorm:"type:varchar(64)" json:"userId,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (GiftCardTransaction) TableName() string {
	return "gift_card_transaction"
}

// Consistent checks the before/after arithmetic of the row.
func (t *GiftCardTransaction) Consistent() bool {
	if !t.Amount.IsPositive() {
		return false
	}
	switch t.Type {
	case TransactionTypeRedeemed:
		return t.BalanceAfter.Equal(t.BalanceBefore.Sub(t.Amount))
	case TransactionTypeRefunded:
		return t.BalanceAfter.Equal(t.BalanceBefore.Add(t.Amount))
	default:
		return false
	}
}
