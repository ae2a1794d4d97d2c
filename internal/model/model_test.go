package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionCommission(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{CommissionStatusPending, CommissionStatusApproved, true},
		{CommissionStatusPending, CommissionStatusCancelled, true},
		{CommissionStatusApproved, CommissionStatusPaid, true},
		{CommissionStatusApproved, CommissionStatusAdjusted, true},
		{CommissionStatusPending, CommissionStatusPaid, false},
		{CommissionStatusApproved, CommissionStatusCancelled, false},
		{CommissionStatusPaid, CommissionStatusApproved, false},
		{CommissionStatusCancelled, CommissionStatusPending, false},
		{CommissionStatusAdjusted, CommissionStatusPaid, false},
		{"UNKNOWN", CommissionStatusApproved, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionCommission(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestGiftCard_StatusForBalance(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	card := &GiftCard{Status: GiftCardStatusActive}
	assert.Equal(t, GiftCardStatusActive, card.StatusForBalance(decimal.NewFromInt(5), now))
	assert.Equal(t, GiftCardStatusRedeemed, card.StatusForBalance(decimal.Zero, now))

	card.ExpiresAt = &past
	assert.Equal(t, GiftCardStatusExpired, card.StatusForBalance(decimal.NewFromInt(5), now))

	disabled := &GiftCard{Status: GiftCardStatusDisabled}
	assert.Equal(t, GiftCardStatusDisabled, disabled.StatusForBalance(decimal.Zero, now))
}

func TestGiftCard_OwnedBy(t *testing.T) {
	redeemer := "u2"
	card := &GiftCard{PurchasedByUserID: "u1", RedeemedByUserID: &redeemer}

	assert.True(t, card.OwnedBy("u1"))
	assert.True(t, card.OwnedBy("u2"))
	assert.False(t, card.OwnedBy("u3"))
	assert.False(t, card.OwnedBy(""))
}

func TestGiftCardTransaction_Consistent(t *testing.T) {
	d := decimal.RequireFromString
	assert.True(t, (&GiftCardTransaction{Type: TransactionTypeRedeemed, Amount: d("20"), BalanceBefore: d("50"), BalanceAfter: d("30")}).Consistent())
	assert.True(t, (&GiftCardTransaction{Type: TransactionTypeRefunded, Amount: d("20"), BalanceBefore: d("30"), BalanceAfter: d("50")}).Consistent())
	assert.False(t, (&GiftCardTransaction{Type: TransactionTypeRedeemed, Amount: d("20"), BalanceBefore: d("50"), BalanceAfter: d("40")}).Consistent())
	assert.False(t, (&GiftCardTransaction{Type: TransactionTypeRedeemed, Amount: d("0"), BalanceBefore: d("50"), BalanceAfter: d("50")}).Consistent())
}

func TestCommissionCampaign_Covers(t *testing.T) {
	now := time.Now()
	end := now.Add(time.Hour)

	c := &CommissionCampaign{Active: true, StartsAt: now.Add(-time.Hour), EndsAt: &end}
	assert.True(t, c.Covers(now))
	assert.False(t, c.Covers(end))
	assert.False(t, c.Covers(now.Add(-2*time.Hour)))

	c.EndsAt = nil
	assert.True(t, c.Covers(now.Add(24*time.Hour)))

	c.Active = false
	assert.False(t, c.Covers(now))
}

func TestRole_Can(t *testing.T) {
	assert.True(t, RoleAdmin.Can(CapCommissionManage))
	assert.False(t, RoleCustomer.Can(CapCommissionManage))
	assert.True(t, RoleInfluencer.Can(CapCommissionViewOwn))
	assert.True(t, RoleService.Can(CapCommissionAccrue))
	assert.False(t, Role("root").Can(CapGiftCardIssue))

	_, ok := ParseRole("admin")
	assert.True(t, ok)
	_, ok = ParseRole("Admin")
	assert.False(t, ok)
}
