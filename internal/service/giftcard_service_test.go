package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"giftledger/internal/model"
	"giftledger/pkg/codegen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func TestGiftCardService_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN a 50.00 GBP card
	card := f.issue(t, "buyer", "50.00", "GBP")
	assert.True(t, codegen.Valid(card.Code))
	assert.Equal(t, model.GiftCardStatusActive, card.Status)

	// WHEN it is validated
	res, err := f.giftCards.Validate(ctx, card.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Balance.Equal(dec("50")))
	assert.Equal(t, "GBP", res.Currency)

	// WHEN 20.00 is redeemed for order o1
	redeemed, err := f.giftCards.Redeem(ctx, "shopper", card.Code, dec("20.00"), strPtr("o1"))
	require.NoError(t, err)
	assert.True(t, redeemed.Balance.Equal(dec("30")))

	txs, err := f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "buyer", Role: model.RoleCustomer})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionTypeRedeemed, txs[0].Type)
	assert.True(t, txs[0].BalanceBefore.Equal(dec("50")))
	assert.True(t, txs[0].BalanceAfter.Equal(dec("30")))
	require.NotNil(t, txs[0].OrderID)
	assert.Equal(t, "o1", *txs[0].OrderID)

	// WHEN 20.00 is refunded for o1
	refunded, err := f.giftCards.Refund(ctx, card.ID, "o1", dec("20.00"), "ops")
	require.NoError(t, err)

	// THEN the card is back to 50.00, active, with two transactions
	assert.True(t, refunded.Balance.Equal(dec("50")))
	assert.Equal(t, model.GiftCardStatusActive, refunded.Status)

	txs, err = f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "shopper", Role: model.RoleCustomer})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TransactionTypeRefunded, txs[0].Type)
	assert.True(t, txs[0].BalanceBefore.Equal(dec("30")))
	assert.True(t, txs[0].BalanceAfter.Equal(dec("50")))

	issued, err := f.outbox.GetByEventType(ctx, EventGiftCardIssued)
	require.NoError(t, err)
	assert.Len(t, issued, 1)
	redeemedEvents, err := f.outbox.GetByEventType(ctx, EventGiftCardRedeemed)
	require.NoError(t, err)
	assert.Len(t, redeemedEvents, 1)
}

func TestGiftCardService_Create_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name string
		in   CreateGiftCardInput
		want error
	}{
		{"zero amount", CreateGiftCardInput{PurchaserID: "u", Amount: dec("0")}, ErrInvalidAmount},
		{"negative amount", CreateGiftCardInput{PurchaserID: "u", Amount: dec("-5")}, ErrInvalidAmount},
		{"too many decimals", CreateGiftCardInput{PurchaserID: "u", Amount: dec("10.001")}, ErrInvalidAmount},
		{"fractional yen", CreateGiftCardInput{PurchaserID: "u", Amount: dec("10.5"), Currency: "JPY"}, ErrInvalidAmount},
		{"above maximum", CreateGiftCardInput{PurchaserID: "u", Amount: dec("1000.01")}, ErrInvalidAmount},
		{"unknown type", CreateGiftCardInput{PurchaserID: "u", Type: "plastic", Amount: dec("10")}, ErrInvalidInput},
		{"bad currency", CreateGiftCardInput{PurchaserID: "u", Amount: dec("10"), Currency: "POUNDS"}, ErrInvalidInput},
		{"expiry in the past", CreateGiftCardInput{PurchaserID: "u", Amount: dec("10"), ExpiresAt: &past}, ErrInvalidInput},
		{"missing purchaser", CreateGiftCardInput{Amount: dec("10")}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.giftCards.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGiftCardService_Create_Defaults(t *testing.T) {
	f := newFixture(t)
	future := time.Now().Add(24 * time.Hour)

	card, err := f.giftCards.Create(context.Background(), CreateGiftCardInput{
		PurchaserID:   "u1",
		Amount:        dec("25"),
		IssuedToEmail: " friend@example.com ",
		ExpiresAt:     &future,
	})
	require.NoError(t, err)

	assert.Equal(t, model.GiftCardTypeDigital, card.Type)
	assert.Equal(t, "GBP", card.Currency)
	assert.Equal(t, "friend@example.com", card.IssuedToEmail)
	assert.True(t, card.Amount.Equal(card.Balance))
	require.NotNil(t, card.ExpiresAt)
	assert.Equal(t, time.UTC, card.ExpiresAt.Location())
}

func TestGiftCardService_Create_RetriesOnCollision(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t, "u1", "10", "GBP")

	fresh, err := codegen.Generate()
	require.NoError(t, err)
	codes := []string{first.Code, first.Code, fresh}
	f.giftCards.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	second, err := f.giftCards.Create(context.Background(), CreateGiftCardInput{PurchaserID: "u2", Amount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, fresh, second.Code)
}

func TestGiftCardService_Create_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t, "u1", "10", "GBP")
	f.giftCards.newCode = func() (string, error) { return first.Code, nil }

	_, err := f.giftCards.Create(context.Background(), CreateGiftCardInput{PurchaserID: "u2", Amount: dec("10")})
	assert.Error(t, err)
	assert.False(t, IsClientError(err))
}

func TestGiftCardService_Validate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.giftCards.Validate(ctx, "ABCD-EFGH-JKLM-NPQR")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.giftCards.Validate(ctx, "not a code")
	assert.ErrorIs(t, err, ErrNotFound)

	disabled := f.issue(t, "u1", "10", "GBP")
	_, err = f.giftCards.Disable(ctx, disabled.ID)
	require.NoError(t, err)
	_, err = f.giftCards.Validate(ctx, disabled.Code)
	assert.ErrorIs(t, err, ErrNotActive)

	drained := f.issue(t, "u1", "10", "GBP")
	_, err = f.giftCards.Redeem(ctx, "u1", drained.Code, dec("10"), nil)
	require.NoError(t, err)
	_, err = f.giftCards.Validate(ctx, drained.Code)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestGiftCardService_Validate_NormalizesCode(t *testing.T) {
	f := newFixture(t)
	card := f.issue(t, "u1", "10", "GBP")

	raw := ""
	for _, r := range card.Code {
		if r != '-' {
			raw += string(r)
		}
	}
	res, err := f.giftCards.Validate(context.Background(), " "+raw+" ")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestGiftCardService_ExpiryIsLazy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	card, err := f.giftCards.Create(ctx, CreateGiftCardInput{PurchaserID: "u1", Amount: dec("10"), ExpiresAt: &future})
	require.NoError(t, err)

	// WHEN time moves past the expiry
	f.giftCards.now = func() time.Time { return future.Add(time.Minute) }
	f.giftCards.ledger.now = f.giftCards.now

	_, err = f.giftCards.Validate(ctx, card.Code)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.giftCards.Redeem(ctx, "u1", card.Code, dec("1"), nil)
	assert.ErrorIs(t, err, ErrExpired)

	// THEN neither call wrote the status or the balance
	stored := f.reload(t, card.ID)
	assert.Equal(t, model.GiftCardStatusActive, stored.Status)
	assert.True(t, stored.Balance.Equal(dec("10")))
}

func TestGiftCardService_ExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon := time.Now().Add(time.Hour)
	later := time.Now().Add(48 * time.Hour)
	expiring, err := f.giftCards.Create(ctx, CreateGiftCardInput{PurchaserID: "u1", Amount: dec("10"), ExpiresAt: &soon})
	require.NoError(t, err)
	keeping, err := f.giftCards.Create(ctx, CreateGiftCardInput{PurchaserID: "u1", Amount: dec("10"), ExpiresAt: &later})
	require.NoError(t, err)
	open := f.issue(t, "u1", "10", "GBP")

	f.giftCards.now = func() time.Time { return soon.Add(time.Minute) }

	n, err := f.giftCards.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.GiftCardStatusExpired, f.reload(t, expiring.ID).Status)
	assert.Equal(t, model.GiftCardStatusActive, f.reload(t, keeping.ID).Status)
	assert.Equal(t, model.GiftCardStatusActive, f.reload(t, open.ID).Status)

	// A second sweep finds nothing.
	n, err = f.giftCards.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	events, err := f.outbox.GetByEventType(ctx, EventGiftCardExpired)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Swept cards fail the same way as lazily expired ones.
	_, err = f.giftCards.Validate(ctx, expiring.Code)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrNotActive)
	_, err = f.giftCards.Redeem(ctx, "u2", expiring.Code, dec("1"), nil)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestGiftCardService_Redeem_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "10.00", "GBP")

	_, err := f.giftCards.Redeem(ctx, "u1", card.Code, dec("10.01"), strPtr("o1"))

	var ibe *InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, ibe.Available.Equal(dec("10")))
	assert.True(t, ibe.Requested.Equal(dec("10.01")))

	assert.True(t, f.reload(t, card.ID).Balance.Equal(dec("10")))
	txs, err := f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestGiftCardService_Redeem_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	card := f.issue(t, "u1", "10.00", "GBP")

	for _, amount := range []string{"0", "-1", "0.001"} {
		_, err := f.giftCards.Redeem(context.Background(), "u1", card.Code, dec(amount), nil)
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
	assert.True(t, f.reload(t, card.ID).Balance.Equal(dec("10")))
}

func TestGiftCardService_Redeem_DisabledCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "10.00", "GBP")

	_, err := f.giftCards.Disable(ctx, card.ID)
	require.NoError(t, err)

	_, err = f.giftCards.Redeem(ctx, "u1", card.Code, dec("1"), nil)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = f.giftCards.Refund(ctx, card.ID, "o1", dec("1"), "ops")
	assert.ErrorIs(t, err, ErrNotActive)

	assert.True(t, f.reload(t, card.ID).Balance.Equal(dec("10")))
}

func TestGiftCardService_Redeem_WithoutOrderWritesTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "10.00", "GBP")

	_, err := f.giftCards.Redeem(ctx, "u2", card.Code, dec("4"), nil)
	require.NoError(t, err)

	txs, err := f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Nil(t, txs[0].OrderID)
	require.NotNil(t, txs[0].UserID)
	assert.Equal(t, "u2", *txs[0].UserID)
}

func TestGiftCardService_RedeemFullThenRefundReactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "15.00", "GBP")

	drained, err := f.giftCards.Redeem(ctx, "u2", card.Code, dec("15"), strPtr("o9"))
	require.NoError(t, err)
	assert.Equal(t, model.GiftCardStatusRedeemed, drained.Status)
	assert.True(t, drained.Balance.IsZero())
	require.NotNil(t, drained.RedeemedByUserID)
	assert.Equal(t, "u2", *drained.RedeemedByUserID)
	assert.NotNil(t, drained.RedeemedAt)

	refunded, err := f.giftCards.Refund(ctx, card.ID, "o9", dec("5"), "ops")
	require.NoError(t, err)
	assert.Equal(t, model.GiftCardStatusActive, refunded.Status)
	assert.True(t, refunded.Balance.Equal(dec("5")))
}

func TestGiftCardService_Refund_RejectsExcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "50.00", "GBP")

	_, err := f.giftCards.Redeem(ctx, "u1", card.Code, dec("20"), strPtr("o1"))
	require.NoError(t, err)

	_, err = f.giftCards.Refund(ctx, card.ID, "o1", dec("20.01"), "ops")
	var rex *RefundExceedsError
	require.True(t, errors.As(err, &rex))
	assert.ErrorIs(t, err, ErrRefundExceedsAmount)
	assert.True(t, rex.Refundable.Equal(dec("20")))

	stored := f.reload(t, card.ID)
	assert.True(t, stored.Balance.Equal(dec("30")))
	assert.True(t, stored.Balance.LessThanOrEqual(stored.Amount))
}

func TestGiftCardService_Refund_UnknownCard(t *testing.T) {
	f := newFixture(t)
	_, err := f.giftCards.Refund(context.Background(), 42, "o1", dec("1"), "ops")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGiftCardService_ConcurrentRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "50.00", "GBP")

	// WHEN two 30.00 redemptions race for a 50.00 card
	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = f.giftCards.Redeem(ctx, "u2", card.Code, dec("30"), nil)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN exactly one succeeds and the balance never goes negative
	succeeded, insufficient := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.True(t, f.reload(t, card.ID).Balance.Equal(dec("20")))
}

func TestGiftCardService_ConcurrentRedemptionWithinBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "50.00", "GBP")

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := f.giftCards.Redeem(ctx, "u2", card.Code, dec("10"), nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored := f.reload(t, card.ID)
	assert.True(t, stored.Balance.IsZero())
	assert.Equal(t, model.GiftCardStatusRedeemed, stored.Status)
}

func TestLedger_StaleCardReloadsOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "50.00", "GBP")

	// GIVEN a copy of the card read before another writer debited 40.00
	stale := f.reload(t, card.ID)
	_, err := f.giftCards.Redeem(ctx, "u2", card.Code, dec("40"), nil)
	require.NoError(t, err)

	// WHEN the ledger applies 30.00 against the stale copy
	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.giftCards.ledger.ApplyRedemption(ctx, tx, stale, dec("30"), nil, "u3")
		return err
	})

	// THEN the CAS misses, the reload sees 10.00 and the debit is refused
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, f.reload(t, card.ID).Balance.Equal(dec("10")))

	// AND a debit that still fits succeeds after the reload
	stale = f.reload(t, card.ID)
	stale.Version--
	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.giftCards.ledger.ApplyRedemption(ctx, tx, stale, dec("5"), nil, "u3")
		return err
	})
	require.NoError(t, err)
	assert.True(t, f.reload(t, card.ID).Balance.Equal(dec("5")))
}

func TestGiftCardService_ListTransactions_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "owner", "10", "GBP")

	_, err := f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "stranger", Role: model.RoleCustomer})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "ops", Role: model.RoleAdmin})
	assert.NoError(t, err)

	_, err = f.giftCards.ListTransactions(ctx, 12345, Actor{UserID: "owner"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGiftCardService_ListForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bought1 := f.issue(t, "alice", "10", "GBP")
	bought2 := f.issue(t, "alice", "20", "GBP")
	gifted := f.issue(t, "bob", "30", "GBP")
	f.issue(t, "bob", "40", "GBP")

	_, err := f.giftCards.Redeem(ctx, "alice", gifted.Code, dec("5"), nil)
	require.NoError(t, err)

	cards, err := f.giftCards.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cards, 3)

	ids := []int64{cards[0].ID, cards[1].ID, cards[2].ID}
	assert.Equal(t, []int64{gifted.ID, bought2.ID, bought1.ID}, ids)
}

func TestGiftCardService_SecondRedeemerKeepsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "buyer", "50.00", "GBP")

	_, err := f.giftCards.Redeem(ctx, "alice", card.Code, dec("10"), nil)
	require.NoError(t, err)
	afterBob, err := f.giftCards.Redeem(ctx, "bob", card.Code, dec("10"), nil)
	require.NoError(t, err)

	require.NotNil(t, afterBob.RedeemedByUserID)
	assert.Equal(t, "bob", *afterBob.RedeemedByUserID)
	assert.Equal(t, "bob", *f.reload(t, card.ID).RedeemedByUserID)

	for _, user := range []string{"alice", "bob"} {
		txs, err := f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: user, Role: model.RoleCustomer})
		require.NoError(t, err, user)
		assert.Len(t, txs, 2, user)

		cards, err := f.giftCards.ListForUser(ctx, user)
		require.NoError(t, err, user)
		require.Len(t, cards, 1, user)
		assert.Equal(t, card.ID, cards[0].ID)
	}

	_, err = f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "carol", Role: model.RoleCustomer})
	assert.ErrorIs(t, err, ErrForbidden)
}

// Random operation sequences keep 0 <= balance <= amount and a ledger whose
// rows chain from one balance to the next.
func TestGiftCardService_BalanceInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.issue(t, "u1", "100.00", "GBP")
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 60; i++ {
		amount := decimal.New(int64(rng.Intn(4000)+1), -2)
		if rng.Intn(2) == 0 {
			_, _ = f.giftCards.Redeem(ctx, "u1", card.Code, amount, nil)
		} else {
			_, _ = f.giftCards.Refund(ctx, card.ID, "o", amount, "ops")
		}

		stored := f.reload(t, card.ID)
		require.False(t, stored.Balance.IsNegative())
		require.True(t, stored.Balance.LessThanOrEqual(stored.Amount))
		if stored.Status == model.GiftCardStatusRedeemed {
			require.True(t, stored.Balance.IsZero())
		}
	}

	txs, err := f.giftCards.ListTransactions(ctx, card.ID, Actor{UserID: "u1"})
	require.NoError(t, err)

	balance := dec("100")
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		require.True(t, tx.Consistent(), "transaction %s", tx.TransactionNo)
		require.True(t, tx.BalanceBefore.Equal(balance), "chain broken at %s", tx.TransactionNo)
		balance = tx.BalanceAfter
	}
	assert.True(t, f.reload(t, card.ID).Balance.Equal(balance))
}
