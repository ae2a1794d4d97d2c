package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftledger/internal/model"
	"giftledger/internal/repository"
	"giftledger/pkg/idgen"
	"giftledger/pkg/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// Balance ledger
// ============================================================================
//
// Every balance change of a gift card goes through here and produces exactly
// one append-only GiftCardTransaction in the same DB transaction.
//
// Per-card serializability: the new balance is written with
//
//   UPDATE gift_card SET balance=?, status=?, version=version+1
//   WHERE id=? AND version=?
//
// Zero rows affected means a concurrent writer committed first. The card is
// reloaded and the request re-evaluated against the fresh balance, so a
// racing debit that drained the card ends in InsufficientBalance, never in
// a negative balance.
//
// ============================================================================

type Ledger struct {
	cards        *repository.GiftCardRepository
	transactions *repository.GiftCardTransactionRepository
	retries      int
	now          func() time.Time
}

func NewLedger(db *gorm.DB, retries int) *Ledger {
	if retries < 1 {
		retries = 1
	}
	return &Ledger{
		cards:        repository.NewGiftCardRepository(db),
		transactions: repository.NewGiftCardTransactionRepository(db),
		retries:      retries,
		now:          time.Now,
	}
}

// checkRedeemable applies the validation rules shared by Validate and
// ApplyRedemption, in the same order. A card the sweeper already marked
// expired reports Expired, the same as one caught lazily.
func checkRedeemable(card *model.GiftCard, now time.Time) error {
	if card.Status == model.GiftCardStatusExpired {
		return ErrExpired
	}
	if card.Status != model.GiftCardStatusActive {
		return fmt.Errorf("%w: status %s", ErrNotActive, card.Status)
	}
	if card.IsExpired(now) {
		return ErrExpired
	}
	if !card.Balance.IsPositive() {
		return ErrEmptyBalance
	}
	return nil
}

func checkAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !money.FitsPrecision(amount, currency) {
		return fmt.Errorf("%w: too many decimal places for %s", ErrInvalidAmount, currency)
	}
	return nil
}

// ApplyRedemption debits amount from card. card is updated in place with the
// committed state on success.
func (l *Ledger) ApplyRedemption(ctx context.Context, tx *gorm.DB, card *model.GiftCard, amount decimal.Decimal, orderID *string, actorID string) (*model.GiftCardTransaction, error) {
	if err := checkAmount(amount, card.Currency); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		now := l.now()
		if err := checkRedeemable(card, now); err != nil {
			return nil, err
		}
		if amount.GreaterThan(card.Balance) {
			return nil, &InsufficientBalanceError{Available: card.Balance, Requested: amount}
		}

		before := card.Balance
		after := before.Sub(amount)
		upd := repository.BalanceUpdate{
			Balance:    after,
			Status:     card.StatusForBalance(after, now),
			RedeemedAt: &now,
		}
		if actorID != "" {
			upd.RedeemedByUserID = &actorID
		}

		err := l.cards.CompareAndSwapBalance(ctx, tx, card.ID, card.Version, upd)
		if err == nil {
			card.Balance = after
			card.Status = upd.Status
			card.RedeemedAt = upd.RedeemedAt
			if upd.RedeemedByUserID != nil {
				card.RedeemedByUserID = upd.RedeemedByUserID
			}
			card.Version++
			return l.appendTransaction(ctx, tx, card.ID, model.TransactionTypeRedeemed, amount, before, after, orderID, actorID)
		}

		if err := l.reloadAfterConflict(ctx, tx, card, err, attempt); err != nil {
			return nil, err
		}
	}
}

// ApplyRefund credits amount back to card. A refund that would lift the
// balance above the issued amount is rejected, not clamped.
func (l *Ledger) ApplyRefund(ctx context.Context, tx *gorm.DB, card *model.GiftCard, amount decimal.Decimal, orderID *string, actorID string) (*model.GiftCardTransaction, error) {
	if err := checkAmount(amount, card.Currency); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		if card.Status == model.GiftCardStatusDisabled {
			return nil, fmt.Errorf("%w: status %s", ErrNotActive, card.Status)
		}

		before := card.Balance
		after := before.Add(amount)
		if after.GreaterThan(card.Amount) {
			return nil, &RefundExceedsError{Refundable: card.Amount.Sub(before), Requested: amount}
		}

		upd := repository.BalanceUpdate{
			Balance: after,
			Status:  card.StatusForBalance(after, l.now()),
		}

		err := l.cards.CompareAndSwapBalance(ctx, tx, card.ID, card.Version, upd)
		if err == nil {
			card.Balance = after
			card.Status = upd.Status
			card.Version++
			return l.appendTransaction(ctx, tx, card.ID, model.TransactionTypeRefunded, amount, before, after, orderID, actorID)
		}

		if err := l.reloadAfterConflict(ctx, tx, card, err, attempt); err != nil {
			return nil, err
		}
	}
}

func (l *Ledger) reloadAfterConflict(ctx context.Context, tx *gorm.DB, card *model.GiftCard, casErr error, attempt int) error {
	if !errors.Is(casErr, repository.ErrVersionConflict) {
		return fmt.Errorf("update balance: %w", casErr)
	}
	if attempt >= l.retries {
		return ErrConcurrentModification
	}

	fresh, err := l.cards.GetByIDForUpdate(ctx, tx, card.ID)
	if err != nil {
		return fmt.Errorf("reload gift card: %w", err)
	}
	*card = *fresh
	return nil
}

func (l *Ledger) appendTransaction(ctx context.Context, tx *gorm.DB, giftCardID int64, typ string, amount, before, after decimal.Decimal, orderID *string, actorID string) (*model.GiftCardTransaction, error) {
	trans := &model.GiftCardTransaction{
		ID:            idgen.NextID(),
		TransactionNo: idgen.GenerateTransactionNo(),
		GiftCardID:    giftCardID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		OrderID:       orderID,
	}
	if actorID != "" {
		trans.UserID = &actorID
	}
	if err := l.transactions.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return trans, nil
}
