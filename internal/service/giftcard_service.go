package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"giftledger/internal/config"
	"giftledger/internal/infrastructure/lock"
	"giftledger/internal/model"
	"giftledger/internal/repository"
	"giftledger/pkg/codegen"
	"giftledger/pkg/idgen"
	"giftledger/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of an operation, taken from the request
// context by the HTTP layer.
type Actor struct {
	UserID string
	Role   model.Role
}

type GiftCardService struct {
	db           *gorm.DB
	cards        *repository.GiftCardRepository
	transactions *repository.GiftCardTransactionRepository
	ledger       *Ledger
	events       *EventWriter
	locker       lock.Locker
	business     config.BusinessConfig
	topic        string
	logger       *zap.Logger
	now          func() time.Time
	newCode      func() (string, error)
}

func NewGiftCardService(db *gorm.DB, locker lock.Locker, cfg *config.Config, logger *zap.Logger) *GiftCardService {
	return &GiftCardService{
		db:           db,
		cards:        repository.NewGiftCardRepository(db),
		transactions: repository.NewGiftCardTransactionRepository(db),
		ledger:       NewLedger(db, cfg.Business.RedeemRetries),
		events:       NewEventWriter(db),
		locker:       locker,
		business:     cfg.Business,
		topic:        cfg.Kafka.Topic.GiftCardEvents,
		logger:       logger.Named("giftcard"),
		now:          time.Now,
		newCode:      codegen.Generate,
	}
}

// ============================================================================
// Issue
// ============================================================================

type CreateGiftCardInput struct {
	PurchaserID   string
	Type          string
	Amount        decimal.Decimal
	Currency      string
	IssuedToEmail string
	IssuedToName  string
	ExpiresAt     *time.Time
	Message       string
}

func (s *GiftCardService) Create(ctx context.Context, in CreateGiftCardInput) (*model.GiftCard, error) {
	card, err := s.newCard(in)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.business.CodeGenerationAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		exists, err := s.cards.CodeExists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("check code: %w", err)
		}
		if exists {
			s.logger.Warn("gift card code collision", zap.Int("attempt", attempt))
			continue
		}

		card.ID = idgen.NextID()
		card.Code = code
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.cards.Create(ctx, tx, card); err != nil {
				return err
			}
			evt := giftCardEvent(card, nil)
			evt.Code = card.Code
			evt.UserID = card.PurchasedByUserID
			return s.events.Write(ctx, tx, s.topic, EventGiftCardIssued, fmt.Sprint(card.ID), evt)
		})
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race on the unique index between the check and the insert.
			s.logger.Warn("gift card code collision on insert", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create gift card: %w", err)
		}

		s.logger.Info("gift card issued",
			zap.Int64("gift_card_id", card.ID),
			zap.String("purchaser", card.PurchasedByUserID),
			zap.String("amount", card.Amount.String()),
			zap.String("currency", card.Currency))
		return card, nil
	}

	return nil, fmt.Errorf("no unique gift card code after %d attempts", s.business.CodeGenerationAttempts)
}

func (s *GiftCardService) newCard(in CreateGiftCardInput) (*model.GiftCard, error) {
	if strings.TrimSpace(in.PurchaserID) == "" {
		return nil, fmt.Errorf("%w: purchaser is required", ErrInvalidInput)
	}

	typ := in.Type
	if typ == "" {
		typ = model.GiftCardTypeDigital
	}
	if !model.ValidGiftCardType(typ) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, in.Type)
	}

	currency := money.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = s.business.DefaultCurrency
	}
	if !money.ValidCurrency(currency) {
		return nil, fmt.Errorf("%w: unknown currency %q", ErrInvalidInput, in.Currency)
	}

	if err := checkAmount(in.Amount, currency); err != nil {
		return nil, err
	}
	if maxAmount := s.business.MaxAmount(); maxAmount.IsPositive() && in.Amount.GreaterThan(maxAmount) {
		return nil, fmt.Errorf("%w: exceeds maximum %s", ErrInvalidAmount, maxAmount)
	}

	var expiresAt *time.Time
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(s.now()) {
			return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
		}
		utc := in.ExpiresAt.UTC()
		expiresAt = &utc
	}

	return &model.GiftCard{
		Type:              typ,
		Amount:            in.Amount,
		Balance:           in.Amount,
		Currency:          currency,
		Status:            model.GiftCardStatusActive,
		ExpiresAt:         expiresAt,
		PurchasedByUserID: in.PurchaserID,
		IssuedToEmail:     strings.TrimSpace(in.IssuedToEmail),
		IssuedToName:      strings.TrimSpace(in.IssuedToName),
		Message:           in.Message,
	}, nil
}

// ============================================================================
// Validate / Redeem / Refund
// ============================================================================

type ValidationResult struct {
	Valid     bool            `json:"valid"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	ExpiresAt *time.Time      `json:"expiresAt"`
}

// Validate checks that code can be redeemed right now. Expiry is evaluated
// lazily and never written back here.
func (s *GiftCardService) Validate(ctx context.Context, code string) (*ValidationResult, error) {
	card, err := s.getByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := checkRedeemable(card, s.now()); err != nil {
		return nil, err
	}
	return &ValidationResult{
		Valid:     true,
		Balance:   card.Balance,
		Currency:  card.Currency,
		ExpiresAt: card.ExpiresAt,
	}, nil
}

// Redeem debits amount from the card identified by code. Every redemption
// is recorded in the ledger, with or without an order reference.
func (s *GiftCardService) Redeem(ctx context.Context, actorID, code string, amount decimal.Decimal, orderID *string) (*model.GiftCard, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	card, err := s.getByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	var trans *model.GiftCardTransaction
	card, err = s.mutate(ctx, card.ID, func(tx *gorm.DB, card *model.GiftCard) error {
		var err error
		trans, err = s.ledger.ApplyRedemption(ctx, tx, card, amount, normalizeRef(orderID), actorID)
		if err != nil {
			return err
		}
		return s.events.Write(ctx, tx, s.topic, EventGiftCardRedeemed, fmt.Sprint(card.ID), giftCardEvent(card, trans))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("gift card redeemed",
		zap.Int64("gift_card_id", card.ID),
		zap.String("transaction_no", trans.TransactionNo),
		zap.String("amount", amount.String()),
		zap.String("balance", card.Balance.String()),
		zap.String("actor", actorID))
	return card, nil
}

// Refund credits amount back to the card, bounded by the issued amount.
func (s *GiftCardService) Refund(ctx context.Context, giftCardID int64, orderID string, amount decimal.Decimal, actorID string) (*model.GiftCard, error) {
	var trans *model.GiftCardTransaction
	card, err := s.mutate(ctx, giftCardID, func(tx *gorm.DB, card *model.GiftCard) error {
		var err error
		trans, err = s.ledger.ApplyRefund(ctx, tx, card, amount, normalizeRef(&orderID), actorID)
		if err != nil {
			return err
		}
		return s.events.Write(ctx, tx, s.topic, EventGiftCardRefunded, fmt.Sprint(card.ID), giftCardEvent(card, trans))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("gift card refunded",
		zap.Int64("gift_card_id", card.ID),
		zap.String("transaction_no", trans.TransactionNo),
		zap.String("amount", amount.String()),
		zap.String("balance", card.Balance.String()),
		zap.String("order_id", orderID))
	return card, nil
}

// Disable takes the card out of circulation. Disabled cards can no longer
// be redeemed or refunded.
func (s *GiftCardService) Disable(ctx context.Context, giftCardID int64) (*model.GiftCard, error) {
	card, err := s.mutate(ctx, giftCardID, func(tx *gorm.DB, card *model.GiftCard) error {
		if card.Status == model.GiftCardStatusDisabled {
			return nil
		}
		if err := s.cards.UpdateStatus(ctx, tx, card.ID, card.Status, model.GiftCardStatusDisabled); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return ErrConcurrentModification
			}
			return err
		}
		card.Status = model.GiftCardStatusDisabled
		card.Version++
		return s.events.Write(ctx, tx, s.topic, EventGiftCardDisabled, fmt.Sprint(card.ID), giftCardEvent(card, nil))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("gift card disabled", zap.Int64("gift_card_id", card.ID))
	return card, nil
}

// mutate runs fn on a freshly locked copy of the card inside one DB
// transaction, holding the per-card lock for the whole duration.
func (s *GiftCardService) mutate(ctx context.Context, giftCardID int64, fn func(tx *gorm.DB, card *model.GiftCard) error) (*model.GiftCard, error) {
	release, err := s.locker.Acquire(ctx, lock.GiftCardKey(giftCardID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	defer release()

	var card *model.GiftCard
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		card, err = s.cards.GetByIDForUpdate(ctx, tx, giftCardID)
		if err != nil {
			return notFound(err, "gift card")
		}
		return fn(tx, card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ============================================================================
// Queries
// ============================================================================

func (s *GiftCardService) Get(ctx context.Context, giftCardID int64) (*model.GiftCard, error) {
	card, err := s.cards.GetByID(ctx, nil, giftCardID)
	if err != nil {
		return nil, notFound(err, "gift card")
	}
	return card, nil
}

// ListForUser returns cards the user bought or redeemed, newest first.
func (s *GiftCardService) ListForUser(ctx context.Context, userID string) ([]*model.GiftCard, error) {
	cards, err := s.cards.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list gift cards: %w", err)
	}
	return cards, nil
}

// ListTransactions returns the ledger of a card. Only the purchaser, anyone
// who redeemed from it, or a role allowed to read any card may see it.
func (s *GiftCardService) ListTransactions(ctx context.Context, giftCardID int64, actor Actor) ([]*model.GiftCardTransaction, error) {
	card, err := s.Get(ctx, giftCardID)
	if err != nil {
		return nil, err
	}
	if !card.OwnedBy(actor.UserID) && !actor.Role.Can(model.CapGiftCardReadAny) {
		if actor.UserID == "" {
			return nil, ErrForbidden
		}
		redeemed, err := s.transactions.HasRedemptionBy(ctx, giftCardID, actor.UserID)
		if err != nil {
			return nil, fmt.Errorf("check redemption: %w", err)
		}
		if !redeemed {
			return nil, ErrForbidden
		}
	}

	transactions, err := s.transactions.ListByGiftCard(ctx, giftCardID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, nil
}

// ============================================================================
// Expiry sweep
// ============================================================================

// ExpireDue moves active cards whose expiry passed to expired and reports
// how many were changed. Cards touched concurrently are skipped and picked
// up by the next sweep.
func (s *GiftCardService) ExpireDue(ctx context.Context, limit int) (int, error) {
	cards, err := s.cards.GetExpiredActive(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("query expired gift cards: %w", err)
	}

	expired := 0
	for _, card := range cards {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.cards.UpdateStatus(ctx, tx, card.ID, model.GiftCardStatusActive, model.GiftCardStatusExpired); err != nil {
				return err
			}
			card.Status = model.GiftCardStatusExpired
			return s.events.Write(ctx, tx, s.topic, EventGiftCardExpired, fmt.Sprint(card.ID), giftCardEvent(card, nil))
		})
		if err != nil {
			if !errors.Is(err, repository.ErrStatusConflict) {
				s.logger.Error("expire gift card failed", zap.Int64("gift_card_id", card.ID), zap.Error(err))
			}
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *GiftCardService) getByCode(ctx context.Context, code string) (*model.GiftCard, error) {
	normalized, err := codegen.Normalize(code)
	if err != nil {
		// A malformed code cannot exist.
		return nil, fmt.Errorf("%w: gift card", ErrNotFound)
	}
	card, err := s.cards.GetByCode(ctx, nil, normalized)
	if err != nil {
		return nil, notFound(err, "gift card")
	}
	return card, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func normalizeRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	v := strings.TrimSpace(*ref)
	if v == "" {
		return nil
	}
	return &v
}
