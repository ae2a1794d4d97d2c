package repository

import (
	"context"
	"time"

	"giftledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GiftCardRepository struct {
	db *gorm.DB
}

func NewGiftCardRepository(db *gorm.DB) *GiftCardRepository {
	return &GiftCardRepository{db: db}
}

func (r *GiftCardRepository) Create(ctx context.Context, tx *gorm.DB, card *model.GiftCard) error {
	return translate(conn(tx, r.db).WithContext(ctx).Create(card).Error)
}

func (r *GiftCardRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCard, error) {
	var card model.GiftCard
	if err := conn(tx, r.db).WithContext(ctx).Where("id = ?", id).First(&card).Error; err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

// GetByIDForUpdate reads the latest committed row under a row lock. On sqlite
// the locking clause is dropped by the driver.
func (r *GiftCardRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCard, error) {
	var card model.GiftCard
	err := conn(tx, r.db).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&card).Error
	if err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

func (r *GiftCardRepository) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*model.GiftCard, error) {
	var card model.GiftCard
	if err := conn(tx, r.db).WithContext(ctx).Where("code = ?", code).First(&card).Error; err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

func (r *GiftCardRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.GiftCard{}).Where("code = ?", code).Count(&count).Error
	return count > 0, err
}

// BalanceUpdate is the new state written by a ledger mutation.
type BalanceUpdate struct {
	Balance          decimal.Decimal
	Status           string
	RedeemedByUserID *string
	RedeemedAt       *time.Time
}

// CompareAndSwapBalance writes upd only if the row still carries
// expectedVersion. Zero rows affected means another writer got there first
// and is reported as ErrVersionConflict; the caller reloads and re-evaluates.
func (r *GiftCardRepository) CompareAndSwapBalance(ctx context.Context, tx *gorm.DB, id int64, expectedVersion int, upd BalanceUpdate) error {
	updates := map[string]interface{}{
		"balance": upd.Balance,
		"status":  upd.Status,
		"version": gorm.Expr("version + 1"),
	}
	if upd.RedeemedByUserID != nil {
		updates["redeemed_by_user_id"] = *upd.RedeemedByUserID
	}
	if upd.RedeemedAt != nil {
		updates["redeemed_at"] = *upd.RedeemedAt
	}

	result := conn(tx, r.db).WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateStatus moves a card from fromStatus to toStatus. The version is
// bumped so an in-flight balance CAS on the same card fails and reloads.
func (r *GiftCardRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	result := conn(tx, r.db).WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(map[string]interface{}{
			"status":  toStatus,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListForUser returns cards the user bought or redeemed from at any point,
// newest first.
func (r *GiftCardRepository) ListForUser(ctx context.Context, userID string) ([]*model.GiftCard, error) {
	redeemed := r.db.Model(&model.GiftCardTransaction{}).
		Select("gift_card_id").
		Where("user_id = ? AND type = ?", userID, model.TransactionTypeRedeemed)

	var cards []*model.GiftCard
	err := r.db.WithContext(ctx).
		Where("purchased_by_user_id = ? OR redeemed_by_user_id = ? OR id IN (?)", userID, userID, redeemed).
		Order("created_at DESC").
		Order("id DESC").
		Find(&cards).Error
	return cards, err
}

// GetExpiredActive returns active cards whose expiry passed at now.
func (r *GiftCardRepository) GetExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.GiftCard, error) {
	var cards []*model.GiftCard
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.GiftCardStatusActive, now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&cards).Error
	return cards, err
}
