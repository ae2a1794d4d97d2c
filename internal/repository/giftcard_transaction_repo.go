package repository

import (
	"context"

	"giftledger/internal/model"

	"gorm.io/gorm"
)

// GiftCardTransactionRepository is append only: there is no update or delete.
type GiftCardTransactionRepository struct {
	db *gorm.DB
}

func NewGiftCardTransactionRepository(db *gorm.DB) *GiftCardTransactionRepository {
	return &GiftCardTransactionRepository{db: db}
}

func (r *GiftCardTransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.GiftCardTransaction) error {
	return translate(conn(tx, r.db).WithContext(ctx).Create(trans).Error)
}

// HasRedemptionBy reports whether userID ever redeemed from the card.
func (r *GiftCardTransactionRepository) HasRedemptionBy(ctx context.Context, giftCardID int64, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.GiftCardTransaction{}).
		Where("gift_card_id = ? AND user_id = ? AND type = ?", giftCardID, userID, model.TransactionTypeRedeemed).
		Count(&count).Error
	return count > 0, err
}

func (r *GiftCardTransactionRepository) ListByGiftCard(ctx context.Context, giftCardID int64) ([]*model.GiftCardTransaction, error) {
	var transactions []*model.GiftCardTransaction
	err := r.db.WithContext(ctx).
		Where("gift_card_id = ?", giftCardID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&transactions).Error
	return transactions, err
}
