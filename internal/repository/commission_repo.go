package repository

import (
	"context"
	"time"

	"giftledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// CreateIfAbsent inserts record unless one already exists for the same
// (order_id, influencer_id). It reports whether a row was inserted.
func (r *CommissionRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, record *model.CommissionRecord) (bool, error) {
	result := conn(tx, r.db).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "influencer_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *CommissionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.CommissionRecord, error) {
	var record model.CommissionRecord
	if err := conn(tx, r.db).WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

func (r *CommissionRepository) GetByOrderAndInfluencer(ctx context.Context, tx *gorm.DB, orderID string, influencerID int64) (*model.CommissionRecord, error) {
	var record model.CommissionRecord
	err := conn(tx, r.db).WithContext(ctx).
		Where("order_id = ? AND influencer_id = ?", orderID, influencerID).
		First(&record).Error
	if err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

// UpdateStatus is a single-row conditional update keyed by the expected
// current status. Illegal edges never reach the database.
func (r *CommissionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus, notes string, now time.Time) error {
	if !model.CanTransitionCommission(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	switch toStatus {
	case model.CommissionStatusApproved:
		updates["approved_at"] = now
	case model.CommissionStatusPaid:
		updates["paid_at"] = now
	}

	result := conn(tx, r.db).WithContext(ctx).
		Model(&model.CommissionRecord{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListByInfluencer returns the newest records first. An empty status lists
// every status; limit <= 0 means no limit.
func (r *CommissionRepository) ListByInfluencer(ctx context.Context, influencerID int64, status string, limit int) ([]*model.CommissionRecord, error) {
	var records []*model.CommissionRecord
	query := r.db.WithContext(ctx).Where("influencer_id = ?", influencerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at DESC").Order("id DESC").Find(&records).Error
	return records, err
}

// SumByStatus totals commission amounts per status for one influencer,
// adding in decimal on the Go side.
func (r *CommissionRepository) SumByStatus(ctx context.Context, influencerID int64) (map[string]decimal.Decimal, error) {
	var rows []struct {
		Status           string
		CommissionAmount decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&model.CommissionRecord{}).
		Select("status", "commission_amount").
		Where("influencer_id = ?", influencerID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal)
	for _, row := range rows {
		sums[row.Status] = sums[row.Status].Add(row.CommissionAmount)
	}
	return sums, nil
}
