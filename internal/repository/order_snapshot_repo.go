package repository

import (
	"context"
	"time"

	"giftledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderSnapshotRepository struct {
	db *gorm.DB
}

func NewOrderSnapshotRepository(db *gorm.DB) *OrderSnapshotRepository {
	return &OrderSnapshotRepository{db: db}
}

// Upsert inserts the snapshot or refreshes the mutable columns of an
// existing one with the same order_id.
func (r *OrderSnapshotRepository) Upsert(ctx context.Context, tx *gorm.DB, snap *model.OrderSnapshot) error {
	return conn(tx, r.db).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "influencer_id", "category", "total", "currency", "status", "completed_at", "updated_at",
			}),
		}).
		Create(snap).Error
}

func (r *OrderSnapshotRepository) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.OrderSnapshot, error) {
	var snap model.OrderSnapshot
	if err := conn(tx, r.db).WithContext(ctx).Where("order_id = ?", orderID).First(&snap).Error; err != nil {
		return nil, translate(err)
	}
	return &snap, nil
}

// GetUnaccruedCompleted returns orders completed before the given time,
// referred by an active influencer, that still have no commission record.
// Orders of unknown or suspended influencers are left out so they cannot
// hold the head of the queue.
func (r *OrderSnapshotRepository) GetUnaccruedCompleted(ctx context.Context, before time.Time, limit int) ([]*model.OrderSnapshot, error) {
	var snaps []*model.OrderSnapshot
	err := r.db.WithContext(ctx).
		Table("order_snapshot AS o").
		Select("o.*").
		Joins("JOIN influencer AS i ON i.id = o.influencer_id AND i.status = ?", model.InfluencerStatusActive).
		Joins("LEFT JOIN commission_record AS c ON c.order_id = o.order_id AND c.influencer_id = o.influencer_id").
		Where("o.status = ? AND o.influencer_id IS NOT NULL AND o.completed_at <= ? AND c.id IS NULL",
			model.OrderStatusCompleted, before.UTC()).
		Order("o.completed_at ASC").
		Limit(limit).
		Find(&snaps).Error
	return snaps, err
}
