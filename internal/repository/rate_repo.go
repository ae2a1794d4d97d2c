package repository

import (
	"context"
	"time"

	"giftledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateRepository reads the inputs of commission rate resolution:
// influencers, category rates and campaigns.
type RateRepository struct {
	db *gorm.DB
}

func NewRateRepository(db *gorm.DB) *RateRepository {
	return &RateRepository{db: db}
}

func (r *RateRepository) GetInfluencer(ctx context.Context, tx *gorm.DB, id int64) (*model.Influencer, error) {
	var inf model.Influencer
	if err := conn(tx, r.db).WithContext(ctx).Where("id = ?", id).First(&inf).Error; err != nil {
		return nil, translate(err)
	}
	return &inf, nil
}

func (r *RateRepository) GetInfluencerByUserID(ctx context.Context, userID string) (*model.Influencer, error) {
	var inf model.Influencer
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&inf).Error; err != nil {
		return nil, translate(err)
	}
	return &inf, nil
}

// FindActiveCampaign returns the campaign covering at for the influencer and
// category. When several overlap, the most recently started one wins.
// A nil result with nil error means no campaign applies.
func (r *RateRepository) FindActiveCampaign(ctx context.Context, tx *gorm.DB, influencerID int64, category string, at time.Time) (*model.CommissionCampaign, error) {
	var campaigns []*model.CommissionCampaign
	err := conn(tx, r.db).WithContext(ctx).
		Where("influencer_id = ? AND category = ? AND active = ?", influencerID, category, true).
		Order("starts_at DESC").
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}

	for _, c := range campaigns {
		if c.Covers(at) {
			return c, nil
		}
	}
	return nil, nil
}

// GetCategoryRate returns the active rate of a category, or nil when none.
func (r *RateRepository) GetCategoryRate(ctx context.Context, tx *gorm.DB, category string) (*model.CategoryCommissionRate, error) {
	var rate model.CategoryCommissionRate
	err := conn(tx, r.db).WithContext(ctx).
		Where("category = ? AND active = ?", category, true).
		First(&rate).Error
	if err != nil {
		if err = translate(err); err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

func (r *RateRepository) SaveInfluencer(ctx context.Context, inf *model.Influencer) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"base_rate", "status", "updated_at"}),
		}).
		Create(inf).Error
}

func (r *RateRepository) SaveCategoryRate(ctx context.Context, rate *model.CategoryCommissionRate) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "active", "updated_at"}),
		}).
		Create(rate).Error
}

func (r *RateRepository) CreateCampaign(ctx context.Context, campaign *model.CommissionCampaign) error {
	return r.db.WithContext(ctx).Create(campaign).Error
}

// GetCategoryRateByCategory returns the rate row of a category whether it is
// active or not.
func (r *RateRepository) GetCategoryRateByCategory(ctx context.Context, category string) (*model.CategoryCommissionRate, error) {
	var rate model.CategoryCommissionRate
	if err := r.db.WithContext(ctx).Where("category = ?", category).First(&rate).Error; err != nil {
		return nil, translate(err)
	}
	return &rate, nil
}
