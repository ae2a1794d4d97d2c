package service

import (
	"context"
	"testing"
	"time"

	"giftledger/internal/infrastructure/lock"
	"giftledger/internal/model"
	"giftledger/internal/repository"
	"giftledger/internal/testutil"
	"giftledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db          *gorm.DB
	giftCards   *GiftCardService
	commissions *CommissionService
	rates       *repository.RateRepository
	orders      *repository.OrderSnapshotRepository
	outbox      *repository.OutboxRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	cfg := testutil.NewTestConfig()
	return &fixture{
		db:          db,
		giftCards:   NewGiftCardService(db, lock.NewLocalLocker(), cfg, zap.NewNop()),
		commissions: NewCommissionService(db, cfg, zap.NewNop()),
		rates:       repository.NewRateRepository(db),
		orders:      repository.NewOrderSnapshotRepository(db),
		outbox:      repository.NewOutboxRepository(db),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string {
	return &s
}

func (f *fixture) issue(t *testing.T, purchaser, amount, currency string) *model.GiftCard {
	t.Helper()
	card, err := f.giftCards.Create(context.Background(), CreateGiftCardInput{
		PurchaserID: purchaser,
		Type:        model.GiftCardTypeDigital,
		Amount:      dec(amount),
		Currency:    currency,
	})
	require.NoError(t, err)
	return card
}

func (f *fixture) reload(t *testing.T, id int64) *model.GiftCard {
	t.Helper()
	card, err := f.giftCards.Get(context.Background(), id)
	require.NoError(t, err)
	return card
}

func (f *fixture) influencer(t *testing.T, userID, baseRate string) *model.Influencer {
	t.Helper()
	inf := &model.Influencer{
		ID:       idgen.NextID(),
		UserID:   userID,
		BaseRate: dec(baseRate),
		Status:   model.InfluencerStatusActive,
	}
	require.NoError(t, f.rates.SaveInfluencer(context.Background(), inf))
	return inf
}

func (f *fixture) completedOrder(t *testing.T, orderID string, influencerID *int64, category, total, currency string) *model.OrderSnapshot {
	t.Helper()
	completed := time.Now().UTC().Add(-time.Hour)
	snap := &model.OrderSnapshot{
		ID:           idgen.NextID(),
		OrderID:      orderID,
		UserID:       "buyer-" + orderID,
		InfluencerID: influencerID,
		Category:     category,
		Total:        dec(total),
		Currency:     currency,
		Status:       model.OrderStatusCompleted,
		CompletedAt:  &completed,
	}
	require.NoError(t, f.orders.Upsert(context.Background(), nil, snap))
	return snap
}
