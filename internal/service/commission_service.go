package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"giftledger/internal/config"
	"giftledger/internal/model"
	"giftledger/internal/repository"
	"giftledger/pkg/idgen"
	"giftledger/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type CommissionService struct {
	db          *gorm.DB
	commissions *repository.CommissionRepository
	rates       *repository.RateRepository
	orders      *repository.OrderSnapshotRepository
	events      *EventWriter
	topic       string
	logger      *zap.Logger
	now         func() time.Time
}

func NewCommissionService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *CommissionService {
	return &CommissionService{
		db:          db,
		commissions: repository.NewCommissionRepository(db),
		rates:       repository.NewRateRepository(db),
		orders:      repository.NewOrderSnapshotRepository(db),
		events:      NewEventWriter(db),
		topic:       cfg.Kafka.Topic.CommissionEvents,
		logger:      logger.Named("commission"),
		now:         time.Now,
	}
}

// ============================================================================
// Rate resolution
// ============================================================================
//
// Highest priority first:
//   1. an active campaign for (influencer, category) covering the order time
//   2. the active rate of the category
//   3. the influencer's base rate
//
// ============================================================================

type RateResolution struct {
	Rate       decimal.Decimal
	Source     string
	CampaignID *int64
}

func (s *CommissionService) ResolveRate(ctx context.Context, tx *gorm.DB, inf *model.Influencer, category string, at time.Time) (RateResolution, error) {
	campaign, err := s.rates.FindActiveCampaign(ctx, tx, inf.ID, category, at)
	if err != nil {
		return RateResolution{}, fmt.Errorf("find campaign: %w", err)
	}
	if campaign != nil {
		id := campaign.ID
		return RateResolution{Rate: campaign.Rate, Source: model.RateSourceCampaign, CampaignID: &id}, nil
	}

	categoryRate, err := s.rates.GetCategoryRate(ctx, tx, category)
	if err != nil {
		return RateResolution{}, fmt.Errorf("find category rate: %w", err)
	}
	if categoryRate != nil {
		return RateResolution{Rate: categoryRate.Rate, Source: model.RateSourceCategory}, nil
	}

	return RateResolution{Rate: inf.BaseRate, Source: model.RateSourceBase}, nil
}

// ============================================================================
// Accrual
// ============================================================================

// Accrue records the commission of a completed, referred order. It is
// idempotent: an existing record for the order is returned unchanged.
func (s *CommissionService) Accrue(ctx context.Context, orderID string) (*model.CommissionRecord, error) {
	snap, err := s.orders.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, notFound(err, "order "+orderID)
	}
	if !snap.EligibleForCommission() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotEligible, orderID, describeOrder(snap))
	}
	influencerID := *snap.InfluencerID

	existing, err := s.commissions.GetByOrderAndInfluencer(ctx, nil, orderID, influencerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load commission: %w", err)
	}

	inf, err := s.rates.GetInfluencer(ctx, nil, influencerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown influencer %d", ErrOrderNotEligible, influencerID)
		}
		return nil, fmt.Errorf("load influencer: %w", err)
	}
	if inf.Status != model.InfluencerStatusActive {
		return nil, fmt.Errorf("%w: influencer %d is %s", ErrOrderNotEligible, influencerID, inf.Status)
	}

	at := s.now()
	if snap.CompletedAt != nil {
		at = *snap.CompletedAt
	}
	res, err := s.ResolveRate(ctx, nil, inf, snap.Category, at)
	if err != nil {
		return nil, err
	}
	if !model.ValidRate(res.Rate) {
		return nil, fmt.Errorf("%w: %s rate %s outside [0,1]", ErrInvalidInput, res.Source, res.Rate)
	}

	record := &model.CommissionRecord{
		ID:               idgen.NextID(),
		OrderID:          orderID,
		InfluencerID:     influencerID,
		OrderTotal:       snap.Total,
		RateSource:       res.Source,
		RateApplied:      res.Rate,
		CampaignID:       res.CampaignID,
		CommissionAmount: CommissionAmount(snap.Total, res.Rate, snap.Currency),
		Currency:         snap.Currency,
		Status:           model.CommissionStatusPending,
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = s.commissions.CreateIfAbsent(ctx, tx, record)
		if err != nil || !created {
			return err
		}
		return s.events.Write(ctx, tx, s.topic, EventCommissionAccrued, orderID, commissionEvent(record, ""))
	})
	if err != nil {
		return nil, fmt.Errorf("create commission: %w", err)
	}
	if !created {
		return s.commissions.GetByOrderAndInfluencer(ctx, nil, orderID, influencerID)
	}

	s.logger.Info("commission accrued",
		zap.String("order_id", orderID),
		zap.Int64("influencer_id", influencerID),
		zap.String("rate_source", record.RateSource),
		zap.String("rate", record.RateApplied.String()),
		zap.String("amount", record.CommissionAmount.String()))
	return record, nil
}

// CommissionAmount is round(total * rate) at the currency precision.
func CommissionAmount(total, rate decimal.Decimal, currency string) decimal.Decimal {
	return money.Round(total.Mul(rate), currency)
}

func describeOrder(snap *model.OrderSnapshot) string {
	if !snap.Referred() {
		return "not referred"
	}
	return strings.ToLower(snap.Status)
}

// ============================================================================
// Order events
// ============================================================================

// OrderEvent is the payload the order service publishes on order changes.
type OrderEvent struct {
	OrderID      string          `json:"orderId"`
	UserID       string          `json:"userId"`
	InfluencerID *int64          `json:"influencerId,omitempty,string"`
	Category     string          `json:"category"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// UnmarshalJSON accepts influencerId both as a JSON number and as a numeric
// string.
func (e *OrderEvent) UnmarshalJSON(data []byte) error {
	type plain OrderEvent
	aux := struct {
		*plain
		InfluencerID json.RawMessage `json:"influencerId"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	e.InfluencerID = nil
	raw := strings.Trim(string(aux.InfluencerID), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("influencerId %s: %w", aux.InfluencerID, err)
	}
	e.InfluencerID = &id
	return nil
}

// HandleOrderEvent refreshes the order snapshot and accrues commission when
// the order is completed and referred. It returns the commission record, or
// nil when the order does not earn one.
func (s *CommissionService) HandleOrderEvent(ctx context.Context, evt OrderEvent) (*model.CommissionRecord, error) {
	if evt.OrderID == "" || evt.UserID == "" || evt.Status == "" {
		return nil, fmt.Errorf("%w: order event missing orderId, userId or status", ErrInvalidInput)
	}
	currency := money.NormalizeCurrency(evt.Currency)
	if !money.ValidCurrency(currency) {
		return nil, fmt.Errorf("%w: order %s currency %q", ErrInvalidInput, evt.OrderID, evt.Currency)
	}
	if evt.Total.IsNegative() {
		return nil, fmt.Errorf("%w: order %s total %s", ErrInvalidAmount, evt.OrderID, evt.Total)
	}

	snap := &model.OrderSnapshot{
		ID:           idgen.NextID(),
		OrderID:      evt.OrderID,
		UserID:       evt.UserID,
		InfluencerID: evt.InfluencerID,
		Category:     evt.Category,
		Total:        evt.Total,
		Currency:     currency,
		Status:       strings.ToUpper(evt.Status),
	}
	if evt.CompletedAt != nil {
		completed := evt.CompletedAt.UTC()
		snap.CompletedAt = &completed
	} else if snap.Status == model.OrderStatusCompleted {
		completed := s.now().UTC()
		snap.CompletedAt = &completed
	}

	if err := s.orders.Upsert(ctx, nil, snap); err != nil {
		return nil, fmt.Errorf("upsert order snapshot: %w", err)
	}
	if !snap.EligibleForCommission() {
		return nil, nil
	}
	return s.Accrue(ctx, evt.OrderID)
}

// AccrueMissing accrues commission for referred orders completed before the
// given time that have no record yet. It returns how many were accrued.
func (s *CommissionService) AccrueMissing(ctx context.Context, before time.Time, limit int) (int, error) {
	snaps, err := s.orders.GetUnaccruedCompleted(ctx, before, limit)
	if err != nil {
		return 0, fmt.Errorf("query unaccrued orders: %w", err)
	}

	accrued := 0
	for _, snap := range snaps {
		if _, err := s.Accrue(ctx, snap.OrderID); err != nil {
			s.logger.Warn("compensating accrual failed", zap.String("order_id", snap.OrderID), zap.Error(err))
			continue
		}
		accrued++
	}
	return accrued, nil
}

// ============================================================================
// Approval workflow
// ============================================================================

func (s *CommissionService) Approve(ctx context.Context, id int64) (*model.CommissionRecord, error) {
	return s.transition(ctx, id, model.CommissionStatusApproved, "")
}

func (s *CommissionService) MarkPaid(ctx context.Context, id int64) (*model.CommissionRecord, error) {
	return s.transition(ctx, id, model.CommissionStatusPaid, "")
}

func (s *CommissionService) Cancel(ctx context.Context, id int64, notes string) (*model.CommissionRecord, error) {
	return s.transition(ctx, id, model.CommissionStatusCancelled, notes)
}

func (s *CommissionService) Adjust(ctx context.Context, id int64, notes string) (*model.CommissionRecord, error) {
	return s.transition(ctx, id, model.CommissionStatusAdjusted, notes)
}

// UpdateStatus moves the record to status through the matching workflow
// action.
func (s *CommissionService) UpdateStatus(ctx context.Context, id int64, status, notes string) (*model.CommissionRecord, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !model.ValidCommissionStatus(status) {
		return nil, fmt.Errorf("%w: unknown commission status %q", ErrInvalidInput, status)
	}
	switch status {
	case model.CommissionStatusApproved:
		return s.Approve(ctx, id)
	case model.CommissionStatusPaid:
		return s.MarkPaid(ctx, id)
	case model.CommissionStatusCancelled:
		return s.Cancel(ctx, id, notes)
	case model.CommissionStatusAdjusted:
		return s.Adjust(ctx, id, notes)
	default:
		return s.transition(ctx, id, status, notes)
	}
}

func (s *CommissionService) transition(ctx context.Context, id int64, to, notes string) (*model.CommissionRecord, error) {
	record, err := s.commissions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, "commission")
	}
	from := record.Status
	if !model.CanTransitionCommission(from, to) {
		return nil, &TransitionError{From: from, To: to}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.commissions.UpdateStatus(ctx, tx, id, from, to, notes, s.now()); err != nil {
			return err
		}
		updated, err := s.commissions.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		record = updated
		return s.events.Write(ctx, tx, s.topic, EventCommissionStatusChanged, record.OrderID, commissionEvent(record, from))
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, ErrConcurrentModification
	}
	if err != nil {
		return nil, fmt.Errorf("update commission status: %w", err)
	}

	s.logger.Info("commission status changed",
		zap.Int64("commission_id", id),
		zap.String("from", from),
		zap.String("to", to))
	return record, nil
}

// ============================================================================
// Queries
// ============================================================================

// Summarize totals an influencer's commissions per status.
// Total = pending + approved + paid; Available = approved.
func (s *CommissionService) Summarize(ctx context.Context, influencerID int64) (*model.CommissionSummary, error) {
	sums, err := s.commissions.SumByStatus(ctx, influencerID)
	if err != nil {
		return nil, fmt.Errorf("sum commissions: %w", err)
	}

	summary := &model.CommissionSummary{
		Pending:   sums[model.CommissionStatusPending],
		Approved:  sums[model.CommissionStatusApproved],
		Paid:      sums[model.CommissionStatusPaid],
		Cancelled: sums[model.CommissionStatusCancelled],
		Adjusted:  sums[model.CommissionStatusAdjusted],
	}
	summary.Total = summary.Pending.Add(summary.Approved).Add(summary.Paid)
	summary.Available = summary.Approved
	return summary, nil
}

type MyCommissions struct {
	Records []*model.CommissionRecord `json:"records"`
	Summary *model.CommissionSummary  `json:"summary"`
}

// ListMine returns the records and summary of the influencer owned by
// userID. An empty status lists all statuses.
func (s *CommissionService) ListMine(ctx context.Context, userID, status string, limit int) (*MyCommissions, error) {
	inf, err := s.rates.GetInfluencerByUserID(ctx, userID)
	if err != nil {
		return nil, notFound(err, "influencer")
	}

	status = strings.ToUpper(strings.TrimSpace(status))
	if status != "" && !model.ValidCommissionStatus(status) {
		return nil, fmt.Errorf("%w: unknown commission status %q", ErrInvalidInput, status)
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	records, err := s.commissions.ListByInfluencer(ctx, inf.ID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	summary, err := s.Summarize(ctx, inf.ID)
	if err != nil {
		return nil, err
	}
	return &MyCommissions{Records: records, Summary: summary}, nil
}

// ============================================================================
// Rate administration
// ============================================================================

type InfluencerInput struct {
	UserID   string
	BaseRate decimal.Decimal
	Status   string
}

// SaveInfluencer registers the user as an influencer or updates the base
// rate and status of an existing one.
func (s *CommissionService) SaveInfluencer(ctx context.Context, in InfluencerInput) (*model.Influencer, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if !model.ValidRate(in.BaseRate) {
		return nil, fmt.Errorf("%w: base rate %s outside [0,1]", ErrInvalidInput, in.BaseRate)
	}
	status := in.Status
	if status == "" {
		status = model.InfluencerStatusActive
	}
	if status != model.InfluencerStatusActive && status != model.InfluencerStatusSuspended {
		return nil, fmt.Errorf("%w: unknown influencer status %q", ErrInvalidInput, in.Status)
	}

	inf := &model.Influencer{
		ID:       idgen.NextID(),
		UserID:   userID,
		BaseRate: in.BaseRate,
		Status:   status,
	}
	if err := s.rates.SaveInfluencer(ctx, inf); err != nil {
		return nil, fmt.Errorf("save influencer: %w", err)
	}
	return s.rates.GetInfluencerByUserID(ctx, userID)
}

// SetCategoryRate creates or replaces the platform rate of a category.
func (s *CommissionService) SetCategoryRate(ctx context.Context, category string, rate decimal.Decimal, active bool) (*model.CategoryCommissionRate, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if !model.ValidRate(rate) {
		return nil, fmt.Errorf("%w: rate %s outside [0,1]", ErrInvalidInput, rate)
	}

	row := &model.CategoryCommissionRate{
		ID:       idgen.NextID(),
		Category: category,
		Rate:     rate,
		Active:   active,
	}
	if err := s.rates.SaveCategoryRate(ctx, row); err != nil {
		return nil, fmt.Errorf("save category rate: %w", err)
	}
	return s.rates.GetCategoryRateByCategory(ctx, category)
}

type CampaignInput struct {
	InfluencerID int64
	Category     string
	Rate         decimal.Decimal
	StartsAt     time.Time
	EndsAt       *time.Time
}

func (s *CommissionService) CreateCampaign(ctx context.Context, in CampaignInput) (*model.CommissionCampaign, error) {
	if strings.TrimSpace(in.Category) == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if !model.ValidRate(in.Rate) {
		return nil, fmt.Errorf("%w: rate %s outside [0,1]", ErrInvalidInput, in.Rate)
	}
	if in.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: startsAt is required", ErrInvalidInput)
	}
	if in.EndsAt != nil && !in.EndsAt.After(in.StartsAt) {
		return nil, fmt.Errorf("%w: endsAt must be after startsAt", ErrInvalidInput)
	}
	if _, err := s.rates.GetInfluencer(ctx, nil, in.InfluencerID); err != nil {
		return nil, notFound(err, "influencer")
	}

	campaign := &model.CommissionCampaign{
		ID:           idgen.NextID(),
		InfluencerID: in.InfluencerID,
		Category:     strings.TrimSpace(in.Category),
		Rate:         in.Rate,
		StartsAt:     in.StartsAt.UTC(),
		Active:       true,
	}
	if in.EndsAt != nil {
		ends := in.EndsAt.UTC()
		campaign.EndsAt = &ends
	}
	if err := s.rates.CreateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.logger.Info("commission campaign created",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int64("influencer_id", campaign.InfluencerID),
		zap.String("category", campaign.Category),
		zap.String("rate", campaign.Rate.String()))
	return campaign, nil
}
