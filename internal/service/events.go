package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"giftledger/internal/model"
	"giftledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	EventGiftCardIssued          = "giftcard.issued"
	EventGiftCardRedeemed        = "giftcard.redeemed"
	EventGiftCardRefunded        = "giftcard.refunded"
	EventGiftCardDisabled        = "giftcard.disabled"
	EventGiftCardExpired         = "giftcard.expired"
	EventCommissionAccrued       = "commission.accrued"
	EventCommissionStatusChanged = "commission.status_changed"
)

// Event is the envelope published for every outbox message.
type Event struct {
	EventID    string      `json:"eventId"`
	EventType  string      `json:"eventType"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

type GiftCardEvent struct {
	GiftCardID    string           `json:"giftCardId"`
	Code          string           `json:"code,omitempty"`
	Status        string           `json:"status"`
	Balance       decimal.Decimal  `json:"balance"`
	Currency      string           `json:"currency"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	TransactionNo string           `json:"transactionNo,omitempty"`
	OrderID       *string          `json:"orderId,omitempty"`
	UserID        string           `json:"userId,omitempty"`
}

type CommissionEvent struct {
	CommissionID     string          `json:"commissionId"`
	OrderID          string          `json:"orderId"`
	InfluencerID     string          `json:"influencerId"`
	FromStatus       string          `json:"fromStatus,omitempty"`
	Status           string          `json:"status"`
	RateSource       string          `json:"rateSource"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	Currency         string          `json:"currency"`
}

// EventWriter stages domain events in the outbox inside the caller's
// transaction. job.OutboxSender relays them to Kafka after commit.
type EventWriter struct {
	outboxRepo *repository.OutboxRepository
	now        func() time.Time
}

func NewEventWriter(db *gorm.DB) *EventWriter {
	return &EventWriter{
		outboxRepo: repository.NewOutboxRepository(db),
		now:        time.Now,
	}
}

func (w *EventWriter) Write(ctx context.Context, tx *gorm.DB, topic, eventType, key string, data interface{}) error {
	evt := Event{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: w.now().UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := &model.OutboxMessage{
		EventID:    evt.EventID,
		EventType:  eventType,
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write outbox message: %w", err)
	}
	return nil
}

func giftCardEvent(card *model.GiftCard, trans *model.GiftCardTransaction) GiftCardEvent {
	evt := GiftCardEvent{
		GiftCardID: fmt.Sprint(card.ID),
		Status:     card.Status,
		Balance:    card.Balance,
		Currency:   card.Currency,
	}
	if trans != nil {
		amount := trans.Amount
		evt.Amount = &amount
		evt.TransactionNo = trans.TransactionNo
		evt.OrderID = trans.OrderID
		if trans.UserID != nil {
			evt.UserID = *trans.UserID
		}
	}
	return evt
}

func commissionEvent(rec *model.CommissionRecord, fromStatus string) CommissionEvent {
	return CommissionEvent{
		CommissionID:     fmt.Sprint(rec.ID),
		OrderID:          rec.OrderID,
		InfluencerID:     fmt.Sprint(rec.InfluencerID),
		FromStatus:       fromStatus,
		Status:           rec.Status,
		RateSource:       rec.RateSource,
		CommissionAmount: rec.CommissionAmount,
		Currency:         rec.Currency,
	}
}
