package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is a domain event written in the same DB transaction as the
// state change it describes. EventID is the idempotency key for consumers.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID    string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"eventId"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"eventType"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"messageKey"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retryCount"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
