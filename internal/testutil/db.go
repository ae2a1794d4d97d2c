package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"giftledger/internal/config"
	"giftledger/internal/infrastructure/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB creates an in-memory SQLite database with the full schema and
// closes it when the test finishes.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// NewTestConfig returns a configuration suitable for service tests.
func NewTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "giftledger-test", Env: "test", NodeID: 1},
		Kafka: config.KafkaConfig{
			ConsumerGroup: "giftledger-test",
			Topic: config.KafkaTopicConfig{
				GiftCardEvents:   "giftcard.events",
				CommissionEvents: "commission.events",
				OrderCompleted:   "order.completed",
			},
		},
		Auth: config.AuthConfig{Secret: "test-secret", Issuer: "house-of-spells"},
		Business: config.BusinessConfig{
			DefaultCurrency:        "GBP",
			MaxGiftCardAmount:      "1000.00",
			CodeGenerationAttempts: 5,
			RedeemRetries:          3,
			ExpirySweepInterval:    time.Minute,
			CompensateInterval:     time.Minute,
			CompensateDelay:        time.Minute,
			OutboxInterval:         time.Second,
			MaxRetryCount:          3,
			LockTTL:                time.Second,
		},
	}
}
