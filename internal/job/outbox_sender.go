package job

import (
	"context"
	"time"

	"giftledger/internal/config"
	"giftledger/internal/infrastructure/mq"
	"giftledger/internal/model"
	"giftledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender relays pending outbox messages to the broker in id order.
// A message that keeps failing is marked FAILED after MaxRetryCount attempts
// and left for manual replay.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	maxRetry   int
	logger     *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, logger *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   cfg.Business.MaxRetryCount,
		logger:     logger.With(zap.String("job", "outbox_sender")),
		stopCh:     make(chan struct{}),
		interval:   cfg.Business.OutboxInterval,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("job started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, job exiting")
			return
		case <-s.stopCh:
			s.logger.Info("job stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("query pending messages failed", zap.Error(err))
		return
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	fields := []zap.Field{
		zap.Int64("id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.String("topic", msg.Topic),
		zap.String("key", msg.MessageKey),
	}

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error("mark message sent failed", append(fields, zap.Error(updateErr))...)
		} else {
			s.logger.Debug("message sent", fields...)
		}
		return
	}

	s.logger.Warn("send message failed", append(fields, zap.Int("retry_count", msg.RetryCount), zap.Error(err))...)

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("increment retry count failed", append(fields, zap.Error(err))...)
	}

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("mark message failed failed", append(fields, zap.Error(err))...)
		} else {
			s.logger.Error("message exceeded max retries, marked failed", fields...)
		}
	}
}
