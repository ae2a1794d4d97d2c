package mq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"giftledger/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// MessageHandler processes one consumed message. A returned error is logged
// and the offset is still committed unless the error is retryable.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// ErrRetry asks the consumer to leave the offset uncommitted so the message
// is redelivered after a rebalance or restart.
var ErrRetry = errors.New("retry message")

const defaultRetryBackoff = 5 * time.Second

// Consumer runs a consumer group over a fixed set of topics.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *zap.Logger

	// retryBackoff is the pause before rejoining the group after a message
	// asked to be redelivered.
	retryBackoff time.Duration
	retryPending atomic.Bool
}

func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return NewConsumerFromGroup(group, topics, handler, logger), nil
}

func NewConsumerFromGroup(group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		group:        group,
		topics:       topics,
		handler:      handler,
		logger:       logger.Named("consumer"),
		retryBackoff: defaultRetryBackoff,
	}
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance,
// so it is called in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %v: %w", c.topics, err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if c.retryPending.Swap(false) {
			c.logger.Warn("redelivery requested, backing off before rejoining", zap.Duration("backoff", c.retryBackoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryBackoff):
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

// ============================================================================
// sarama.ConsumerGroupHandler
// ============================================================================

func (c *Consumer) Setup(sess sarama.ConsumerGroupSession) error {
	c.logger.Info("consumer session started", zap.Any("claims", sess.Claims()))
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !c.handle(sess.Context(), msg) {
				return nil
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// handle reports whether the offset of msg may be committed.
func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	err := c.handler(ctx, msg)
	if err == nil {
		return true
	}

	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err),
	}
	if errors.Is(err, ErrRetry) {
		c.logger.Warn("message will be redelivered", fields...)
		c.retryPending.Store(true)
		return false
	}
	c.logger.Error("message dropped", fields...)
	return true
}
