package mq

import (
	"context"
	"fmt"

	"giftledger/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher delivers one message to a topic. Delivery is at least once;
// consumers deduplicate on the event id in the payload.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// KafkaPublisher publishes through a synchronous sarama producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func newSaramaConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true
	return kafkaConfig
}

func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisherFromProducer(producer), nil
}

// NewPublisherFromProducer wraps an existing producer, e.g. a mock.
func NewPublisherFromProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher stands in for Kafka when it is disabled: messages are only
// logged, so the outbox still drains in local setups.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("publisher")}
}

func (p *LogPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.logger.Info("event published",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", value))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
