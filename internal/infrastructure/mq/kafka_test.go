package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "42" || msg.Topic != "giftcard.events" {
			return errors.New("unexpected key or topic")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewPublisherFromProducer(producer)
	require.NoError(t, pub.Publish(context.Background(), "giftcard.events", "42", []byte(`{"eventType":"giftcard.issued"}`)))
	assert.ErrorIs(t, pub.Publish(context.Background(), "giftcard.events", "42", []byte(`{}`)), sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewPublisherFromProducer(producer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, "t", "k", nil), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(zap.NewNop())
	assert.NoError(t, pub.Publish(context.Background(), "t", "k", []byte("v")))
	assert.NoError(t, pub.Close())
}
