package job

import (
	"context"
	"encoding/json"
	"fmt"

	"giftledger/internal/infrastructure/mq"
	"giftledger/internal/model"
	"giftledger/internal/service"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type OrderEventHandler interface {
	HandleOrderEvent(ctx context.Context, evt service.OrderEvent) (*model.CommissionRecord, error)
}

// orderEnvelope accepts both the bare order payload and the
// {eventId, eventType, data} envelope the platform services publish.
type orderEnvelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// NewOrderMessageHandler decodes order events and feeds them to the
// commission service. Malformed or invalid events are dropped; anything else
// that fails is redelivered.
func NewOrderMessageHandler(handler OrderEventHandler, logger *zap.Logger) mq.MessageHandler {
	logger = logger.With(zap.String("job", "order_consumer"))

	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		evt, eventID, err := decodeOrderEvent(msg.Value)
		if err != nil {
			return err
		}

		rec, err := handler.HandleOrderEvent(ctx, evt)
		if err != nil {
			if service.IsClientError(err) {
				return fmt.Errorf("order event %s rejected: %w", evt.OrderID, err)
			}
			return fmt.Errorf("order event %s: %v: %w", evt.OrderID, err, mq.ErrRetry)
		}

		fields := []zap.Field{
			zap.String("event_id", eventID),
			zap.String("order_id", evt.OrderID),
			zap.String("status", evt.Status),
		}
		if rec != nil {
			fields = append(fields, zap.Int64("commission_id", rec.ID))
		}
		logger.Info("order event handled", fields...)
		return nil
	}
}

func decodeOrderEvent(value []byte) (service.OrderEvent, string, error) {
	var env orderEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return service.OrderEvent{}, "", fmt.Errorf("decode order event: %w", err)
	}

	payload := value
	if len(env.Data) > 0 && string(env.Data) != "null" {
		payload = env.Data
	}

	var evt service.OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return service.OrderEvent{}, "", fmt.Errorf("decode order event: %w", err)
	}
	return evt, env.EventID, nil
}
