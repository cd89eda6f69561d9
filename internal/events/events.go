package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dhastore/backend/internal/domain"
)

// Publisher delivers ledger and catalog change notifications. Delivery is
// best-effort; implementations log failures instead of returning them.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, domain.Event) {}
func (Noop) Close() error { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("event delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
				}
			},
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) {
	msg, err := encode(event)
	if err != nil {
		p.logger.Warn("event not encoded", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("event not queued", zap.String("type", event.Type), zap.Error(err))
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(event domain.Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", event.Type, err)
	}
	return kafka.Message{
		Key:   []byte(event.Type),
		Value: data,
		Time:  event.OccurredAt,
	}, nil
}
