package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"nftwatch/internal/model"
)

// KafkaConfig holds the producer settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka publishes events asynchronously, keyed by collection so one
// collection's events stay ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(cfg KafkaConfig, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka publish failed", zap.Int("events", len(messages)), zap.Error(err))
			}
		},
	}
	return &Kafka{writer: writer}
}

func (k *Kafka) Publish(ctx context.Context, events []model.TransactionEvent) error {
	if len(events) == 0 {
		return nil
	}
	messages, err := encodeMessages(events, time.Now())
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, messages...)
}

func encodeMessages(events []model.TransactionEvent, at time.Time) ([]kafka.Message, error) {
	messages := make([]kafka.Message, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}
		messages[i] = kafka.Message{
			Key:   []byte(ev.Collection.String()),
			Value: data,
			Time:  at,
		}
	}
	return messages, nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
