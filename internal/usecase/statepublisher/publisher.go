package statepublisher

import (
	"context"
	"encoding/json"
	"fmt"

	bookv1 "github.com/muhammadchandra19/exchange/services/orderbook-collector/internal/domain/book/v1"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/config"
	"github.com/muhammadchandra19/exchange/services/orderbook-collector/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Publisher emits persisted book-state rows to a Kafka topic so downstream
// services can consume them without reading the page store. Messages are
// keyed by venue to keep per-venue ordering within a partition.
type Publisher struct {
	kafkaWriter *kafka.Writer
	logger      logger.Interface
}

// NewPublisher creates a Kafka publisher for book-state rows.
func NewPublisher(config config.StateKafkaConfig, log logger.Interface) *Publisher {
	kafkaWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers: config.Brokers,
		Topic:   config.Topic,
	})

	return &Publisher{
		kafkaWriter: kafkaWriter,
		logger:      log,
	}
}

// StoreRows publishes one message per row. This is the sink tee entry point.
func (p *Publisher) StoreRows(ctx context.Context, rows []bookv1.Row) error {
	if len(rows) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(rows))
	for _, row := range rows {
		value, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode book state row: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(row.Venue),
			Value: value,
		})
	}

	if err := p.kafkaWriter.WriteMessages(ctx, messages...); err != nil {
		p.logger.ErrorContext(ctx, err,
			logger.Field{Key: "rows", Value: len(rows)},
		)
		return fmt.Errorf("failed to publish book state rows: %w", err)
	}
	return nil
}

// Name identifies the tee in sink logs.
func (p *Publisher) Name() string { return "kafka" }

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.kafkaWriter.Close()
}
