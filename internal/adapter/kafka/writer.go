// Package kafka publishes stored forecast rows to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/config"
	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces forecast rows to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured forecast topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes all rows in a single WriteMessages call.
// Rows for the same spot and hour share a key, so they land on one partition.
func (w *Writer) Publish(ctx context.Context, rows []domain.ForecastRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := serializeToMessage(rows[i])
		if err != nil {
			return 0, err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish forecast rows: %w", err)
	}
	w.logger.Debug("published forecast rows", "topic", w.writer.Topic, "count", len(msgs))
	return len(msgs), nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey identifies a row by spot and forecast hour.
func MessageKey(row domain.ForecastRow) string {
	return row.SpotID + "|" + row.ValidTime.UTC().Format(time.RFC3339)
}

// serializeToMessage marshals a ForecastRow into a Kafka message.
func serializeToMessage(row domain.ForecastRow) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(row)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_time", Value: []byte(row.RunTime.UTC().Format(time.RFC3339))},
			{Key: "spot_id", Value: []byte(row.SpotID)},
		},
	}, nil
}
