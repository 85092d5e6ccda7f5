// Package messaging hands alert records to the notification subsystem.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("messaging")

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alerts as JSON, keyed by entity so one entity's
// alerts stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter creates a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, a *domain.AlertRecord) error {
	ctx, span := tracer.Start(ctx, "KafkaPublisher.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.id", a.ID),
		attribute.String("alert.priority", string(a.Priority)),
	)

	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(a.EntityID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "priority", Value: []byte(a.Priority)},
			{Key: "alert-id", Value: []byte(a.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return &domain.ErrExternalService{Service: "kafka", Err: err}
	}
	p.logger.Debug("alert published",
		zap.String("alert_id", a.ID),
		zap.String("priority", string(a.Priority)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes alerts to the log. It is used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, a *domain.AlertRecord) error {
	p.logger.Info("alert",
		zap.String("alert_id", a.ID),
		zap.String("entity_id", a.EntityID),
		zap.String("priority", string(a.Priority)),
		zap.String("title", a.Title),
		zap.String("body", a.Body),
		zap.String("parent_alert_id", a.ParentAlertID),
	)
	return nil
}
