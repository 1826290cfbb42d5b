package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarek-aziz/fieldops/libs/kafkax"
)

// Invalidator drops a company's cached scheduling settings.
type Invalidator interface {
	Invalidate(ctx context.Context, companyID string) error
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

// Consumer listens for settings-updated events and invalidates the local
// settings cache. Invalidation is idempotent, so redelivery needs no inbox
// deduplication.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
	cache  Invalidator
}

func New(logger *slog.Logger, cache Invalidator, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, logger: logger, cache: cache}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		msgCtx := kafkax.ExtractTraceContext(ctx, msg)
		spanCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		if err := c.handle(spanCtx, msg); err != nil {
			c.logger.Error("settings invalidation failed", "err", err, "topic", msg.Topic)
		}
		span.End()
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var payload struct {
		CompanyID string `json:"company_id"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		// Malformed events are logged and skipped, never retried.
		c.logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.CompanyID == "" {
		c.logger.Error("event missing company_id", "topic", msg.Topic)
		return nil
	}
	if err := c.cache.Invalidate(ctx, payload.CompanyID); err != nil {
		return fmt.Errorf("invalidate settings for %s: %w", payload.CompanyID, err)
	}
	c.logger.Info("settings cache invalidated", "company_id", payload.CompanyID,
		"event_id", kafkax.ExtractEventMeta(msg).EventID)
	return nil
}
