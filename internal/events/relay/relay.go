package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/events"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Outbox *events.Outbox
	Cfg    config.Config
}

// Relay drains the outbox into Kafka. Delivery is at-least-once: rows
// are marked published only after the broker acks, so a crash between
// write and mark replays the batch. Consumers key on order_no.
type Relay struct {
	log    *zap.Logger
	outbox *events.Outbox
	writer *kafka.Writer
	cfg    config.Config
}

func NewRelay(p Params) *Relay {
	return &Relay{
		log:    p.Log.Named("events.relay"),
		outbox: p.Outbox,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(p.Cfg.KafkaBrokers...),
			Topic:        p.Cfg.KafkaTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
		cfg: p.Cfg,
	}
}

func (r *Relay) Close() error {
	return r.writer.Close()
}

func (r *Relay) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RelayPollInterval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("relay_run_failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) RunOnce(ctx context.Context) error {
	records, err := r.outbox.FetchUnpublished(ctx, r.cfg.RelayBatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(records))
	ids := make([]snowflake.ID, 0, len(records))
	for _, record := range records {
		value, err := json.Marshal(map[string]any{
			"id":         record.ID.String(),
			"event_type": record.EventType,
			"payload":    map[string]any(record.Payload),
			"created_at": record.CreatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			r.log.Warn("relay_encode_failed", zap.String("event_id", record.ID.String()), zap.Error(err))
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   messageKey(record),
			Value: value,
		})
		ids = append(ids, record.ID)
	}
	if len(messages) == 0 {
		return nil
	}

	if err := r.writer.WriteMessages(ctx, messages...); err != nil {
		return err
	}
	if err := r.outbox.MarkPublished(ctx, ids); err != nil {
		return err
	}
	r.log.Info("relay_published", zap.Int("count", len(ids)))
	return nil
}

// messageKey pins all events of one order to one partition.
func messageKey(record events.Record) []byte {
	if record.Payload != nil {
		if orderNo, ok := record.Payload["order_no"].(string); ok && orderNo != "" {
			return []byte(orderNo)
		}
	}
	return []byte(record.ID.String())
}
