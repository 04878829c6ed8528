package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"storeops/backend/internal/domain"
	"storeops/backend/internal/xid"
)

const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionReceive = "RECEIVE"

	EntityOrder     = "order"
	EntityPromotion = "promotion"
	EntityInventory = "inventory"
	EntityUser      = "user"
)

// Sink records one audit entry. Callers treat sink failures as
// non-fatal for the operation being audited.
type Sink interface {
	LogAction(ctx context.Context, entry domain.AuditLog) error
}

type Recorder interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// StoreSink persists entries through the repository so they can be listed.
type StoreSink struct {
	repo Recorder
}

func NewStoreSink(repo Recorder) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) LogAction(ctx context.Context, entry domain.AuditLog) error {
	return s.repo.CreateAuditLog(ctx, entry)
}

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) LogAction(_ context.Context, entry domain.AuditLog) error {
	s.logger.Info("audit",
		zap.String("action", entry.Action),
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID),
		zap.String("summary", entry.Summary),
		zap.Int64("actor_id", entry.ActorID),
		zap.String("actor_role", entry.ActorRole),
	)
	return nil
}

// Producer is what the otel-instrumented kafka writer exposes.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaSink publishes each entry as a JSON event keyed by entity id, so
// all events of one entity land on the same partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

type event struct {
	EventID    string          `json:"event_id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Entry      domain.AuditLog `json:"entry"`
}

func (s *KafkaSink) LogAction(ctx context.Context, entry domain.AuditLog) error {
	at := entry.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payload, err := json.Marshal(event{
		EventID:    xid.New("evt"),
		Topic:      s.topic,
		OccurredAt: at,
		Entry:      entry,
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(entry.EntityType + ":" + entry.EntityID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if err := s.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) LogAction(ctx context.Context, entry domain.AuditLog) error {
	var err error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		err = errors.Join(err, sink.LogAction(ctx, entry))
	}
	return err
}
