// Package events публикует события заказов из outbox-таблицы в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

// DefaultTopic: топик событий заказов по умолчанию.
const DefaultTopic = "order-events"

const defaultBatchSize = 100

// Store описывает outbox-хранилище событий.
type Store interface {
	GetUnpublishedEvents(ctx context.Context, limit int) ([]model.OrderEvent, error)
	MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Writer описывает отправку сообщений в брокер. Реализуется *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter создаёт писателя в топик topic на указанных брокерах.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Publisher периодически переносит неопубликованные события в брокер.
// Ключом сообщения служит идентификатор заказа, поэтому события одного заказа попадают в одну партицию по порядку.
type Publisher struct {
	store  Store
	writer Writer
	tick   time.Duration
	batch  int
	logger *zap.Logger
}

// NewPublisher создаёт публикатор событий.
func NewPublisher(store Store, writer Writer, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		store:  store,
		writer: writer,
		tick:   time.Second,
		batch:  defaultBatchSize,
		logger: logger,
	}
}

// Run публикует события до отмены ctx.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("failed to publish order events", zap.Error(err))
			}
		}
	}
}

// PublishPending отправляет накопившиеся события по порядку и отмечает отправленные.
// На первой ошибке отправка прекращается, чтобы не нарушить порядок событий заказа.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	pending, err := p.store.GetUnpublishedEvents(ctx, p.batch)
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}

	var (
		published []int64
		sendErr   error
	)
	for _, e := range pending {
		msg, err := Message(e)
		if err != nil {
			sendErr = err
			break
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			sendErr = fmt.Errorf("write event %d: %w", e.ID, err)
			break
		}
		published = append(published, e.ID)
	}

	if len(published) > 0 {
		if err := p.store.MarkEventsPublished(ctx, published, time.Now()); err != nil {
			return 0, fmt.Errorf("mark events published: %w", err)
		}
		p.logger.Debug("order events published", zap.Int("count", len(published)))
	}
	return len(published), sendErr
}

// Close закрывает писателя.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message кодирует событие в сообщение Kafka.
func Message(e model.OrderEvent) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %d: %w", e.ID, err)
	}
	return kafka.Message{
		Key:   []byte(e.OrderID),
		Value: value,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(strconv.FormatInt(e.ID, 10))},
		},
	}, nil
}
