package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

type stubStore struct {
	events    []model.OrderEvent
	published map[int64]bool
	loadErr   error
}

func (s *stubStore) GetUnpublishedEvents(_ context.Context, limit int) ([]model.OrderEvent, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var res []model.OrderEvent
	for _, e := range s.events {
		if !s.published[e.ID] {
			res = append(res, e)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *stubStore) MarkEventsPublished(_ context.Context, ids []int64, _ time.Time) error {
	for _, id := range ids {
		s.published[id] = true
	}
	return nil
}

type stubWriter struct {
	messages []kafka.Message
	failOn   int
	calls    int
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.failOn > 0 && w.calls == w.failOn {
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *stubWriter) Close() error { return nil }

func sampleEvents() []model.OrderEvent {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []model.OrderEvent{
		{ID: 1, OrderID: "o-1", Type: model.EventOrderCreated, Status: model.OrderStatusPending, ActorID: 10, CreatedAt: now},
		{ID: 2, OrderID: "o-1", Type: model.EventOrderStatusChanged, PreviousStatus: model.OrderStatusPending, Status: model.OrderStatusProcessing, ActorID: 20, CreatedAt: now},
		{ID: 3, OrderID: "o-2", Type: model.EventOrderCreated, Status: model.OrderStatusPending, ActorID: 11, CreatedAt: now},
	}
}

func TestPublishPending(t *testing.T) {
	store := &stubStore{events: sampleEvents(), published: map[int64]bool{}}
	writer := &stubWriter{}
	p := NewPublisher(store, writer, nil)

	n, err := p.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, writer.messages, 3)

	msg := writer.messages[1]
	assert.Equal(t, "o-1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, model.EventOrderStatusChanged, string(msg.Headers[0].Value))

	var decoded model.OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, model.OrderStatusProcessing, decoded.Status)

	n, err = p.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "published events are not sent again")
}

func TestPublishPendingStopsOnFirstFailure(t *testing.T) {
	store := &stubStore{events: sampleEvents(), published: map[int64]bool{}}
	writer := &stubWriter{failOn: 2}
	p := NewPublisher(store, writer, nil)

	n, err := p.PublishPending(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.published[1])
	assert.False(t, store.published[2])
	assert.False(t, store.published[3], "later events wait so order is preserved")

	n, err = p.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPublishPendingLoadError(t *testing.T) {
	store := &stubStore{loadErr: errors.New("db down"), published: map[int64]bool{}}
	p := NewPublisher(store, &stubWriter{}, nil)

	_, err := p.PublishPending(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &stubStore{events: sampleEvents(), published: map[int64]bool{}}
	writer := &stubWriter{}
	p := NewPublisher(store, writer, nil)
	p.tick = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
	assert.Len(t, writer.messages, 3)
}
