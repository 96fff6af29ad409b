package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/segmentio/kafka-go"
)

// EventReader is the part of *kafka.Reader the consumer uses.
type EventReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewEventReader subscribes with a group unique to this process so every
// gateway sees every event.
func NewEventReader(brokers []string, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "gateway-group-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
}

// consume feeds API events into the hub until ctx is done.
func consume(ctx context.Context, reader EventReader, hub *Hub, log *slog.Logger) {
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway consumer error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Warn("Failed to unmarshal event from Kafka", "error", err, "offset", m.Offset)
			continue
		}
		if err := hub.Dispatch(ctx, ev); err != nil {
			log.Warn("dropping bus event", "event", ev.Name, "key", string(m.Key), "error", err)
		}
	}
}
