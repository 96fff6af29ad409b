package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/segmentio/kafka-go"
)

// Publisher hands an event to the gateways. key orders events of one chat.
type Publisher interface {
	Publish(ctx context.Context, key string, ev model.Event) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Name, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", ev.Name, key, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// EventNotifier publishes messages-read for the receipt coordinator.
type EventNotifier struct {
	Events Publisher
}

func (n EventNotifier) MessagesRead(ctx context.Context, p model.MessagesReadPayload) error {
	ev, err := model.NewEvent(model.EventMessagesRead, p)
	if err != nil {
		return err
	}
	return n.Events.Publish(ctx, p.ChatID, ev)
}
