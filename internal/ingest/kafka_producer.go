package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/blood-matching/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes request lifecycle events and hospital location
// updates on two topics.
type KafkaProducer struct {
	events    *kafka.Writer
	locations *kafka.Writer
}

func NewKafkaProducer(brokers []string, eventsTopic, locationTopic string) *KafkaProducer {
	return &KafkaProducer{
		events:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: eventsTopic, Balancer: &kafka.Hash{}}),
		locations: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: locationTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

// PublishRequestEvent keys by request id so one request's events stay ordered.
func (k *KafkaProducer) PublishRequestEvent(ctx context.Context, ev models.RequestEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.events.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RequestID), Value: b})
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, loc models.HospitalLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(loc.HospitalID), Value: b})
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []*kafka.Writer{k.events, k.locations} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
