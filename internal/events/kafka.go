package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events to a single topic keyed by bundle id.
type KafkaSink struct {
	w *kafka.Writer
}

// NewKafkaSink writes to topic on the comma-separated brokers.
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	if brokers == "" {
		return nil, errors.New("kafka brokers not configured")
	}
	if topic == "" {
		topic = "xlsbundle.events"
	}
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}}, nil
}

// Message encodes ev for the topic.
func Message(ev Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.BundleID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, msg)
}

func (k *KafkaSink) Close() error { return k.w.Close() }
