package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every alert as one json message keyed by series
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaSink writes to topic on brokers, waiting for every in sync replica
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	})
}

func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Publish(ctx context.Context, a Alert) error {
	if len(a.Records) == 0 {
		return ErrNoRecords
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("unable to marshal alert, %w", err)
	}
	msg := kafka.Message{Key: []byte(a.Series), Value: b, Time: time.Now()}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("unable to publish alert %s, %w", a.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
