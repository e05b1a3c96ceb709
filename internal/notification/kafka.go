package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds the alert topic settings
type KafkaConfig struct {
	Brokers []string `json:"brokers" mapstructure:"brokers"`
	Topic   string   `json:"topic" mapstructure:"topic"`
	Enabled bool     `json:"enabled" mapstructure:"enabled"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON to a kafka topic, keyed by
// symbol so one symbol's alerts stay ordered
type KafkaNotifier struct {
	writer  messageWriter
	topic   string
	enabled bool
}

// NewKafkaNotifier creates a notifier writing to cfg.Topic
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	enabled := cfg.Enabled && len(cfg.Brokers) > 0 && cfg.Topic != ""
	n := &KafkaNotifier{topic: cfg.Topic, enabled: enabled}
	if enabled {
		n.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		}
	}
	return n
}

func (k *KafkaNotifier) Name() string {
	return "kafka"
}

func (k *KafkaNotifier) IsEnabled() bool {
	return k.enabled
}

func (k *KafkaNotifier) Send(ctx context.Context, notification *Notification) error {
	if !k.enabled {
		return nil
	}
	value, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(notification.Symbol),
		Value: value,
		Time:  notification.Timestamp,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(notification.Severity)},
			{Key: "type", Value: []byte(notification.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to topic %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
