package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaProducer publishes request ids keyed by request so all messages for a
// request land on one partition.
type KafkaProducer struct {
	producer *kafka.Producer
	topic    string
	log      *slog.Logger
}

func NewKafkaProducer(cfg KafkaConfig, logger *slog.Logger) (*KafkaProducer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	go func() {
		for e := range producer.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				logger.Error("kafka_delivery_failed", "key", string(m.Key), "error", m.TopicPartition.Error)
			}
		}
	}()
	return &KafkaProducer{producer: producer, topic: cfg.Topic, log: logger}, nil
}

func (p *KafkaProducer) Enqueue(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.RequestID),
		Value:          data,
	}, nil)
}

// Close flushes pending deliveries for up to timeout.
func (p *KafkaProducer) Close(timeout time.Duration) {
	p.producer.Flush(int(timeout / time.Millisecond))
	p.producer.Close()
}

type KafkaConsumer struct {
	consumer *kafka.Consumer
	log      *slog.Logger
}

func NewKafkaConsumer(cfg KafkaConfig, logger *slog.Logger) (*KafkaConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       strings.Join(cfg.Brokers, ","),
		"group.id":                cfg.GroupID,
		"auto.offset.reset":       "earliest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
		"session.timeout.ms":      30000,
		"max.poll.interval.ms":    900000,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.Topic, err)
	}
	return &KafkaConsumer{consumer: consumer, log: logger}, nil
}

func (c *KafkaConsumer) Consume(ctx context.Context, handle func(context.Context, Message)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		km, err := c.consumer.ReadMessage(100 * time.Millisecond)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			c.log.Warn("kafka_read_failed", "error", err)
			continue
		}
		msg, err := DecodeMessage(km.Value)
		if err != nil {
			c.log.Warn("kafka_message_invalid", "offset", km.TopicPartition.Offset.String(), "error", err)
			continue
		}
		handle(ctx, msg)
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumer.Close()
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.RequestID == "" {
		return Message{}, errors.New("message has no request_id")
	}
	return msg, nil
}
