// Package queue is the ingress layer: the HTTP surface enqueues trigger
// payloads and the pipeline worker consumes them. Delivery is
// at-least-once; the orchestrator's deterministic execution naming absorbs
// redelivery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Message struct {
	Topic   string
	Key     string
	Payload []byte

	raw kafka.Message
}

// Producer writes trigger payloads keyed by entity id.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("producer requires at least one broker")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{writer: writer}, nil
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads trigger messages with explicit commits: a message is only
// committed after the handler returns, so a crash mid-handling means
// redelivery, not loss.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, groupID string, topics []string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("consumer requires group id")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("consumer requires at least one topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return &Consumer{reader: reader}, nil
}

// Fetch blocks until a message is available or the context ends.
func (c *Consumer) Fetch(ctx context.Context) (*Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &Message{
		Topic:   msg.Topic,
		Key:     string(msg.Key),
		Payload: msg.Value,
		raw:     msg,
	}, nil
}

// Commit acknowledges a handled message.
func (c *Consumer) Commit(ctx context.Context, msg *Message) error {
	return c.reader.CommitMessages(ctx, msg.raw)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
