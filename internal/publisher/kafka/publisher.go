// Package kafka publishes crawl events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects the brokers and default topic.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher wraps a Kafka writer for publishing crawl events.
type Publisher struct {
	writer       messageWriter
	defaultTopic string
}

// New creates a Kafka publisher. Events are keyed by crawl ID, so one crawl's
// events stay ordered within a partition.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
			RequiredAcks:           kafka.RequireAll,
		},
		defaultTopic: cfg.Topic,
	}, nil
}

// NewWithWriter builds a publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, defaultTopic: topic}
}

// Publish writes payload as JSON to topic, or to the configured topic when
// topic is empty.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Value: value,
		Time:  time.Now().UTC(),
	}
	if event, ok := payload.(crawler.Event); ok {
		msg.Key = []byte(event.CrawlID)
		msg.Headers = append(msg.Headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)})
	}
	carrier := headerCarrier{msg: &msg}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return fmt.Sprintf("%s/%s/%d", topic, msg.Key, msg.Time.UnixNano()), nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// headerCarrier implements propagation.TextMapCarrier over message headers.
type headerCarrier struct {
	msg *kafka.Message
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if strings.EqualFold(h.Key, key) {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
