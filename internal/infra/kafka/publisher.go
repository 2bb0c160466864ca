package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrNoTopic = errors.New("kafka topic is required")

// Writer is the subset of *kafka.Writer used here.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON events to a single topic.
type Publisher struct {
	writer Writer
	topic  string
	now    func() time.Time
}

func NewPublisher(w Writer, topic string) (*Publisher, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}
	return &Publisher{writer: w, topic: topic, now: time.Now}, nil
}

// NewWriter builds a hash-balanced writer; events with the same key keep their order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
	}
}

// WithNow overrides the message timestamp source.
func (p *Publisher) WithNow(now func() time.Time) *Publisher {
	if now != nil {
		p.now = now
	}
	return p
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any, headers map[string]string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  p.now(),
	}
	for k, val := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(val)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Topic() string { return p.topic }

func (p *Publisher) Close() error {
	return p.writer.Close()
}
