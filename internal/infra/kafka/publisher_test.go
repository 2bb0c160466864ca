package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishJSON(t *testing.T) {
	w := &fakeWriter{}
	p, err := NewPublisher(w, "bot-updates")
	if err != nil {
		t.Fatal(err)
	}
	p.WithNow(func() time.Time { return time.Unix(1700, 0).UTC() })

	if err := p.PublishJSON(context.Background(), "7", map[string]any{"value": "1,000"}, map[string]string{"type": "standard"}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(w.messages))
	}
	m := w.messages[0]
	if string(m.Key) != "7" || m.Time.Unix() != 1700 {
		t.Fatalf("unexpected message %+v", m)
	}
	var body map[string]string
	if err := json.Unmarshal(m.Value, &body); err != nil || body["value"] != "1,000" {
		t.Fatalf("body %s: %v", m.Value, err)
	}
	if len(m.Headers) != 1 || m.Headers[0].Key != "type" {
		t.Fatalf("headers %+v", m.Headers)
	}
}

func TestPublishJSONWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p, err := NewPublisher(&fakeWriter{err: boom}, "bot-updates")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PublishJSON(context.Background(), "1", 1, nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPublisher(&fakeWriter{}, ""); !errors.Is(err, ErrNoTopic) {
		t.Fatalf("expected ErrNoTopic, got %v", err)
	}
}
