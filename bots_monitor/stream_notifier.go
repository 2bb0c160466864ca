package bot

import (
	"context"
	"strconv"
)

// EventWriter is satisfied by *kafka.Publisher.
type EventWriter interface {
	PublishJSON(ctx context.Context, key string, v any, headers map[string]string) error
}

// StreamNotifier emits updates as events keyed by bot ID, so one bot's
// updates stay ordered within a partition.
type StreamNotifier struct {
	w EventWriter
}

func NewStreamNotifier(w EventWriter) *StreamNotifier {
	return &StreamNotifier{w: w}
}

func (n *StreamNotifier) Publish(ctx context.Context, u Update) error {
	return n.w.PublishJSON(ctx, strconv.FormatInt(u.BotID, 10), u, map[string]string{
		"bot-type": string(u.Type),
		"network":  string(u.Network),
	})
}
