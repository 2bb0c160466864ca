package bot

import (
	"context"
	"errors"
	"time"

	"cryptobotics/internal/models"
)

// Update is what a successful tick publishes.
type Update struct {
	BotID   int64          `json:"botId"`
	UserID  int64          `json:"userId"`
	BotName string         `json:"botName"`
	Type    models.BotType `json:"type"`
	Network models.Network `json:"network"`
	Value   string         `json:"value"`
	At      time.Time      `json:"at"`
}

// Notifier pushes tick results to an outside channel (chat, stream, dashboard).
type Notifier interface {
	Publish(ctx context.Context, u Update) error
}

type NotifierFunc func(ctx context.Context, u Update) error

func (f NotifierFunc) Publish(ctx context.Context, u Update) error { return f(ctx, u) }

// MultiNotifier fans an update out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, u Update) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
