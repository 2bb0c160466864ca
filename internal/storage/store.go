package storage

import (
	"context"
	"errors"
	"time"

	"cryptobotics/internal/models"
)

var ErrNotFound = errors.New("not found")

// BotStore is the persistence contract the scheduler and services consume.
type BotStore interface {
	GetBot(ctx context.Context, id int64) (*models.Bot, error)
	ListBots(ctx context.Context) ([]*models.Bot, error)
	ListBotsByUser(ctx context.Context, userID int64) ([]*models.Bot, error)
	ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]*models.Bot, error)
	CreateBot(ctx context.Context, bot *models.Bot) (*models.Bot, error)
	// UpdateBot returns ErrNotFound when the bot is gone.
	UpdateBot(ctx context.Context, id int64, upd models.BotUpdate) (*models.Bot, error)
	DeleteBot(ctx context.Context, id int64) (bool, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByDiscordID(ctx context.Context, discordID string) (*models.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)
}

// StatsStore keeps the platform counters. Increments are atomic per backend.
type StatsStore interface {
	GetPlatformStats(ctx context.Context) (*models.PlatformStats, error)
	UpdatePlatformStats(ctx context.Context, upd models.StatsUpdate) (*models.PlatformStats, error)
	IncrementRPCCalls(ctx context.Context, n int64) error
	AdjustActiveBots(ctx context.Context, delta int64) error
	ResetDailyRPCCalls(ctx context.Context, at time.Time) error
}

type Store interface {
	BotStore
	UserStore
	StatsStore
	Close() error
}

func cloneBot(b *models.Bot) *models.Bot {
	if b == nil {
		return nil
	}
	c := *b
	if b.Configuration != nil {
		c.Configuration = make(models.Configuration, len(b.Configuration))
		for k, v := range b.Configuration {
			c.Configuration[k] = v
		}
	}
	if b.LastUpdated != nil {
		t := *b.LastUpdated
		c.LastUpdated = &t
	}
	return &c
}

func cloneUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// WithStats serves the platform counters from stats and everything else from
// store. Closing the result closes both.
func WithStats(store Store, stats StatsStore) Store {
	return &statsOverlay{Store: store, stats: stats}
}

type statsOverlay struct {
	Store
	stats StatsStore
}

func (o *statsOverlay) GetPlatformStats(ctx context.Context) (*models.PlatformStats, error) {
	return o.stats.GetPlatformStats(ctx)
}

func (o *statsOverlay) UpdatePlatformStats(ctx context.Context, upd models.StatsUpdate) (*models.PlatformStats, error) {
	return o.stats.UpdatePlatformStats(ctx, upd)
}

func (o *statsOverlay) IncrementRPCCalls(ctx context.Context, n int64) error {
	return o.stats.IncrementRPCCalls(ctx, n)
}

func (o *statsOverlay) AdjustActiveBots(ctx context.Context, delta int64) error {
	return o.stats.AdjustActiveBots(ctx, delta)
}

func (o *statsOverlay) ResetDailyRPCCalls(ctx context.Context, at time.Time) error {
	return o.stats.ResetDailyRPCCalls(ctx, at)
}

func (o *statsOverlay) Close() error {
	var errs []error
	if c, ok := o.stats.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, o.Store.Close())
	return errors.Join(errs...)
}
