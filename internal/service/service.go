package service

import (
	"context"
	"errors"
	"fmt"

	"cryptobotics/internal/billing"
	"cryptobotics/internal/models"
	"cryptobotics/internal/storage"
)

var (
	ErrValidation           = errors.New("invalid request")
	ErrForbidden            = errors.New("not authorized")
	ErrSubscriptionRequired = errors.New("subscription required")
	ErrBotLimit             = errors.New("bot limit reached for current subscription")
)

const DefaultMaxBotsPerUser = 5

// Scheduler is implemented by the bots_monitor scheduler.
type Scheduler interface {
	Start(ctx context.Context, id int64) (*models.Bot, error)
	Stop(ctx context.Context, id int64) (*models.Bot, error)
	Restart(ctx context.Context, id int64) (*models.Bot, error)
	Reschedule(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) (bool, error)
}

// Billing is the subscription collaborator (Stripe or offline).
type Billing interface {
	PriceID(t models.BotType, f models.UpdateFrequency) (string, bool)
	CreateCustomer(ctx context.Context, user *models.User) (string, error)
	AddSubscriptionItem(ctx context.Context, customerID, priceID, description string) (string, error)
	UpdateSubscriptionItem(ctx context.Context, itemID, priceID string) error
	RemoveSubscriptionItem(ctx context.Context, itemID string) error
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	ParseWebhook(payload []byte, signature string) (*billing.Event, error)
}

type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	UserID  int64
	IsAdmin bool
}

type Options struct {
	Store          storage.Store
	Scheduler      Scheduler
	Billing        Billing
	Vault          Sealer
	NewToken       func() (string, error)
	MaxBotsPerUser int
}

// Service holds the bot and account rules that sit between the HTTP layer
// and the scheduler.
type Service struct {
	store    storage.Store
	sched    Scheduler
	billing  Billing
	vault    Sealer
	newToken func() (string, error)
	maxBots  int
}

func New(opts Options) *Service {
	if opts.MaxBotsPerUser <= 0 {
		opts.MaxBotsPerUser = DefaultMaxBotsPerUser
	}
	return &Service{
		store:    opts.Store,
		sched:    opts.Scheduler,
		billing:  opts.Billing,
		vault:    opts.Vault,
		newToken: opts.NewToken,
		maxBots:  opts.MaxBotsPerUser,
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// authorize loads the bot and checks that actor may touch it.
func (s *Service) authorize(ctx context.Context, actor Actor, id int64) (*models.Bot, error) {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if bot.UserID != actor.UserID && !actor.IsAdmin {
		return nil, fmt.Errorf("%w: bot %d", ErrForbidden, id)
	}
	return bot, nil
}
