package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/models"

	"go.uber.org/zap"
)

type CreateBotInput struct {
	Name            string                 `json:"name"`
	Type            models.BotType         `json:"type"`
	Network         models.Network         `json:"network"`
	TokenAddress    string                 `json:"tokenAddress"`
	UpdateFrequency models.UpdateFrequency `json:"updateFrequency"`
	Configuration   models.Configuration   `json:"configuration"`
	GuildID         string                 `json:"guildId"`
	ChannelID       string                 `json:"channelId"`
}

func (in *CreateBotInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.Name == "":
		return validationError("name is required")
	case len(in.Name) > 100:
		return validationError("name is too long")
	case !in.Type.Valid():
		return validationError("unknown bot type %q", in.Type)
	case !in.Network.Valid():
		return validationError("unsupported network %q", in.Network)
	case !in.UpdateFrequency.Valid():
		return validationError("update frequency must be 60, 30 or 15")
	case strings.TrimSpace(in.GuildID) == "":
		return validationError("guildId is required")
	}
	return nil
}

// UpdateBotInput leaves nil fields untouched.
type UpdateBotInput struct {
	Name            *string                 `json:"name"`
	TokenAddress    *string                 `json:"tokenAddress"`
	UpdateFrequency *models.UpdateFrequency `json:"updateFrequency"`
	Configuration   models.Configuration    `json:"configuration"`
	ChannelID       *string                 `json:"channelId"`
}

func (s *Service) ListBots(ctx context.Context, actor Actor) ([]*models.Bot, error) {
	return s.store.ListBotsByUser(ctx, actor.UserID)
}

// ListAllBots is for admins.
func (s *Service) ListAllBots(ctx context.Context, actor Actor) ([]*models.Bot, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	return s.store.ListBots(ctx)
}

func (s *Service) GetBot(ctx context.Context, actor Actor, id int64) (*models.Bot, error) {
	return s.authorize(ctx, actor, id)
}

// CreateBot attaches a billing item, seals a fresh platform credential,
// stores the bot and starts it.
func (s *Service) CreateBot(ctx context.Context, actor Actor, in CreateBotInput) (*models.Bot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if user.StripeCustomerID == "" {
		return nil, fmt.Errorf("%w to create bots", ErrSubscriptionRequired)
	}

	owned, err := s.store.ListBotsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(owned) >= s.maxBots {
		return nil, ErrBotLimit
	}

	priceID, ok := s.billing.PriceID(in.Type, in.UpdateFrequency)
	if !ok {
		return nil, validationError("no price for %s", models.PriceKey(in.Type, in.UpdateFrequency))
	}
	itemID, err := s.billing.AddSubscriptionItem(ctx, user.StripeCustomerID, priceID, "Bot: "+in.Name)
	if err != nil {
		return nil, fmt.Errorf("attach subscription item: %w", err)
	}

	token, err := s.newToken()
	if err != nil {
		s.detachItem(ctx, itemID)
		return nil, fmt.Errorf("generate bot token: %w", err)
	}
	sealed, err := s.vault.Encrypt(token)
	if err != nil {
		s.detachItem(ctx, itemID)
		return nil, fmt.Errorf("seal bot token: %w", err)
	}

	cfg := in.Configuration
	if cfg == nil {
		cfg = models.Configuration{}
	}
	created, err := s.store.CreateBot(ctx, &models.Bot{
		UserID:             user.ID,
		Name:               in.Name,
		Type:               in.Type,
		Status:             models.StatusConfigured,
		Network:            in.Network,
		TokenAddress:       strings.TrimSpace(in.TokenAddress),
		UpdateFrequency:    in.UpdateFrequency,
		Configuration:      cfg,
		GuildID:            in.GuildID,
		ChannelID:          in.ChannelID,
		EncryptedToken:     sealed,
		SubscriptionItemID: itemID,
	})
	if err != nil {
		s.detachItem(ctx, itemID)
		return nil, fmt.Errorf("store bot: %w", err)
	}

	log.LogSuccess("Bot created",
		zap.Int64("botID", created.ID),
		zap.Int64("userID", user.ID),
		zap.String("type", string(created.Type)),
		zap.String("network", string(created.Network)))

	return s.sched.Start(ctx, created.ID)
}

// UpdateBot applies the changes, moves the billing item to the new price when
// the frequency changes, and reschedules a running bot.
func (s *Service) UpdateBot(ctx context.Context, actor Actor, id int64, in UpdateBotInput) (*models.Bot, error) {
	bot, err := s.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	upd := models.BotUpdate{
		TokenAddress:  in.TokenAddress,
		Configuration: in.Configuration,
		ChannelID:     in.ChannelID,
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, validationError("name is required")
		}
		upd.Name = &name
	}

	if in.UpdateFrequency != nil && *in.UpdateFrequency != bot.UpdateFrequency {
		if !in.UpdateFrequency.Valid() {
			return nil, validationError("update frequency must be 60, 30 or 15")
		}
		owner, err := s.store.GetUser(ctx, bot.UserID)
		if err != nil {
			return nil, err
		}
		if owner.StripeCustomerID == "" {
			return nil, ErrSubscriptionRequired
		}
		priceID, ok := s.billing.PriceID(bot.Type, *in.UpdateFrequency)
		if !ok {
			return nil, validationError("no price for %s", models.PriceKey(bot.Type, *in.UpdateFrequency))
		}
		if bot.SubscriptionItemID != "" {
			if err := s.billing.UpdateSubscriptionItem(ctx, bot.SubscriptionItemID, priceID); err != nil {
				return nil, fmt.Errorf("reprice subscription item: %w", err)
			}
		}
		upd.UpdateFrequency = in.UpdateFrequency
	}

	updated, err := s.store.UpdateBot(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	if updated.Status == models.StatusActive {
		if err := s.sched.Reschedule(ctx, id); err != nil {
			return nil, err
		}
	}
	log.LogInfo("Bot updated", zap.Int64("botID", id))
	return updated, nil
}

// detachItem drops a subscription item whose bot was never stored.
func (s *Service) detachItem(ctx context.Context, itemID string) {
	if err := s.billing.RemoveSubscriptionItem(ctx, itemID); err != nil {
		log.LogWarn("Failed to remove orphaned subscription item",
			zap.String("item", itemID),
			zap.Error(err))
	}
}

// DeleteBot stops the bot, removes its record and detaches its billing item.
func (s *Service) DeleteBot(ctx context.Context, actor Actor, id int64) error {
	bot, err := s.authorize(ctx, actor, id)
	if err != nil {
		return err
	}

	if _, err := s.sched.Delete(ctx, id); err != nil {
		return err
	}

	if bot.SubscriptionItemID != "" {
		if err := s.billing.RemoveSubscriptionItem(ctx, bot.SubscriptionItemID); err != nil {
			log.LogWarn("Failed to remove subscription item",
				zap.Int64("botID", id),
				zap.String("item", bot.SubscriptionItemID),
				zap.Error(err))
		}
	}
	return nil
}

// StartBot requires the owner's subscription to be active.
func (s *Service) StartBot(ctx context.Context, actor Actor, id int64) (*models.Bot, error) {
	bot, err := s.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.store.GetUser(ctx, bot.UserID)
	if err != nil {
		return nil, err
	}
	if owner.SubscriptionStatus != models.SubscriptionActive {
		return nil, fmt.Errorf("active %w to start bot", ErrSubscriptionRequired)
	}
	return s.sched.Start(ctx, id)
}

func (s *Service) StopBot(ctx context.Context, actor Actor, id int64) (*models.Bot, error) {
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.sched.Stop(ctx, id)
}

func (s *Service) RestartBot(ctx context.Context, actor Actor, id int64) (*models.Bot, error) {
	if _, err := s.authorize(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.sched.Restart(ctx, id)
}

// ManageBot runs an admin lifecycle action: start, stop or restart.
func (s *Service) ManageBot(ctx context.Context, actor Actor, id int64, action string) (*models.Bot, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	switch action {
	case "start":
		return s.sched.Start(ctx, id)
	case "stop":
		return s.sched.Stop(ctx, id)
	case "restart":
		return s.sched.Restart(ctx, id)
	}
	return nil, validationError("invalid action %q", action)
}

func (s *Service) PlatformStats(ctx context.Context, actor Actor) (*models.PlatformStats, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	return s.store.GetPlatformStats(ctx)
}

// IsClientError reports whether err is the caller's fault rather than ours.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrSubscriptionRequired) || errors.Is(err, ErrBotLimit)
}
