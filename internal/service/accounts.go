package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cryptobotics/internal/billing"
	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/models"
	"cryptobotics/internal/storage"

	"go.uber.org/zap"
)

type RegisterInput struct {
	DiscordID string `json:"discordId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
}

// Register returns the user for a Discord id, creating it (and a billing
// customer when an email is known) on first sight.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.DiscordID = strings.TrimSpace(in.DiscordID)
	in.Username = strings.TrimSpace(in.Username)
	if in.DiscordID == "" || in.Username == "" {
		return nil, validationError("discordId and username are required")
	}

	existing, err := s.store.GetUserByDiscordID(ctx, in.DiscordID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, &models.User{
		DiscordID:          in.DiscordID,
		Username:           in.Username,
		Email:              strings.TrimSpace(in.Email),
		SubscriptionStatus: models.SubscriptionInactive,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if user.Email != "" {
		customerID, err := s.billing.CreateCustomer(ctx, user)
		if err != nil {
			log.LogWarn("Failed to create billing customer", zap.Int64("userID", user.ID), zap.Error(err))
		} else {
			user, err = s.store.UpdateUser(ctx, user.ID, models.UserUpdate{StripeCustomerID: &customerID})
			if err != nil {
				return nil, err
			}
		}
	}

	log.LogInfo("User registered", zap.Int64("userID", user.ID), zap.String("discordID", user.DiscordID))
	return user, nil
}

func (s *Service) Profile(ctx context.Context, actor Actor) (*models.User, error) {
	return s.store.GetUser(ctx, actor.UserID)
}

func (s *Service) BillingPortal(ctx context.Context, actor Actor, returnURL string) (string, error) {
	user, err := s.store.GetUser(ctx, actor.UserID)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID == "" {
		return "", validationError("no customer record found")
	}
	return s.billing.PortalURL(ctx, user.StripeCustomerID, returnURL)
}

// HandleWebhook verifies a billing webhook and applies it.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	if signature == "" {
		return nil, validationError("missing signature")
	}
	ev, err := s.billing.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.ApplyBillingEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ApplyBillingEvent syncs a customer's subscription status. A deleted
// subscription also stops every running bot of that customer.
func (s *Service) ApplyBillingEvent(ctx context.Context, ev *billing.Event) error {
	var status models.SubscriptionStatus
	switch ev.Type {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		status = ev.SubscriptionStatus
	case billing.EventSubscriptionDeleted:
		status = models.SubscriptionInactive
	case billing.EventPaymentSucceeded:
		status = models.SubscriptionActive
	case billing.EventPaymentFailed:
		status = models.SubscriptionPastDue
	default:
		log.LogDebug("Ignoring billing event", zap.String("type", ev.Type))
		return nil
	}

	user, err := s.store.GetUserByStripeCustomerID(ctx, ev.CustomerID)
	if errors.Is(err, storage.ErrNotFound) {
		log.LogWarn("Billing event for unknown customer", zap.String("type", ev.Type), zap.String("customer", ev.CustomerID))
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.store.UpdateUser(ctx, user.ID, models.UserUpdate{SubscriptionStatus: &status}); err != nil {
		return err
	}
	log.LogInfo("Subscription status synced",
		zap.String("event", ev.Type),
		zap.Int64("userID", user.ID),
		zap.String("status", string(status)))

	if ev.Type != billing.EventSubscriptionDeleted {
		return nil
	}

	bots, err := s.store.ListBotsByUser(ctx, user.ID)
	if err != nil {
		return err
	}
	var errs []error
	for _, b := range bots {
		if b.Status != models.StatusActive {
			continue
		}
		if _, err := s.sched.Stop(ctx, b.ID); err != nil {
			errs = append(errs, fmt.Errorf("stop bot %d: %w", b.ID, err))
		}
	}
	return errors.Join(errs...)
}
