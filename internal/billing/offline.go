package billing

import (
	"context"
	"fmt"
	"sync/atomic"

	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/models"

	"go.uber.org/zap"
)

// Offline stands in for Stripe in local runs: every customer gets a local id
// and subscription items are numbered in process. Webhooks are rejected.
type Offline struct {
	prices map[string]string
	seq    atomic.Int64
}

func NewOffline(priceOverrides map[string]string) *Offline {
	return &Offline{prices: mergePrices(priceOverrides)}
}

func (o *Offline) PriceID(t models.BotType, f models.UpdateFrequency) (string, bool) {
	id, ok := o.prices[models.PriceKey(t, f)]
	return id, ok && id != ""
}

func (o *Offline) CreateCustomer(_ context.Context, user *models.User) (string, error) {
	return fmt.Sprintf("cus_local_%s", user.DiscordID), nil
}

func (o *Offline) AddSubscriptionItem(_ context.Context, customerID, priceID, description string) (string, error) {
	id := fmt.Sprintf("si_local_%d", o.seq.Add(1))
	log.LogDebug("Offline subscription item",
		zap.String("customer", customerID),
		zap.String("price", priceID),
		zap.String("item", id),
		zap.String("description", description))
	return id, nil
}

func (o *Offline) UpdateSubscriptionItem(context.Context, string, string) error { return nil }

func (o *Offline) RemoveSubscriptionItem(context.Context, string) error { return nil }

func (o *Offline) PortalURL(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (o *Offline) ParseWebhook([]byte, string) (*Event, error) {
	return nil, fmt.Errorf("webhook: %w", ErrNotConfigured)
}
