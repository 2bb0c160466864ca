package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured  = errors.New("billing is not configured")
	ErrNoSubscription = errors.New("subscription item not created")
)

// Event types the platform reacts to.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is a verified webhook event reduced to what the platform needs.
type Event struct {
	ID         string
	Type       string
	CustomerID string
	// SubscriptionStatus is set for subscription events.
	SubscriptionStatus models.SubscriptionStatus
}

// DefaultPrices maps "<type>_<frequency>" to price ids.
func DefaultPrices() map[string]string {
	return map[string]string{
		"standard_60":    "price_standard_60s",
		"standard_30":    "price_standard_30s",
		"standard_15":    "price_standard_15s",
		"alert_whale_60": "price_alert_60s",
		"alert_whale_30": "price_alert_30s",
		"alert_whale_15": "price_alert_15s",
		"alert_buy_60":   "price_alert_60s",
		"alert_buy_30":   "price_alert_30s",
		"alert_buy_15":   "price_alert_15s",
		"custom_rpc_60":  "price_custom_60s",
		"custom_rpc_30":  "price_custom_30s",
		"custom_rpc_15":  "price_custom_15s",
	}
}

func mergePrices(overrides map[string]string) map[string]string {
	prices := DefaultPrices()
	for k, v := range overrides {
		if v != "" {
			prices[k] = v
		}
	}
	return prices
}

type Stripe struct {
	api           *client.API
	webhookSecret string
	prices        map[string]string
}

// NewStripe builds the Stripe collaborator. Price overrides replace defaults per key.
func NewStripe(secretKey, webhookSecret string, priceOverrides map[string]string) *Stripe {
	s := &Stripe{webhookSecret: webhookSecret, prices: mergePrices(priceOverrides)}
	if secretKey != "" {
		s.api = &client.API{}
		s.api.Init(secretKey, nil)
	} else {
		log.LogWarn("Stripe API key not set, billing calls will fail")
	}
	return s
}

func (s *Stripe) PriceID(t models.BotType, f models.UpdateFrequency) (string, bool) {
	id, ok := s.prices[models.PriceKey(t, f)]
	return id, ok && id != ""
}

func (s *Stripe) CreateCustomer(ctx context.Context, user *models.User) (string, error) {
	if s.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Username),
	}
	params.Context = ctx
	params.AddMetadata("discordId", user.DiscordID)
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

// AddSubscriptionItem attaches priceID to the customer's active subscription,
// creating the subscription when there is none. Returns the item id.
func (s *Stripe) AddSubscriptionItem(ctx context.Context, customerID, priceID, description string) (string, error) {
	if s.api == nil {
		return "", ErrNotConfigured
	}

	listParams := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	var existing *stripe.Subscription
	it := s.api.Subscriptions.List(listParams)
	if it.Next() {
		existing = it.Subscription()
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("list subscriptions: %w", err)
	}

	if existing == nil {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(customerID),
			Items:    []*stripe.SubscriptionItemsParams{{Price: stripe.String(priceID)}},
		}
		params.Context = ctx
		params.AddMetadata("description", description)
		sub, err := s.api.Subscriptions.New(params)
		if err != nil {
			return "", fmt.Errorf("create subscription: %w", err)
		}
		if sub.Items == nil || len(sub.Items.Data) == 0 {
			return "", ErrNoSubscription
		}
		return sub.Items.Data[0].ID, nil
	}

	params := &stripe.SubscriptionItemParams{
		Subscription: stripe.String(existing.ID),
		Price:        stripe.String(priceID),
	}
	params.Context = ctx
	params.AddMetadata("description", description)
	item, err := s.api.SubscriptionItems.New(params)
	if err != nil {
		return "", fmt.Errorf("create subscription item: %w", err)
	}
	log.LogInfo("Subscription item added",
		zap.String("customer", customerID),
		zap.String("subscription", existing.ID),
		zap.String("price", priceID))
	return item.ID, nil
}

func (s *Stripe) UpdateSubscriptionItem(ctx context.Context, itemID, priceID string) error {
	if s.api == nil {
		return ErrNotConfigured
	}
	params := &stripe.SubscriptionItemParams{Price: stripe.String(priceID)}
	params.Context = ctx
	if _, err := s.api.SubscriptionItems.Update(itemID, params); err != nil {
		return fmt.Errorf("update subscription item %s: %w", itemID, err)
	}
	return nil
}

func (s *Stripe) RemoveSubscriptionItem(ctx context.Context, itemID string) error {
	if s.api == nil {
		return ErrNotConfigured
	}
	params := &stripe.SubscriptionItemParams{}
	params.Context = ctx
	if _, err := s.api.SubscriptionItems.Del(itemID, params); err != nil {
		return fmt.Errorf("delete subscription item %s: %w", itemID, err)
	}
	return nil
}

func (s *Stripe) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	if s.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// ParseWebhook verifies the signature header and decodes the event.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("webhook secret: %w", ErrNotConfigured)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	return decodeEvent(ev)
}

func decodeEvent(ev stripe.Event) (*Event, error) {
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.SubscriptionStatus = SubscriptionStatus(sub.Status)
	case EventPaymentSucceeded, EventPaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
	}
	return out, nil
}

// SubscriptionStatus folds Stripe's subscription states onto the platform's four.
func SubscriptionStatus(s stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionCanceled
	}
	return models.SubscriptionInactive
}
