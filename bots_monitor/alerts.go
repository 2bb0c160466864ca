package bot

import (
	"context"
	"fmt"

	"cryptobotics/internal/models"
)

// AlertSource produces the value of an alert bot for one tick.
// Transaction-feed subscriptions plug in here.
type AlertSource interface {
	Poll(ctx context.Context, bot *models.Bot) (string, error)
}

// PlaceholderAlerts reports that monitoring is running without inspecting transactions.
type PlaceholderAlerts struct{}

// A configured threshold is echoed in the value.
func (PlaceholderAlerts) Poll(_ context.Context, bot *models.Bot) (string, error) {
	var value string
	switch bot.Type {
	case models.BotTypeAlertWhale:
		value = "Monitoring for whale transactions"
	case models.BotTypeAlertBuy:
		value = "Monitoring for buy transactions"
	default:
		return "", fmt.Errorf("bot type %q is not an alert", bot.Type)
	}
	if threshold := bot.Configuration.AlertThreshold(); threshold != "" {
		value += " above " + threshold
	}
	return value, nil
}
