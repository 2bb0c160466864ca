package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type BotType string

const (
	BotTypeStandard   BotType = "standard"
	BotTypeAlertWhale BotType = "alert_whale"
	BotTypeAlertBuy   BotType = "alert_buy"
	BotTypeCustomRPC  BotType = "custom_rpc"
)

func (t BotType) Valid() bool {
	switch t {
	case BotTypeStandard, BotTypeAlertWhale, BotTypeAlertBuy, BotTypeCustomRPC:
		return true
	}
	return false
}

type BotStatus string

const (
	StatusConfigured BotStatus = "configured"
	StatusActive     BotStatus = "active"
	StatusPaused     BotStatus = "paused"
	StatusError      BotStatus = "error"
)

type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkBSC      Network = "bsc"
	NetworkPolygon  Network = "polygon"
	NetworkArbitrum Network = "arbitrum"
)

func (n Network) Valid() bool {
	switch n {
	case NetworkEthereum, NetworkBSC, NetworkPolygon, NetworkArbitrum:
		return true
	}
	return false
}

// UpdateFrequency is the tick interval in seconds, stored as "60", "30" or "15".
type UpdateFrequency string

const (
	Frequency60 UpdateFrequency = "60"
	Frequency30 UpdateFrequency = "30"
	Frequency15 UpdateFrequency = "15"
)

func (f UpdateFrequency) Valid() bool {
	switch f {
	case Frequency60, Frequency30, Frequency15:
		return true
	}
	return false
}

// Interval falls back to 60s for unknown values.
func (f UpdateFrequency) Interval() time.Duration {
	secs, err := strconv.Atoi(string(f))
	if err != nil || !f.Valid() {
		return 60 * time.Second
	}
	return time.Duration(secs) * time.Second
}

// Metric kinds for standard bots.
const (
	MetricPrice   = "price"
	MetricSupply  = "supply"
	MetricBalance = "balance"
)

const DefaultDecimals = 18

// Configuration is the free-form, type-specific settings map.
type Configuration map[string]any

func (c Configuration) str(key string) string {
	if c == nil {
		return ""
	}
	switch v := c[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (c Configuration) MetricType() string        { return c.str("metricType") }
func (c Configuration) PairAddress() string       { return c.str("pairAddress") }
func (c Configuration) WalletAddress() string     { return c.str("walletAddress") }
func (c Configuration) FunctionSignature() string { return c.str("functionSignature") }
func (c Configuration) Formatter() string         { return c.str("formatter") }

// AlertThreshold is the minimum transfer size an alert bot reports. The
// dashboard sends it as "threshold" and, for whale bots, also as "minAmount".
func (c Configuration) AlertThreshold() string {
	if v := c.str("threshold"); v != "" {
		return v
	}
	return c.str("minAmount")
}

// Decimals accepts numbers or numeric strings (JSON decodes to float64).
func (c Configuration) Decimals() int32 {
	if c == nil {
		return DefaultDecimals
	}
	switch v := c["decimals"].(type) {
	case int:
		return int32(v)
	case int32:
		return v
	case int64:
		return int32(v)
	case float64:
		return int32(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return int32(n)
		}
	}
	return DefaultDecimals
}

// Args returns the raw argument list for custom calls.
func (c Configuration) Args() []any {
	if c == nil {
		return nil
	}
	switch v := c["args"].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return nil
}

type Bot struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"userId"`
	Name               string          `json:"name"`
	Type               BotType         `json:"type"`
	Status             BotStatus       `json:"status"`
	Network            Network         `json:"network"`
	TokenAddress       string          `json:"tokenAddress,omitempty"`
	UpdateFrequency    UpdateFrequency `json:"updateFrequency"`
	Configuration      Configuration   `json:"configuration"`
	GuildID            string          `json:"guildId,omitempty"`
	ChannelID          string          `json:"channelId,omitempty"`
	EncryptedToken     string          `json:"-"`
	LastValue          string          `json:"lastValue,omitempty"`
	LastUpdated        *time.Time      `json:"lastUpdated,omitempty"`
	SubscriptionItemID string          `json:"subscriptionItemId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// BotUpdate carries a partial update; nil fields are left untouched.
type BotUpdate struct {
	Name               *string
	Status             *BotStatus
	TokenAddress       *string
	UpdateFrequency    *UpdateFrequency
	Configuration      Configuration
	ChannelID          *string
	EncryptedToken     *string
	LastValue          *string
	LastUpdated        *time.Time
	SubscriptionItemID *string
}

// Apply copies the set fields onto b.
func (u BotUpdate) Apply(b *Bot) {
	if u.Name != nil {
		b.Name = *u.Name
	}
	if u.Status != nil {
		b.Status = *u.Status
	}
	if u.TokenAddress != nil {
		b.TokenAddress = *u.TokenAddress
	}
	if u.UpdateFrequency != nil {
		b.UpdateFrequency = *u.UpdateFrequency
	}
	if u.Configuration != nil {
		b.Configuration = u.Configuration
	}
	if u.ChannelID != nil {
		b.ChannelID = *u.ChannelID
	}
	if u.EncryptedToken != nil {
		b.EncryptedToken = *u.EncryptedToken
	}
	if u.LastValue != nil {
		b.LastValue = *u.LastValue
	}
	if u.LastUpdated != nil {
		t := *u.LastUpdated
		b.LastUpdated = &t
	}
	if u.SubscriptionItemID != nil {
		b.SubscriptionItemID = *u.SubscriptionItemID
	}
}

// StatusUpdate is shorthand for a status-only update.
func StatusUpdate(s BotStatus) BotUpdate {
	return BotUpdate{Status: &s}
}

// PriceKey identifies the billing price for a bot: "<type>_<frequency>".
func PriceKey(t BotType, f UpdateFrequency) string {
	return string(t) + "_" + string(f)
}
