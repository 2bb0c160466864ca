package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

type User struct {
	ID                 int64              `json:"id"`
	DiscordID          string             `json:"discordId"`
	Username           string             `json:"username"`
	Email              string             `json:"email,omitempty"`
	StripeCustomerID   string             `json:"stripeCustomerId,omitempty"`
	SubscriptionID     string             `json:"subscriptionId,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	IsAdmin            bool               `json:"isAdmin"`
	CreatedAt          time.Time          `json:"createdAt"`
}

type UserUpdate struct {
	Email              *string
	StripeCustomerID   *string
	SubscriptionID     *string
	SubscriptionStatus *SubscriptionStatus
}

func (u UserUpdate) Apply(user *User) {
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.StripeCustomerID != nil {
		user.StripeCustomerID = *u.StripeCustomerID
	}
	if u.SubscriptionID != nil {
		user.SubscriptionID = *u.SubscriptionID
	}
	if u.SubscriptionStatus != nil {
		user.SubscriptionStatus = *u.SubscriptionStatus
	}
}
