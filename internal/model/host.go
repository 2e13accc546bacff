package model

import "time"

// The types below are read from the membership host.  This service
// never owns them; it only reads them and writes back the membership
// level through the host API.

// Level is a membership level defined on the host.
type Level struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// MemberLevel is a level currently held by a member.  EndDate is nil for
// levels that never expire.
type MemberLevel struct {
	UserID  uint64     `json:"user_id"`
	LevelID uint64     `json:"level_id"`
	EndDate *time.Time `json:"enddate,omitempty"`
}

// Order is a single billing transaction.  SubscriptionID is zero when the
// order does not belong to a recurring subscription.
type Order struct {
	ID             uint64 `json:"id"`
	UserID         uint64 `json:"user_id"`
	MembershipID   uint64 `json:"membership_id"`
	SubscriptionID uint64 `json:"subscription_id,omitempty"`
	Status         string `json:"status,omitempty"`
}

// Subscription is a recurring billing arrangement owning a sequence of
// orders.
type Subscription struct {
	ID                uint64     `json:"id"`
	UserID            uint64     `json:"user_id"`
	MembershipLevelID uint64     `json:"membership_level_id"`
	NextPaymentDate   *time.Time `json:"next_payment_date,omitempty"`
}

// User is a host account.
type User struct {
	ID          uint64 `json:"id"`
	Email       string `json:"user_email"`
	DisplayName string `json:"display_name"`
}
