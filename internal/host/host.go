// Package host declares the membership platform operations this service
// consumes.  The platform owns orders, subscriptions, levels, users and
// checkout completion; implementations live in internal/clients.
package host

import (
	"context"
	"errors"

	"github.com/iliyamo/membership-downgrades/internal/model"
)

// ErrNotFound is returned by lookups when the host has no such record.
var ErrNotFound = errors.New("host: not found")

// Orders reads and writes billing records.
type Orders interface {
	GetOrder(ctx context.Context, id uint64) (model.Order, error)
	// GetSubscription returns the subscription owning order, or
	// ErrNotFound when the order is not part of one.
	GetSubscription(ctx context.Context, order model.Order) (model.Subscription, error)
	ListSubscriptionOrders(ctx context.Context, subscriptionID uint64) ([]model.Order, error)
	SaveOrder(ctx context.Context, order model.Order) error
	SaveSubscription(ctx context.Context, sub model.Subscription) error
}

// Checkout completes checkouts outside of an interactive session.
type Checkout interface {
	// CheckoutLevel re-derives the level the checkout stored on order
	// would grant.  ErrNotFound means the payload has no usable level.
	CheckoutLevel(ctx context.Context, order model.Order) (model.Level, error)
	CompleteAsyncCheckout(ctx context.Context, order model.Order) error
	// SuppressCheckoutEmails stops "checkout completed" emails until the
	// returned restore func is called.
	SuppressCheckoutEmails() (restore func())
}

// Users is the host user directory.
type Users interface {
	GetUser(ctx context.Context, id uint64) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
}

// Levels resolves membership levels.
type Levels interface {
	GetLevel(ctx context.Context, id uint64) (model.Level, error)
	// GetMemberLevel returns the level a member currently holds, or
	// ErrNotFound if the member does not hold it.
	GetMemberLevel(ctx context.Context, userID, levelID uint64) (model.MemberLevel, error)
}

// Platform bundles every collaborator.
type Platform interface {
	Orders
	Checkout
	Users
	Levels
}
