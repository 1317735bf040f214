package storage

import (
	"errors"

	"github.com/julianstephens/milkrun/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a write that would break a uniqueness rule, such as
	// two deliveries on one date.
	ErrConflict = errors.New("conflict")
)

// Move relocates the delivery on From to To, with the given slot. A non-empty
// Status replaces the delivery's status in the same write.
type Move struct {
	From   string
	To     string
	Slot   models.Slot
	Status models.DeliveryStatus
}

// Compensation turns the delivery on Date into a concession, adds its
// replacement and extends the subscription to NewEndDate, atomically.
type Compensation struct {
	SubscriptionID string
	Date           string
	NewEndDate     string
	Replacement    models.Delivery
}

// StatusChange sets a subscription's status together with the statuses of
// some of its deliveries, keyed by date.
type StatusChange struct {
	SubscriptionID string
	Status         models.SubscriptionStatus
	Deliveries     map[string]models.DeliveryStatus
}

type Provider interface {
	// Lifecycle
	Init() error
	Load() error
	Close() error
	GetConfigPath() string

	// Settings
	GetSettings() (models.Settings, error)
	SaveSettings(models.Settings) error

	// Subscriptions
	AddSubscription(models.Subscription) error
	GetSubscription(id string) (models.Subscription, error)
	// GetActiveSubscription returns the customer's active or expiring
	// subscription, or ErrNotFound.
	GetActiveSubscription(customerID string) (models.Subscription, error)
	ListSubscriptions(customerID string) ([]models.Subscription, error)
	UpdateSubscription(models.Subscription) error
	// ChangeStatus applies a StatusChange in one transaction.
	ChangeStatus(StatusChange) error

	// Deliveries
	AddDeliveries(subscriptionID string, deliveries []models.Delivery) error
	GetDelivery(subscriptionID, date string) (models.Delivery, error)
	// GetDeliveries returns deliveries dated within [from, to], ordered by date.
	// Empty bounds are open.
	GetDeliveries(subscriptionID, from, to string) ([]models.Delivery, error)
	UpdateDelivery(models.Delivery) error
	// MoveDeliveries applies all moves in one transaction; either every
	// delivery moves or none does.
	MoveDeliveries(subscriptionID string, moves []Move) error
	// MarkDelivered sets the delivery status to delivered and bumps the
	// delivered count of each product it carried.
	MarkDelivered(subscriptionID, date string) error
	Compensate(Compensation) error
}

// Migrator is implemented by stores backed by a versioned SQL schema.
type Migrator interface {
	Migrate(logFn func(string)) (int, error)
	SchemaVersions() (current int, latest int, err error)
}
