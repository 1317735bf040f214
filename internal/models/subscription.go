package models

import (
	"fmt"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCompleted SubscriptionStatus = "completed"
	SubscriptionExpiring  SubscriptionStatus = "expiring"
)

type Slot string

const (
	SlotMorning Slot = "morning"
	SlotEvening Slot = "evening"
)

// Valid reports whether the slot is one of the known delivery windows.
func (s Slot) Valid() bool {
	return s == SlotMorning || s == SlotEvening
}

type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCOD    PaymentMethod = "cod"
)

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyAlternate Frequency = "alternate"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
)

// Valid reports whether the frequency is supported by the scheduler.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyAlternate, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

type SubscriptionProduct struct {
	ProductID         string    `json:"productId"`
	Name              string    `json:"name"`
	QuantityValue     float64   `json:"quantityValue"`
	QuantityUnit      string    `json:"quantityUnit"`
	DeliveryFrequency Frequency `json:"deliveryFrequency"`
	MaxDeliveries     int       `json:"maxDeliveries"`
	DeliveredCount    int       `json:"deliveredCount"`
}

// RemainingDeliveries is clamped at zero so a server that over-delivers never
// produces a negative balance.
func (p SubscriptionProduct) RemainingDeliveries() int {
	remaining := p.MaxDeliveries - p.DeliveredCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p SubscriptionProduct) Validate() error {
	if p.ProductID == "" {
		return fmt.Errorf("product id cannot be empty")
	}
	if !p.DeliveryFrequency.Valid() {
		return fmt.Errorf("product %s: unsupported delivery frequency %q", p.ProductID, p.DeliveryFrequency)
	}
	if p.MaxDeliveries < 0 {
		return fmt.Errorf("product %s: max deliveries cannot be negative", p.ProductID)
	}
	if p.DeliveredCount > p.MaxDeliveries {
		return fmt.Errorf("product %s: delivered count %d exceeds max deliveries %d", p.ProductID, p.DeliveredCount, p.MaxDeliveries)
	}
	return nil
}

type Subscription struct {
	ID             string                `json:"id"`
	SubscriptionID string                `json:"subscriptionId"`
	CustomerID     string                `json:"customerId"`
	Status         SubscriptionStatus    `json:"status"`
	StartDate      string                `json:"startDate"` // YYYY-MM-DD format
	EndDate        string                `json:"endDate"`   // YYYY-MM-DD format
	Slot           Slot                  `json:"slot"`
	PaymentMethod  PaymentMethod         `json:"paymentMethod"`
	Products       []SubscriptionProduct `json:"products"`
	Deliveries     []Delivery            `json:"deliveries,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
}

func (s *Subscription) Validate() error {
	if s.CustomerID == "" {
		return fmt.Errorf("subscription customer cannot be empty")
	}
	start, err := time.Parse("2006-01-02", s.StartDate)
	if err != nil {
		return fmt.Errorf("invalid start date (expected YYYY-MM-DD): %w", err)
	}
	end, err := time.Parse("2006-01-02", s.EndDate)
	if err != nil {
		return fmt.Errorf("invalid end date (expected YYYY-MM-DD): %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", s.EndDate, s.StartDate)
	}
	if !s.Slot.Valid() {
		return fmt.Errorf("invalid slot %q", s.Slot)
	}
	if len(s.Products) == 0 {
		return fmt.Errorf("subscription must contain at least one product")
	}
	for _, p := range s.Products {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Product returns the subscription product with the given id.
func (s *Subscription) Product(productID string) (SubscriptionProduct, bool) {
	for _, p := range s.Products {
		if p.ProductID == productID {
			return p, true
		}
	}
	return SubscriptionProduct{}, false
}

// IsActive reports whether the subscription still produces deliveries.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionExpiring
}
