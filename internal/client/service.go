// Package client defines the delivery service contract consumed by the
// session and the reschedule coordinator, along with an HTTP implementation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julianstephens/milkrun/internal/models"
)

// Service is the delivery collaborator. Dates are YYYY-MM-DD; implementations
// must accept full ISO timestamps and compare on the date-only key.
type Service interface {
	// GetMySubscription returns the caller's active subscription, or nil
	// with a nil error when there is none.
	GetMySubscription(ctx context.Context) (*models.Subscription, error)
	GetDeliveryCalendar(ctx context.Context, subscriptionID string, year int, month int) (CalendarPayload, error)
	ChangeDeliverySlot(ctx context.Context, subscriptionID, date string, newSlot models.Slot) (models.Result, error)
	RescheduleDelivery(ctx context.Context, subscriptionID, fromDate, toDate string, newSlot models.Slot) (models.Result, error)
	RescheduleMultipleDeliveries(ctx context.Context, subscriptionID string, fromDates []string, newStartDate string, newSlot models.Slot) (models.Result, error)
	ConfirmDelivery(ctx context.Context, subscriptionID, date string) (models.Result, error)
	GetAvailableRescheduleDates(ctx context.Context, subscriptionID, anchorDate string, slot models.Slot, consecutiveDays int) (models.Availability, error)
}

// ServerError is a decline returned by the service. Message is meant for the
// user and is passed through unchanged.
type ServerError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error %d (%s)", e.Status, e.Code)
	}
	return e.Message
}

// NewServerError builds a decline with the HTTP status that best fits code.
func NewServerError(status int, code, message string) *ServerError {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return &ServerError{Status: status, Code: code, Message: message}
}

// CalendarPayload is the month of deliveries returned by GetDeliveryCalendar.
// On the wire it may be a bare array or an object keyed by "deliveries" or
// "data"; all three decode to the same list.
type CalendarPayload struct {
	items []models.Delivery
}

// NewCalendarPayload wraps a list of deliveries.
func NewCalendarPayload(deliveries []models.Delivery) CalendarPayload {
	return CalendarPayload{items: deliveries}
}

// Deliveries returns a copy of the decoded list. It is never nil.
func (p CalendarPayload) Deliveries() []models.Delivery {
	if len(p.items) == 0 {
		return []models.Delivery{}
	}
	return models.CloneDeliveries(p.items)
}

// Len returns the number of deliveries in the payload.
func (p CalendarPayload) Len() int {
	return len(p.items)
}

func (p CalendarPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Deliveries []models.Delivery `json:"deliveries"`
	}{Deliveries: p.Deliveries()})
}

func (p *CalendarPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		p.items = nil
		return nil
	}

	switch data[0] {
	case '[':
		var items []models.Delivery
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decoding calendar array: %w", err)
		}
		p.items = items
		return nil
	case '{':
		var wrapped struct {
			Deliveries json.RawMessage `json:"deliveries"`
			Data       json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return fmt.Errorf("decoding calendar object: %w", err)
		}
		// A present key holding null is an empty month.
		raw := wrapped.Deliveries
		if raw == nil {
			raw = wrapped.Data
		}
		if raw == nil {
			return fmt.Errorf("calendar payload has neither deliveries nor data")
		}
		var items []models.Delivery
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("decoding calendar deliveries: %w", err)
		}
		if items == nil {
			items = []models.Delivery{}
		}
		p.items = items
		return nil
	default:
		return fmt.Errorf("unexpected calendar payload starting with %q", data[0])
	}
}

type customerKey struct{}

// WithCustomer attaches the customer identity that service calls act for.
func WithCustomer(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, customerKey{}, customerID)
}

// CustomerFrom returns the customer identity attached to ctx, if any.
func CustomerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerKey{}).(string)
	return id, ok && id != ""
}
