// Package clienttest provides an in-memory client.Service for tests.
package clienttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Call records one invocation of the fake.
type Call struct {
	Method string
	Args   []interface{}
}

// Fake serves a single subscription from memory. Any of the *Func hooks may
// be set to override the default behaviour of the matching method.
type Fake struct {
	mu           sync.Mutex
	Subscription *models.Subscription
	Deliveries   []models.Delivery
	Calls        []Call

	SubscriptionErr error
	CalendarFunc    func(ctx context.Context, subscriptionID string, year, month int) (client.CalendarPayload, error)
	SlotFunc        func(subscriptionID, date string, slot models.Slot) (models.Result, error)
	RescheduleFunc  func(subscriptionID, fromDate, toDate string, slot models.Slot) (models.Result, error)
	BulkFunc        func(subscriptionID string, fromDates []string, start string, slot models.Slot) (models.Result, error)
	ConfirmFunc     func(subscriptionID, date string) (models.Result, error)
	AvailableFunc   func(subscriptionID, anchor string, slot models.Slot, days int) (models.Availability, error)
}

func (f *Fake) record(method string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: method, Args: args})
}

// CallsTo returns the recorded calls of one method.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// SetDelivery replaces the stored delivery with the same date.
func (f *Fake) SetDelivery(d models.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Deliveries {
		if utils.SameDay(f.Deliveries[i].Date, d.Date) {
			f.Deliveries[i] = d
			return
		}
	}
	f.Deliveries = append(f.Deliveries, d)
}

func (f *Fake) GetMySubscription(ctx context.Context) (*models.Subscription, error) {
	f.record("GetMySubscription")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscriptionErr != nil {
		return nil, f.SubscriptionErr
	}
	if f.Subscription == nil {
		return nil, nil
	}
	sub := f.Subscription.Clone()
	return &sub, nil
}

func (f *Fake) GetDeliveryCalendar(ctx context.Context, subscriptionID string, year int, month int) (client.CalendarPayload, error) {
	f.record("GetDeliveryCalendar", subscriptionID, year, month)
	if f.CalendarFunc != nil {
		return f.CalendarFunc(ctx, subscriptionID, year, month)
	}
	prefix := fmt.Sprintf("%04d-%02d-", year, month)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Delivery
	for _, d := range f.Deliveries {
		if len(utils.DateKey(d.Date)) == 10 && utils.DateKey(d.Date)[:8] == prefix {
			out = append(out, d.Clone())
		}
	}
	return client.NewCalendarPayload(out), nil
}

func (f *Fake) ChangeDeliverySlot(ctx context.Context, subscriptionID, date string, newSlot models.Slot) (models.Result, error) {
	f.record("ChangeDeliverySlot", subscriptionID, date, newSlot)
	if f.SlotFunc != nil {
		return f.SlotFunc(subscriptionID, date, newSlot)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Deliveries {
		if utils.SameDay(f.Deliveries[i].Date, date) {
			f.Deliveries[i].Slot = newSlot
			return models.Result{Success: true, Message: "Delivery slot updated"}, nil
		}
	}
	return models.Result{}, client.NewServerError(404, "not_found", "No delivery on that date")
}

func (f *Fake) RescheduleDelivery(ctx context.Context, subscriptionID, fromDate, toDate string, newSlot models.Slot) (models.Result, error) {
	f.record("RescheduleDelivery", subscriptionID, fromDate, toDate, newSlot)
	if f.RescheduleFunc != nil {
		return f.RescheduleFunc(subscriptionID, fromDate, toDate, newSlot)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Deliveries {
		if utils.SameDay(f.Deliveries[i].Date, fromDate) {
			f.Deliveries[i].Date = utils.DateKey(toDate)
			f.Deliveries[i].Slot = newSlot
			return models.Result{Success: true, Message: "Delivery rescheduled"}, nil
		}
	}
	return models.Result{}, client.NewServerError(404, "not_found", "No delivery on that date")
}

func (f *Fake) RescheduleMultipleDeliveries(ctx context.Context, subscriptionID string, fromDates []string, newStartDate string, newSlot models.Slot) (models.Result, error) {
	f.record("RescheduleMultipleDeliveries", subscriptionID, append([]string(nil), fromDates...), newStartDate, newSlot)
	if f.BulkFunc != nil {
		return f.BulkFunc(subscriptionID, fromDates, newStartDate, newSlot)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for n, from := range fromDates {
		to, err := utils.AddDays(newStartDate, n)
		if err != nil {
			return models.Result{}, err
		}
		for i := range f.Deliveries {
			if utils.SameDay(f.Deliveries[i].Date, from) {
				f.Deliveries[i].Date = to
				f.Deliveries[i].Slot = newSlot
			}
		}
	}
	return models.Result{Success: true, Message: fmt.Sprintf("%d deliveries rescheduled", len(fromDates))}, nil
}

func (f *Fake) ConfirmDelivery(ctx context.Context, subscriptionID, date string) (models.Result, error) {
	f.record("ConfirmDelivery", subscriptionID, date)
	if f.ConfirmFunc != nil {
		return f.ConfirmFunc(subscriptionID, date)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Deliveries {
		if !utils.SameDay(f.Deliveries[i].Date, date) {
			continue
		}
		if f.Deliveries[i].Status != models.DeliveryAwaitingCustomer {
			return models.Result{}, client.NewServerError(409, "confirmation_rejected", "Delivery is not awaiting confirmation")
		}
		f.Deliveries[i].Status = models.DeliveryDelivered
		return models.Result{Success: true, Message: "Delivery confirmed"}, nil
	}
	return models.Result{}, client.NewServerError(404, "not_found", "No delivery on that date")
}

func (f *Fake) GetAvailableRescheduleDates(ctx context.Context, subscriptionID, anchorDate string, slot models.Slot, consecutiveDays int) (models.Availability, error) {
	f.record("GetAvailableRescheduleDates", subscriptionID, anchorDate, slot, consecutiveDays)
	if f.AvailableFunc != nil {
		return f.AvailableFunc(subscriptionID, anchorDate, slot, consecutiveDays)
	}
	var out models.Availability
	for i := 1; i <= 3; i++ {
		d, err := utils.AddDays(anchorDate, 20+i)
		if err != nil {
			return models.Availability{}, err
		}
		t, _ := utils.ParseDate(d, time.UTC)
		out.AvailableDates = append(out.AvailableDates, models.AvailableDate{Date: d, Slot: slot, Weekday: t.Weekday().String()})
	}
	return out, nil
}

var _ client.Service = (*Fake)(nil)
