// Package service is the local delivery backend: it implements client.Service
// over a storage.Provider and owns the server-side rules (materialization,
// availability, lifecycle transitions and compensation).
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/scheduler"
	"github.com/julianstephens/milkrun/internal/storage"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Local serves deliveries from a storage provider. Mutations are serialized
// per process.
type Local struct {
	mu              sync.Mutex
	store           storage.Provider
	sched           *scheduler.Scheduler
	clock           utils.Clock
	defaultCustomer string
}

var _ client.Service = (*Local)(nil)

type Option func(*Local)

// WithClock pins the backend's notion of now.
func WithClock(c utils.Clock) Option {
	return func(l *Local) { l.clock = c }
}

// WithDefaultCustomer sets the customer used when the context carries none.
func WithDefaultCustomer(id string) Option {
	return func(l *Local) { l.defaultCustomer = id }
}

func New(store storage.Provider, opts ...Option) *Local {
	l := &Local{
		store: store,
		sched: scheduler.New(),
		clock: utils.SystemClock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func decline(status int, code, format string, args ...interface{}) *client.ServerError {
	return client.NewServerError(status, code, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...interface{}) *client.ServerError {
	return decline(http.StatusBadRequest, constants.CodeValidation, format, args...)
}

func unavailable(format string, args ...interface{}) *client.ServerError {
	return decline(http.StatusConflict, constants.CodeUnavailableDate, format, args...)
}

// storageError turns storage sentinels into declines and passes anything
// else through.
func storageError(err error, what string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return decline(http.StatusNotFound, constants.CodeNotFound, "%s was not found.", what)
	case errors.Is(err, storage.ErrConflict):
		return decline(http.StatusConflict, constants.CodeConflict, "%s conflicts with an existing record.", what)
	}
	return err
}

func (l *Local) customer(ctx context.Context) (string, error) {
	if id, ok := client.CustomerFrom(ctx); ok {
		return id, nil
	}
	if l.defaultCustomer != "" {
		return l.defaultCustomer, nil
	}
	return "", decline(http.StatusUnauthorized, constants.CodeMissingCustomer, "A customer id is required.")
}

// owned loads a subscription and checks it belongs to the calling customer.
// Foreign subscriptions are reported as missing.
func (l *Local) owned(ctx context.Context, subscriptionID string) (models.Subscription, error) {
	customer, err := l.customer(ctx)
	if err != nil {
		return models.Subscription{}, err
	}
	sub, err := l.store.GetSubscription(subscriptionID)
	if err != nil {
		return models.Subscription{}, storageError(err, "Subscription")
	}
	if sub.CustomerID != customer {
		return models.Subscription{}, decline(http.StatusNotFound, constants.CodeNotFound, "Subscription was not found.")
	}
	return sub, nil
}

func (l *Local) settings() models.Settings {
	settings, err := l.store.GetSettings()
	if err != nil {
		logger.Warn("Falling back to default settings", "error", err)
		return models.DefaultSettings()
	}
	return settings
}

// today is the current day in the configured timezone.
func (l *Local) today(settings models.Settings) string {
	now := time.Now()
	if l.clock != nil {
		now = l.clock()
	}
	if loc, err := utils.LoadLocation(settings.Timezone); err == nil {
		now = now.In(loc)
	}
	return utils.DateKeyOf(now)
}

func (l *Local) delivery(sub models.Subscription, date string) (models.Delivery, error) {
	if !utils.ValidDate(date) {
		return models.Delivery{}, invalid("%q is not a valid date.", date)
	}
	d, err := l.store.GetDelivery(sub.ID, date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Delivery{}, decline(http.StatusNotFound, constants.CodeNotFound, "There is no delivery on %s.", utils.DateKey(date))
		}
		return models.Delivery{}, err
	}
	return d, nil
}

func (l *Local) GetMySubscription(ctx context.Context) (*models.Subscription, error) {
	customer, err := l.customer(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := l.store.GetActiveSubscription(customer)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	return &sub, nil
}

func (l *Local) GetDeliveryCalendar(ctx context.Context, subscriptionID string, year int, month int) (client.CalendarPayload, error) {
	if month < 1 || month > 12 {
		return client.CalendarPayload{}, invalid("Month %d is out of range.", month)
	}
	sub, err := l.owned(ctx, subscriptionID)
	if err != nil {
		return client.CalendarPayload{}, err
	}
	first, last := utils.MonthRange(year, time.Month(month))
	deliveries, err := l.store.GetDeliveries(sub.ID, first, last)
	if err != nil {
		return client.CalendarPayload{}, fmt.Errorf("loading calendar: %w", err)
	}
	return client.NewCalendarPayload(deliveries), nil
}

func (l *Local) ChangeDeliverySlot(ctx context.Context, subscriptionID, date string, newSlot models.Slot) (models.Result, error) {
	if !newSlot.Valid() {
		return models.Result{}, invalid("%q is not a delivery slot.", newSlot)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.owned(ctx, subscriptionID)
	if err != nil {
		return models.Result{}, err
	}
	d, err := l.delivery(sub, date)
	if err != nil {
		return models.Result{}, err
	}
	if utils.IsPast(d.Date, l.today(l.settings())) {
		return models.Result{}, decline(http.StatusConflict, constants.CodeInvalidTransition, "Past deliveries cannot be changed.")
	}
	tr, ok := models.TransitionFor(d.Status, models.EventSlotChange)
	if !ok {
		return models.Result{}, decline(http.StatusConflict, constants.CodeInvalidTransition, "A %s delivery cannot change slot.", d.Status)
	}
	if d.Slot == newSlot {
		return models.Result{Success: true, Message: fmt.Sprintf("Delivery is already in the %s slot.", newSlot)}, nil
	}

	d.Slot = newSlot
	d.Status = tr.To
	if err := l.store.UpdateDelivery(d); err != nil {
		return models.Result{}, storageError(err, "Delivery")
	}
	logger.Info("Delivery slot changed", "subscription", sub.ID, "date", d.Date, "slot", newSlot)
	return models.Result{Success: true, Message: fmt.Sprintf("Delivery on %s moved to the %s slot.", d.Date, newSlot)}, nil
}

// window returns the move window and every delivery of the subscription.
func (l *Local) window(sub models.Subscription) (scheduler.Window, []models.Delivery, error) {
	settings := l.settings()
	w, err := scheduler.WindowFor(sub, l.today(settings), settings.RescheduleHorizonDays)
	if err != nil {
		return scheduler.Window{}, nil, err
	}
	all, err := l.store.GetDeliveries(sub.ID, "", "")
	if err != nil {
		return scheduler.Window{}, nil, fmt.Errorf("loading deliveries: %w", err)
	}
	return w, all, nil
}

// movable checks that d may be rescheduled today and returns the status it
// takes after the move.
func movable(d models.Delivery, today string) (models.DeliveryStatus, error) {
	if d.Concession || d.Status == models.DeliveryConcession {
		return "", decline(http.StatusConflict, constants.CodeInvalidTransition, "Compensated deliveries cannot be rescheduled.")
	}
	if utils.IsPast(d.Date, today) {
		return "", decline(http.StatusConflict, constants.CodeInvalidTransition, "The delivery on %s is in the past.", d.Date)
	}
	tr, ok := models.TransitionFor(d.Status, models.EventReschedule)
	if !ok {
		return "", decline(http.StatusConflict, constants.CodeInvalidTransition, "A %s delivery cannot be rescheduled.", d.Status)
	}
	return tr.To, nil
}

func (l *Local) RescheduleDelivery(ctx context.Context, subscriptionID, fromDate, toDate string, newSlot models.Slot) (models.Result, error) {
	if !utils.ValidDate(toDate) {
		return models.Result{}, invalid("%q is not a valid date.", toDate)
	}
	if newSlot != "" && !newSlot.Valid() {
		return models.Result{}, invalid("%q is not a delivery slot.", newSlot)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.owned(ctx, subscriptionID)
	if err != nil {
		return models.Result{}, err
	}
	d, err := l.delivery(sub, fromDate)
	if err != nil {
		return models.Result{}, err
	}
	w, all, err := l.window(sub)
	if err != nil {
		return models.Result{}, err
	}
	status, err := movable(d, w.Today)
	if err != nil {
		return models.Result{}, err
	}

	to := utils.DateKey(toDate)
	if !w.Contains(to) {
		return models.Result{}, unavailable("%s is outside the reschedule window (%s to %s).", to, w.Today, w.Last)
	}
	for _, other := range all {
		if utils.SameDay(other.Date, to) && other.ID != d.ID {
			return models.Result{}, unavailable("%s already has a delivery.", to)
		}
	}
	if newSlot == "" {
		newSlot = d.Slot
	}

	if err := l.store.MoveDeliveries(sub.ID, []storage.Move{{From: d.Date, To: to, Slot: newSlot, Status: status}}); err != nil {
		return models.Result{}, storageError(err, "Delivery on "+to)
	}
	logger.Info("Delivery rescheduled", "subscription", sub.ID, "from", d.Date, "to", to, "slot", newSlot)
	return models.Result{Success: true, Message: fmt.Sprintf("Delivery moved from %s to %s.", d.Date, to)}, nil
}

func (l *Local) RescheduleMultipleDeliveries(ctx context.Context, subscriptionID string, fromDates []string, newStartDate string, newSlot models.Slot) (models.Result, error) {
	dates := make([]string, 0, len(fromDates))
	seen := make(map[string]bool, len(fromDates))
	for _, f := range fromDates {
		key := utils.DateKey(f)
		if !utils.ValidDate(key) {
			return models.Result{}, invalid("%q is not a valid date.", f)
		}
		if !seen[key] {
			seen[key] = true
			dates = append(dates, key)
		}
	}
	sort.Strings(dates)
	if len(dates) == 0 {
		return models.Result{}, invalid("Select at least one delivery to move.")
	}
	if len(dates) > constants.MaxConsecutiveDays {
		return models.Result{}, invalid("At most %d deliveries can be moved at once.", constants.MaxConsecutiveDays)
	}
	if !utils.ValidDate(newStartDate) {
		return models.Result{}, invalid("%q is not a valid start date.", newStartDate)
	}
	if newSlot != "" && !newSlot.Valid() {
		return models.Result{}, invalid("%q is not a delivery slot.", newSlot)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.owned(ctx, subscriptionID)
	if err != nil {
		return models.Result{}, err
	}
	w, all, err := l.window(sub)
	if err != nil {
		return models.Result{}, err
	}

	byDate := make(map[string]models.Delivery, len(all))
	for _, d := range all {
		byDate[utils.DateKey(d.Date)] = d
	}

	statuses := make(map[string]models.DeliveryStatus, len(dates))
	for _, date := range dates {
		d, ok := byDate[date]
		if !ok {
			return models.Result{}, decline(http.StatusNotFound, constants.CodeNotFound, "There is no delivery on %s.", date)
		}
		status, err := movable(d, w.Today)
		if err != nil {
			return models.Result{}, err
		}
		statuses[date] = status
	}

	plan, err := l.sched.PlanBlock(all, dates, newStartDate, w)
	if err != nil {
		return models.Result{}, unavailable("%s.", err.Error())
	}

	moves := make([]storage.Move, 0, len(dates))
	for _, date := range dates {
		slot := newSlot
		if slot == "" {
			slot = byDate[date].Slot
		}
		moves = append(moves, storage.Move{From: date, To: plan[date], Slot: slot, Status: statuses[date]})
	}
	if err := l.store.MoveDeliveries(sub.ID, moves); err != nil {
		return models.Result{}, storageError(err, "Delivery block")
	}

	start := utils.DateKey(newStartDate)
	logger.Info("Deliveries rescheduled", "subscription", sub.ID, "count", len(moves), "start", start)
	return models.Result{Success: true, Message: fmt.Sprintf("Moved %d deliveries starting %s.", len(moves), start)}, nil
}

func (l *Local) ConfirmDelivery(ctx context.Context, subscriptionID, date string) (models.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.owned(ctx, subscriptionID)
	if err != nil {
		return models.Result{}, err
	}
	d, err := l.delivery(sub, date)
	if err != nil {
		return models.Result{}, err
	}
	if d.Status != models.DeliveryAwaitingCustomer {
		return models.Result{}, decline(http.StatusConflict, constants.CodeConfirmationRejected, "Delivery is not awaiting confirmation")
	}
	if !utils.SameDay(d.Date, l.today(l.settings())) {
		return models.Result{}, decline(http.StatusConflict, constants.CodeConfirmationRejected, "Only today's delivery can be confirmed.")
	}

	if err := l.store.MarkDelivered(sub.ID, d.Date); err != nil {
		return models.Result{}, storageError(err, "Delivery")
	}
	logger.Info("Delivery confirmed", "subscription", sub.ID, "date", d.Date)
	return models.Result{Success: true, Message: "Delivery confirmed. Thank you!"}, nil
}

func (l *Local) GetAvailableRescheduleDates(ctx context.Context, subscriptionID, anchorDate string, slot models.Slot, consecutiveDays int) (models.Availability, error) {
	if !utils.ValidDate(anchorDate) {
		return models.Availability{}, invalid("%q is not a valid date.", anchorDate)
	}
	if consecutiveDays < 1 || consecutiveDays > constants.MaxConsecutiveDays {
		return models.Availability{}, invalid("Consecutive days must be between 1 and %d.", constants.MaxConsecutiveDays)
	}
	if slot == "" {
		slot = l.settings().DefaultSlot
	}
	if !slot.Valid() {
		return models.Availability{}, invalid("%q is not a delivery slot.", slot)
	}

	sub, err := l.owned(ctx, subscriptionID)
	if err != nil {
		return models.Availability{}, err
	}
	w, all, err := l.window(sub)
	if err != nil {
		return models.Availability{}, err
	}
	dates, err := l.sched.AvailableDates(all, anchorDate, slot, consecutiveDays, w)
	if err != nil {
		return models.Availability{}, err
	}
	if dates == nil {
		dates = []models.AvailableDate{}
	}
	return models.Availability{AvailableDates: dates}, nil
}
