package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/storage"
	"github.com/julianstephens/milkrun/internal/utils"
)

// NewSubscription describes a subscription to create for the calling customer.
type NewSubscription struct {
	StartDate     string
	EndDate       string
	Slot          models.Slot
	PaymentMethod models.PaymentMethod
	Products      []models.SubscriptionProduct
}

// CreateSubscription stores a new active subscription and materializes its
// deliveries over the whole term. A customer may hold only one active
// subscription.
func (l *Local) CreateSubscription(ctx context.Context, req NewSubscription) (models.Subscription, error) {
	customer, err := l.customer(ctx)
	if err != nil {
		return models.Subscription{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, err := l.store.GetActiveSubscription(customer); err == nil {
		return models.Subscription{}, decline(http.StatusConflict, constants.CodeConflict,
			"Customer already has an active subscription (%s).", existing.SubscriptionID)
	}

	id := uuid.New()
	sub := models.Subscription{
		ID:             id.String(),
		SubscriptionID: "SUB-" + strings.ToUpper(id.String()[:8]),
		CustomerID:     customer,
		Status:         models.SubscriptionActive,
		StartDate:      utils.DateKey(req.StartDate),
		EndDate:        utils.DateKey(req.EndDate),
		Slot:           req.Slot,
		PaymentMethod:  req.PaymentMethod,
		Products:       append([]models.SubscriptionProduct(nil), req.Products...),
		CreatedAt:      time.Now().UTC(),
	}
	if sub.Slot == "" {
		sub.Slot = l.settings().DefaultSlot
	}
	if sub.PaymentMethod == "" {
		sub.PaymentMethod = models.PaymentOnline
	}
	for i := range sub.Products {
		sub.Products[i].DeliveredCount = 0
	}
	if err := sub.Validate(); err != nil {
		return models.Subscription{}, invalid("%s", err.Error())
	}

	deliveries, err := l.sched.Materialize(sub, sub.StartDate, sub.EndDate, nil)
	if err != nil {
		return models.Subscription{}, err
	}
	if err := l.store.AddSubscription(sub); err != nil {
		return models.Subscription{}, storageError(err, "Subscription")
	}
	if err := l.store.AddDeliveries(sub.ID, deliveries); err != nil {
		return models.Subscription{}, storageError(err, "Delivery")
	}

	logger.Info("Subscription created", "subscription", sub.ID, "customer", customer, "deliveries", len(deliveries))
	return sub, nil
}

// Materialize fills [from, to] with deliveries for any due day that has none
// yet. It returns how many deliveries were added.
func (l *Local) Materialize(ctx context.Context, subscriptionID, from, to string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.store.GetSubscription(subscriptionID)
	if err != nil {
		return 0, storageError(err, "Subscription")
	}
	if !sub.IsActive() {
		return 0, decline(http.StatusConflict, constants.CodeInvalidTransition, "Subscription %s is %s.", sub.SubscriptionID, sub.Status)
	}
	existing, err := l.store.GetDeliveries(sub.ID, "", "")
	if err != nil {
		return 0, err
	}
	deliveries, err := l.sched.Materialize(sub, from, to, existing)
	if err != nil {
		return 0, invalid("%s", err.Error())
	}
	if len(deliveries) == 0 {
		return 0, nil
	}
	if err := l.store.AddDeliveries(sub.ID, deliveries); err != nil {
		return 0, storageError(err, "Delivery")
	}
	return len(deliveries), nil
}

// Advance applies a server-driven lifecycle event (dispatch, arrive,
// no-response) to the delivery on date.
func (l *Local) Advance(ctx context.Context, subscriptionID, date string, ev models.Event) (models.Delivery, error) {
	switch ev {
	case models.EventDispatch, models.EventArrive, models.EventNoResponse:
	default:
		return models.Delivery{}, invalid("%q is not a delivery event.", ev)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.store.GetSubscription(subscriptionID)
	if err != nil {
		return models.Delivery{}, storageError(err, "Subscription")
	}
	d, err := l.delivery(sub, date)
	if err != nil {
		return models.Delivery{}, err
	}
	tr, ok := models.TransitionFor(d.Status, ev)
	if !ok {
		return models.Delivery{}, decline(http.StatusConflict, constants.CodeInvalidTransition,
			"Cannot apply %s to a %s delivery.", ev, d.Status)
	}
	d.Status = tr.To
	if err := l.store.UpdateDelivery(d); err != nil {
		return models.Delivery{}, storageError(err, "Delivery")
	}
	logger.Info("Delivery advanced", "subscription", sub.ID, "date", d.Date, "event", ev, "status", d.Status)
	return d, nil
}

// Concession compensates the missed delivery on date: it becomes a
// concession, a replacement is scheduled on the first free day after the
// term, and the term grows by one day (or up to the replacement, if later).
func (l *Local) Concession(ctx context.Context, subscriptionID, date string) (models.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.store.GetSubscription(subscriptionID)
	if err != nil {
		return models.Delivery{}, storageError(err, "Subscription")
	}
	d, err := l.delivery(sub, date)
	if err != nil {
		return models.Delivery{}, err
	}
	if !models.CanTransition(d.Status, models.EventConcession) {
		return models.Delivery{}, decline(http.StatusConflict, constants.CodeInvalidTransition,
			"A %s delivery cannot be compensated.", d.Status)
	}

	all, err := l.store.GetDeliveries(sub.ID, "", "")
	if err != nil {
		return models.Delivery{}, err
	}
	replacementDate, err := l.sched.NextFree(all, sub.EndDate)
	if err != nil {
		return models.Delivery{}, err
	}
	newEnd, err := utils.AddDays(sub.EndDate, 1)
	if err != nil {
		return models.Delivery{}, err
	}
	if utils.CompareDates(replacementDate, newEnd) > 0 {
		newEnd = replacementDate
	}

	products := make([]models.DeliveryProduct, len(d.Products))
	for i, p := range d.Products {
		p.DeliveryStatus = ""
		products[i] = p
	}
	replacement := models.Delivery{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		Date:           replacementDate,
		Slot:           d.Slot,
		Status:         models.DeliveryScheduled,
		Products:       products,
	}

	err = l.store.Compensate(storage.Compensation{
		SubscriptionID: sub.ID,
		Date:           d.Date,
		NewEndDate:     newEnd,
		Replacement:    replacement,
	})
	if err != nil {
		return models.Delivery{}, storageError(err, "Replacement delivery")
	}
	logger.Info("Delivery compensated", "subscription", sub.ID, "date", d.Date, "replacement", replacementDate, "end", newEnd)
	return replacement, nil
}

// lifecycle moves a subscription to a new status and applies ev to every
// upcoming delivery that allows it. Past deliveries are left alone.
func (l *Local) lifecycle(subscriptionID string, from []models.SubscriptionStatus, to models.SubscriptionStatus, ev models.Event) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, err := l.store.GetSubscription(subscriptionID)
	if err != nil {
		return 0, storageError(err, "Subscription")
	}
	allowed := false
	for _, s := range from {
		if sub.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, decline(http.StatusConflict, constants.CodeInvalidTransition,
			"Subscription %s is %s.", sub.SubscriptionID, sub.Status)
	}

	tomorrow, err := utils.AddDays(l.today(l.settings()), 1)
	if err != nil {
		return 0, err
	}
	upcoming, err := l.store.GetDeliveries(sub.ID, tomorrow, "")
	if err != nil {
		return 0, err
	}

	change := storage.StatusChange{
		SubscriptionID: sub.ID,
		Status:         to,
		Deliveries:     make(map[string]models.DeliveryStatus),
	}
	for _, d := range upcoming {
		if tr, ok := models.TransitionFor(d.Status, ev); ok {
			change.Deliveries[utils.DateKey(d.Date)] = tr.To
		}
	}
	if err := l.store.ChangeStatus(change); err != nil {
		return 0, storageError(err, "Subscription")
	}
	changed := len(change.Deliveries)
	logger.Info("Subscription status changed", "subscription", sub.ID, "status", to, "deliveries", changed)
	return changed, nil
}

// Pause pauses an active subscription and its upcoming scheduled deliveries.
func (l *Local) Pause(ctx context.Context, subscriptionID string) (int, error) {
	return l.lifecycle(subscriptionID,
		[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionExpiring},
		models.SubscriptionPaused, models.EventPause)
}

// Resume reactivates a paused subscription and its upcoming paused deliveries.
func (l *Local) Resume(ctx context.Context, subscriptionID string) (int, error) {
	return l.lifecycle(subscriptionID,
		[]models.SubscriptionStatus{models.SubscriptionPaused},
		models.SubscriptionActive, models.EventResume)
}

// Cancel cancels a subscription and every upcoming delivery that allows it.
func (l *Local) Cancel(ctx context.Context, subscriptionID string) (int, error) {
	return l.lifecycle(subscriptionID,
		[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionExpiring, models.SubscriptionPaused, models.SubscriptionPending},
		models.SubscriptionCancelled, models.EventCancel)
}
