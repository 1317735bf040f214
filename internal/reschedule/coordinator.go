// Package reschedule mediates every change a customer can make to a
// delivery's date or slot, plus delivery confirmation. It validates locally,
// calls the delivery service once, and only then refreshes the session; it
// never edits session state itself.
package reschedule

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/julianstephens/milkrun/internal/calendar"
	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/errors"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/session"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Kind tells whether a mutation changed anything.
type Kind int

const (
	Applied Kind = iota + 1
	NoChange
)

func (k Kind) String() string {
	switch k {
	case Applied:
		return "applied"
	case NoChange:
		return "no-change"
	default:
		return "unknown"
	}
}

// Result is returned by every mutation. Snapshot is the session state after
// the post-mutation refresh.
type Result struct {
	Kind     Kind
	Message  string
	Snapshot session.Snapshot
}

type offerKey struct {
	from string
	slot models.Slot
	days int
}

// Coordinator runs one submission at a time.
type Coordinator struct {
	svc       client.Service
	session   *session.Session
	clock     utils.Clock
	Selection *Selection

	inFlight atomic.Bool

	mu      sync.Mutex
	offered map[offerKey][]models.AvailableDate
}

// New creates a coordinator. A nil clock uses the system clock.
func New(svc client.Service, sess *session.Session, clock utils.Clock) *Coordinator {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &Coordinator{
		svc:       svc,
		session:   sess,
		clock:     clock,
		Selection: &Selection{},
		offered:   make(map[offerKey][]models.AvailableDate),
	}
}

// Busy reports whether a submission is in flight. Screens use it to disable
// their submit controls.
func (c *Coordinator) Busy() bool {
	return c.inFlight.Load()
}

func (c *Coordinator) begin() error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return errors.ErrSubmissionInFlight
	}
	return nil
}

func (c *Coordinator) end() {
	c.inFlight.Store(false)
}

// Today is the coordinator's notion of the current day.
func (c *Coordinator) Today() string {
	return c.clock.Today()
}

// ChangeSlot moves the delivery on date to newSlot. Asking for the slot the
// delivery already has succeeds without calling the service.
func (c *Coordinator) ChangeSlot(ctx context.Context, subscriptionID, date string, newSlot models.Slot) (Result, error) {
	if err := c.begin(); err != nil {
		return Result{}, err
	}
	defer c.end()

	if !newSlot.Valid() {
		return Result{}, errors.Validationf("slot", "Choose a morning or evening slot.")
	}
	d, err := c.loadedDelivery(date)
	if err != nil {
		return Result{}, err
	}
	if d.Slot == newSlot {
		return Result{Kind: NoChange, Message: fmt.Sprintf("Delivery is already in the %s slot.", newSlot), Snapshot: c.session.Snapshot()}, nil
	}
	today := c.Today()
	if utils.IsPast(d.Date, today) {
		return Result{}, errors.Validationf("date", "Deliveries in the past cannot be changed.")
	}
	if d.Status.Terminal() || !models.CanTransition(d.Status, models.EventSlotChange) {
		return Result{}, errors.Validationf("status", "This delivery is %s and its slot can no longer be changed.", d.Status)
	}

	key := utils.DateKey(d.Date)
	logger.Info("changing delivery slot", "subscription", subscriptionID, "date", key, "from", d.Slot, "to", newSlot)
	res, err := c.svc.ChangeDeliverySlot(ctx, subscriptionID, key, newSlot)
	if err != nil {
		return Result{}, rejection("change slot", err)
	}
	return c.afterMutation(ctx, "change slot", res)
}

// AvailableDates asks the service where a delivery (or a block of
// consecutiveDays deliveries starting at anchorDate) may move. The answer is
// remembered and later moves must pick from it.
func (c *Coordinator) AvailableDates(ctx context.Context, subscriptionID, anchorDate string, slot models.Slot, consecutiveDays int) ([]models.AvailableDate, error) {
	anchor := utils.DateKey(anchorDate)
	if anchor == "" || !utils.ValidDate(anchor) {
		return nil, errors.Validationf("date", "Select a delivery to reschedule.")
	}
	if slot != "" && !slot.Valid() {
		return nil, errors.Validationf("slot", "Choose a morning or evening slot.")
	}
	if consecutiveDays < 1 {
		consecutiveDays = 1
	}
	if consecutiveDays > constants.MaxConsecutiveDays {
		return nil, errors.Validationf("dates", "At most %d deliveries can be moved at once.", constants.MaxConsecutiveDays)
	}

	av, err := c.svc.GetAvailableRescheduleDates(ctx, subscriptionID, anchor, slot, consecutiveDays)
	if err != nil {
		logger.Warn("availability query failed", "subscription", subscriptionID, "anchor", anchor, "error", err)
		var se *client.ServerError
		if stderrors.As(err, &se) {
			return nil, rejection("available dates", err)
		}
		return nil, &errors.FetchError{Resource: "available dates", Err: err}
	}

	dates := make([]models.AvailableDate, len(av.AvailableDates))
	for i, a := range av.AvailableDates {
		a.Date = utils.DateKey(a.Date)
		a.BlockEnd = utils.DateKey(a.BlockEnd)
		dates[i] = a
	}

	c.mu.Lock()
	c.offered[offerKey{from: anchor, slot: slot, days: consecutiveDays}] = dates
	c.mu.Unlock()
	return append([]models.AvailableDate(nil), dates...), nil
}

// BulkAvailability queries start dates for moving the deliveries on fromDates
// as one block, anchored at the earliest of them.
func (c *Coordinator) BulkAvailability(ctx context.Context, subscriptionID string, fromDates []string, slot models.Slot) ([]models.AvailableDate, error) {
	dates := normalizeDates(fromDates)
	if len(dates) == 0 {
		return nil, errors.Validationf("dates", "Select at least one delivery to move.")
	}
	return c.AvailableDates(ctx, subscriptionID, dates[0], slot, len(dates))
}

func (c *Coordinator) wasOffered(from string, slot models.Slot, days int, to string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dates, queried := c.offered[offerKey{from: from, slot: slot, days: days}]
	if !queried {
		return false, false
	}
	for _, a := range dates {
		if utils.SameDay(a.Date, to) {
			return true, true
		}
	}
	return false, true
}

func (c *Coordinator) forgetOffer(from string, slot models.Slot, days int) {
	c.mu.Lock()
	delete(c.offered, offerKey{from: from, slot: slot, days: days})
	c.mu.Unlock()
}

// RescheduleOne moves a single delivery. toDate must come from the last
// AvailableDates answer for (fromDate, toSlot).
func (c *Coordinator) RescheduleOne(ctx context.Context, subscriptionID, fromDate, toDate string, toSlot models.Slot) (Result, error) {
	if err := c.begin(); err != nil {
		return Result{}, err
	}
	defer c.end()

	if utils.DateKey(toDate) == "" {
		return Result{}, errors.Validationf("date", "Select a new delivery date.")
	}
	d, err := c.loadedDelivery(fromDate)
	if err != nil {
		return Result{}, err
	}
	if toSlot == "" {
		toSlot = d.Slot
	}
	if !toSlot.Valid() {
		return Result{}, errors.Validationf("slot", "Choose a morning or evening slot.")
	}
	if err := c.checkMovable(d); err != nil {
		return Result{}, err
	}

	from := utils.DateKey(d.Date)
	to := utils.DateKey(toDate)
	offered, queried := c.wasOffered(from, toSlot, 1, to)
	if !queried {
		return Result{}, errors.Validationf("date", "Check the available dates before rescheduling.")
	}
	if !offered {
		return Result{}, errors.Validationf("date", "%s is not one of the available dates.", to)
	}

	logger.Info("rescheduling delivery", "subscription", subscriptionID, "from", from, "to", to, "slot", toSlot)
	res, err := c.svc.RescheduleDelivery(ctx, subscriptionID, from, to, toSlot)
	if err != nil {
		return Result{}, rejection("reschedule", err)
	}
	c.forgetOffer(from, toSlot, 1)
	return c.afterMutation(ctx, "reschedule", res)
}

// RescheduleBulk moves the deliveries on fromDates to a block of the same
// length starting at newStartDate. The start must come from the last
// AvailableDates answer anchored at the earliest date. Selection mode ends
// when the move succeeds.
func (c *Coordinator) RescheduleBulk(ctx context.Context, subscriptionID string, fromDates []string, newStartDate string, newSlot models.Slot) (Result, error) {
	if err := c.begin(); err != nil {
		return Result{}, err
	}
	defer c.end()

	dates := normalizeDates(fromDates)
	if len(dates) == 0 {
		return Result{}, errors.Validationf("dates", "Select at least one delivery to move.")
	}
	if len(dates) > constants.MaxConsecutiveDays {
		return Result{}, errors.Validationf("dates", "At most %d deliveries can be moved at once.", constants.MaxConsecutiveDays)
	}
	start := utils.DateKey(newStartDate)
	if start == "" {
		return Result{}, errors.Validationf("date", "Select a new start date.")
	}
	if !newSlot.Valid() {
		return Result{}, errors.Validationf("slot", "Choose a morning or evening slot.")
	}
	for _, date := range dates {
		d, err := c.loadedDelivery(date)
		if err != nil {
			return Result{}, err
		}
		if err := c.checkMovable(d); err != nil {
			return Result{}, err
		}
	}

	offered, queried := c.wasOffered(dates[0], newSlot, len(dates), start)
	if !queried {
		return Result{}, errors.Validationf("date", "Check the available dates before rescheduling.")
	}
	if !offered {
		return Result{}, errors.Validationf("date", "%s is not one of the available start dates.", start)
	}

	logger.Info("rescheduling deliveries", "subscription", subscriptionID, "count", len(dates), "start", start, "slot", newSlot)
	res, err := c.svc.RescheduleMultipleDeliveries(ctx, subscriptionID, dates, start, newSlot)
	if err != nil {
		return Result{}, rejection("bulk reschedule", err)
	}
	c.forgetOffer(dates[0], newSlot, len(dates))
	if res.Success {
		c.Selection.Exit()
	}
	return c.afterMutation(ctx, "bulk reschedule", res)
}

// Confirm marks today's delivery as received. The control is offered for
// scheduled and reaching deliveries too, but the service only accepts a
// delivery awaiting the customer; its decline is a ConfirmationRejected.
func (c *Coordinator) Confirm(ctx context.Context, subscriptionID, date string) (Result, error) {
	if err := c.begin(); err != nil {
		return Result{}, err
	}
	defer c.end()

	today := c.Today()
	if !utils.SameDay(date, today) {
		return Result{}, errors.Validationf("date", "Only today's delivery can be confirmed.")
	}
	d, err := c.loadedDelivery(date)
	if err != nil {
		return Result{}, err
	}
	if !ConfirmOffered(&d, today) {
		return Result{}, errors.Validationf("status", "This delivery is %s and cannot be confirmed.", d.Status)
	}

	key := utils.DateKey(d.Date)
	logger.Info("confirming delivery", "subscription", subscriptionID, "date", key, "status", d.Status)
	res, err := c.svc.ConfirmDelivery(ctx, subscriptionID, key)
	if err != nil {
		var se *client.ServerError
		if stderrors.As(err, &se) && se.Code == constants.CodeConfirmationRejected {
			return Result{}, &errors.ConfirmationRejected{Date: key, Message: se.Error(), Err: err}
		}
		return Result{}, rejection("confirm", err)
	}
	if !res.Success {
		return Result{}, &errors.ConfirmationRejected{Date: key, Message: res.Message}
	}
	return c.afterMutation(ctx, "confirm", res)
}

// afterMutation refreshes the session. A refresh failure is reported with
// the Applied result: the change went through but the view is out of date.
func (c *Coordinator) afterMutation(ctx context.Context, op string, res models.Result) (Result, error) {
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "The change was not accepted."
		}
		return Result{}, &errors.MutationRejected{Op: op, Code: "declined", Message: msg}
	}
	if err := c.session.Refresh(ctx); err != nil {
		logger.Warn("refresh after mutation failed", "op", op, "error", err)
		return Result{Kind: Applied, Message: res.Message, Snapshot: c.session.Snapshot()}, err
	}
	return Result{Kind: Applied, Message: res.Message, Snapshot: c.session.Snapshot()}, nil
}

func (c *Coordinator) loadedDelivery(date string) (models.Delivery, error) {
	key := utils.DateKey(date)
	if key == "" {
		return models.Delivery{}, errors.Validationf("date", "Select a delivery.")
	}
	d, ok := c.session.Delivery(key)
	if !ok {
		return models.Delivery{}, errors.Validationf("date", "There is no delivery on %s.", key)
	}
	return d, nil
}

func (c *Coordinator) checkMovable(d models.Delivery) error {
	if d.Status == models.DeliveryConcession || d.Concession {
		return errors.Validationf("status", "Compensated deliveries cannot be rescheduled.")
	}
	if !calendar.Eligible(&d, c.Today()) {
		return errors.Validationf("status", "The delivery on %s can no longer be rescheduled.", utils.DateKey(d.Date))
	}
	return nil
}

// rejection turns a service failure into a MutationRejected. Declines keep
// the service's message verbatim; transport failures get a retry hint.
func rejection(op string, err error) error {
	var se *client.ServerError
	if stderrors.As(err, &se) {
		return &errors.MutationRejected{Op: op, Code: se.Code, Message: se.Error(), Err: err}
	}
	logger.Warn("delivery service unreachable", "op", op, "error", err)
	return &errors.MutationRejected{
		Op:      op,
		Message: "Could not reach the delivery service. Try again.",
		Err:     err,
	}
}

func normalizeDates(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		key := utils.DateKey(d)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sortDates(out)
	return out
}
