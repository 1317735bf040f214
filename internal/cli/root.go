package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/milkrun/internal/client"
	milkerrors "github.com/julianstephens/milkrun/internal/errors"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/reschedule"
	"github.com/julianstephens/milkrun/internal/service"
	"github.com/julianstephens/milkrun/internal/session"
	"github.com/julianstephens/milkrun/internal/status"
	"github.com/julianstephens/milkrun/internal/storage"
	"github.com/julianstephens/milkrun/internal/utils"
)

// ErrRemote is returned by commands that need direct access to the store
// when milkrun talks to a remote API.
var ErrRemote = errors.New("this command needs a local database; drop --api to run it")

type Context struct {
	Ctx         context.Context
	Store       storage.Provider
	Service     client.Service
	Local       *service.Local // nil when Service is a remote API
	Session     *session.Session
	Coordinator *reschedule.Coordinator
	Clock       utils.Clock
	Customer    string
}

// NewContext wires the session and coordinator around svc. A nil clock uses
// the system clock.
func NewContext(ctx context.Context, store storage.Provider, svc client.Service, customer string, clock utils.Clock) *Context {
	if clock == nil {
		clock = utils.SystemClock
	}
	if customer != "" {
		ctx = client.WithCustomer(ctx, customer)
	}
	sess := session.New(svc)
	c := &Context{
		Ctx:         ctx,
		Store:       store,
		Service:     svc,
		Session:     sess,
		Coordinator: reschedule.New(svc, sess, clock),
		Clock:       clock,
		Customer:    customer,
	}
	if local, ok := svc.(*service.Local); ok {
		c.Local = local
	}
	return c
}

// RequireLocal fails for commands that bypass the customer API.
func (c *Context) RequireLocal() (*service.Local, error) {
	if c.Local == nil {
		return nil, ErrRemote
	}
	return c.Local, nil
}

// Subscription loads the customer's active subscription or fails with a
// message pointing at 'milkrun subscription create'.
func (c *Context) Subscription() (*models.Subscription, error) {
	sub, err := c.Session.LoadSubscription(c.Ctx)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errors.New("no active subscription. Use 'milkrun subscription create' to start one")
	}
	return sub, nil
}

// FocusDate loads the subscription and the month containing date so the
// coordinator can see that day's delivery.
func (c *Context) FocusDate(date string) (*models.Subscription, error) {
	key := utils.DateKey(date)
	if key == "" || !utils.ValidDate(key) {
		return nil, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", date)
	}
	sub, err := c.Subscription()
	if err != nil {
		return nil, err
	}
	t, _ := time.Parse("2006-01-02", key)
	c.Session.SelectMonth(t.Year(), t.Month())
	if _, err := c.Session.LoadCalendar(c.Ctx, sub.ID, t.Year(), t.Month()); err != nil {
		return nil, err
	}
	return sub, nil
}

// FindSubscription returns the subscription with the given id, or the
// customer's most recent one in one of the wanted statuses.
func (c *Context) FindSubscription(id string, wanted ...models.SubscriptionStatus) (models.Subscription, error) {
	if c.Store == nil {
		return models.Subscription{}, ErrRemote
	}
	if id != "" {
		sub, err := c.Store.GetSubscription(id)
		if err != nil {
			return models.Subscription{}, fmt.Errorf("subscription %s: %w", id, err)
		}
		return sub, nil
	}
	subs, err := c.Store.ListSubscriptions(c.Customer)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	for i := len(subs) - 1; i >= 0; i-- {
		for _, s := range wanted {
			if subs[i].Status == s {
				return subs[i], nil
			}
		}
	}
	return models.Subscription{}, fmt.Errorf("no %s subscription found", wanted[0])
}

// ResolveDate accepts YYYY-MM-DD or the words today and tomorrow.
func (c *Context) ResolveDate(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return c.Clock.Today(), nil
	case "tomorrow":
		return utils.AddDays(c.Clock.Today(), 1)
	}
	key := utils.DateKey(s)
	if key == "" || !utils.ValidDate(key) {
		return "", fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return key, nil
}

// ParseSlot validates a slot flag. Empty means "keep the current slot".
func ParseSlot(s string) (models.Slot, error) {
	if s == "" {
		return "", nil
	}
	slot := models.Slot(strings.ToLower(strings.TrimSpace(s)))
	if !slot.Valid() {
		return "", fmt.Errorf("invalid slot %q (expected morning or evening)", s)
	}
	return slot, nil
}

// StatusStyle renders text in the colour of a delivery's appearance.
func StatusStyle(a status.Appearance) lipgloss.Style {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(a.Color))
	if a.Dashed {
		style = style.Underline(true)
	}
	return style
}

// FormatProducts lists products with their quantities.
func FormatProducts(products []models.DeliveryProduct) string {
	if len(products) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(products))
	for _, p := range products {
		item := fmt.Sprintf("%s %g%s", p.Name, p.QuantityValue, p.QuantityUnit)
		if p.DeliveryStatus != "" {
			item += fmt.Sprintf(" (%s)", p.DeliveryStatus)
		}
		parts = append(parts, item)
	}
	return strings.Join(parts, ", ")
}

// Report prints the outcome of a coordinator mutation. A change that went
// through but could not be re-read is reported as a warning, not an error.
func Report(res reschedule.Result, err error) error {
	if err != nil && res.Kind != reschedule.Applied {
		return err
	}
	msg := res.Message
	if msg == "" {
		msg = "Done."
	}
	fmt.Printf("✓ %s\n", msg)
	if err != nil {
		fmt.Printf("⚠ %s\n", milkerrors.UserMessage(err))
	}
	return nil
}

// Confirm asks a yes/no question on the terminal.
func Confirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}
