package deliveries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/julianstephens/milkrun/internal/calendar"
	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/errors"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/session"
	"github.com/julianstephens/milkrun/internal/status"
)

var (
	monthStyle   = lipgloss.NewStyle().Bold(true)
	outsideStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var legendOrder = []status.Visual{
	status.Upcoming,
	status.Awaiting,
	status.Delivered,
	status.Cancelled,
	status.NoResponse,
	status.Concession,
}

type CalendarCmd struct {
	Month   string `help:"First month to show (YYYY-MM, default this month)."`
	Months  int    `help:"Number of months to show." default:"1"`
	Product string `help:"Only colour days by this product's status."`
}

func (c *CalendarCmd) Run(ctx *cli.Context) error {
	sub, err := ctx.Subscription()
	if err != nil {
		return err
	}

	first := session.MonthOf(ctx.Clock())
	if c.Month != "" {
		t, err := time.Parse("2006-01", c.Month)
		if err != nil {
			return fmt.Errorf("invalid month %q (expected YYYY-MM)", c.Month)
		}
		first = session.MonthOf(t)
	}
	if c.Months < 1 || c.Months > 12 {
		return fmt.Errorf("--months must be between 1 and 12")
	}

	pages := loadMonths(ctx.Ctx, ctx.Service, sub.ID, first, c.Months)

	opts := calendar.Options{
		Filter: status.Filter{Product: c.Product},
		Today:  ctx.Clock.Today(),
	}
	fmt.Printf("Subscription %s (%s to %s, %s)\n\n", sub.SubscriptionID, sub.StartDate, sub.EndDate, sub.Slot)
	for _, p := range pages {
		fmt.Println(renderMonth(p.month, p.deliveries, opts))
		if p.err != nil {
			fmt.Printf("⚠ Could not load deliveries for %s; showing an empty month. Try again later.\n\n",
				p.month.Anchor().Format("January 2006"))
		}
	}
	fmt.Println(renderLegend())
	return nil
}

type monthPage struct {
	month      session.Month
	deliveries []models.Delivery
	err        error
}

// loadMonths fetches n months starting at first concurrently. A month that
// fails to load keeps its error and no deliveries.
func loadMonths(ctx context.Context, svc client.Service, subscriptionID string, first session.Month, n int) []monthPage {
	pages := make([]monthPage, n)
	var g errgroup.Group
	m := first
	for i := range pages {
		pages[i].month = m
		m = m.Next()
		g.Go(func() error {
			page := &pages[i]
			payload, err := svc.GetDeliveryCalendar(ctx, subscriptionID, page.month.Year, int(page.month.Month))
			if err != nil {
				logger.Warn("calendar month failed to load", "subscription", subscriptionID, "month", page.month, "error", err)
				page.err = &errors.FetchError{Resource: "calendar", Err: err}
				page.deliveries = []models.Delivery{}
				return nil
			}
			page.deliveries = payload.Deliveries()
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

func renderMonth(m session.Month, deliveries []models.Delivery, opts calendar.Options) string {
	var b strings.Builder
	b.WriteString(monthStyle.Render(m.Anchor().Format("January 2006")))
	b.WriteString("\n Su  Mo  Tu  We  Th  Fr  Sa\n")

	cells := calendar.Build(m.Anchor(), deliveries, opts)
	for _, week := range calendar.Weeks(cells) {
		for _, cell := range week {
			text := fmt.Sprintf("%3d", cell.Day)
			style := lipgloss.NewStyle()
			switch {
			case !cell.IsCurrentMonth:
				style = outsideStyle
			case cell.Visual != status.None:
				style = cli.StatusStyle(cell.Appearance)
			}
			if cell.IsToday {
				style = style.Bold(true).Reverse(true)
			}
			b.WriteString(style.Render(text))
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderLegend() string {
	parts := make([]string, 0, len(legendOrder))
	for _, v := range legendOrder {
		a := status.AppearanceOf(v)
		parts = append(parts, cli.StatusStyle(a).Render("■ "+a.Label))
	}
	return strings.Join(parts, "  ")
}
