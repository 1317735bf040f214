package deliveries

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/reschedule"
	"github.com/julianstephens/milkrun/internal/status"
	"github.com/julianstephens/milkrun/internal/utils"
)

type DayCmd struct {
	Date    string `arg:"" optional:"" help:"Day to show (YYYY-MM-DD, today or tomorrow)."`
	Product string `help:"Show the status of a single product."`
}

func (c *DayCmd) Run(ctx *cli.Context) error {
	date, err := ctx.ResolveDate(c.Date)
	if err != nil {
		return err
	}
	if _, err := ctx.FocusDate(date); err != nil {
		return err
	}

	d, ok := ctx.Session.Delivery(date)
	if !ok {
		fmt.Printf("%s: no delivery\n", date)
		return nil
	}

	a := status.Describe(&d, status.Filter{Product: c.Product})
	fmt.Printf("Date:      %s\n", d.Date)
	fmt.Printf("Status:    %s\n", cli.StatusStyle(a).Render(a.Label))
	fmt.Printf("Slot:      %s\n", d.Slot)
	fmt.Printf("Products:  %s\n", cli.FormatProducts(d.Products))
	if note := status.Explain(&d); note != "" {
		fmt.Printf("\n%s\n", note)
	}

	actions := reschedule.Actions(&d, ctx.Clock.Today())
	if len(actions) > 0 {
		fmt.Println()
		for _, act := range actions {
			if hint := actionHint(act, date); hint != "" {
				fmt.Printf("  %s\n", hint)
			}
		}
	}
	return nil
}

func actionHint(a reschedule.Action, date string) string {
	switch a {
	case reschedule.ActionChangeSlot:
		return fmt.Sprintf("milkrun slot %s <morning|evening>", date)
	case reschedule.ActionReschedule:
		return fmt.Sprintf("milkrun reschedule %s", date)
	case reschedule.ActionConfirm:
		return fmt.Sprintf("milkrun confirm %s", date)
	}
	return ""
}

type SlotCmd struct {
	Date string `arg:"" help:"Delivery day (YYYY-MM-DD)."`
	Slot string `arg:"" help:"New slot: morning or evening." enum:"morning,evening"`
}

func (c *SlotCmd) Run(ctx *cli.Context) error {
	date, err := ctx.ResolveDate(c.Date)
	if err != nil {
		return err
	}
	sub, err := ctx.FocusDate(date)
	if err != nil {
		return err
	}
	return cli.Report(ctx.Coordinator.ChangeSlot(ctx.Ctx, sub.ID, date, models.Slot(c.Slot)))
}

type AvailableCmd struct {
	Date string `arg:"" help:"Delivery to move (YYYY-MM-DD)."`
	Days int    `help:"Number of consecutive deliveries to move." default:"1"`
	Slot string `help:"Target slot (default: the delivery's slot)."`
}

func (c *AvailableCmd) Run(ctx *cli.Context) error {
	date, err := ctx.ResolveDate(c.Date)
	if err != nil {
		return err
	}
	slot, err := cli.ParseSlot(c.Slot)
	if err != nil {
		return err
	}
	sub, err := ctx.Subscription()
	if err != nil {
		return err
	}

	dates, err := ctx.Coordinator.AvailableDates(ctx.Ctx, sub.ID, date, slot, c.Days)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		fmt.Println("No dates are available in the reschedule window.")
		return nil
	}
	for _, a := range dates {
		fmt.Println(availableLabel(a))
	}
	return nil
}

type RescheduleCmd struct {
	From string `arg:"" help:"Delivery to move (YYYY-MM-DD)."`
	To   string `help:"New date (default: pick from the available dates)."`
	Slot string `help:"New slot (default: keep the current slot)."`
}

func (c *RescheduleCmd) Run(ctx *cli.Context) error {
	from, err := ctx.ResolveDate(c.From)
	if err != nil {
		return err
	}
	slot, err := cli.ParseSlot(c.Slot)
	if err != nil {
		return err
	}
	sub, err := ctx.FocusDate(from)
	if err != nil {
		return err
	}
	d, ok := ctx.Session.Delivery(from)
	if !ok {
		return fmt.Errorf("there is no delivery on %s", from)
	}
	if slot == "" {
		slot = d.Slot
	}

	dates, err := ctx.Coordinator.AvailableDates(ctx.Ctx, sub.ID, from, slot, 1)
	if err != nil {
		return err
	}
	to, err := chooseDate(c.To, dates, fmt.Sprintf("Move the %s delivery to", from))
	if err != nil {
		return err
	}
	return cli.Report(ctx.Coordinator.RescheduleOne(ctx.Ctx, sub.ID, from, to, slot))
}

type BulkCmd struct {
	Dates []string `arg:"" help:"Deliveries to move together (YYYY-MM-DD)."`
	To    string   `help:"First day of the new block (default: pick from the available dates)."`
	Slot  string   `help:"Slot for the moved deliveries (default: the subscription slot)."`
}

func (c *BulkCmd) Run(ctx *cli.Context) error {
	if len(c.Dates) == 0 {
		return fmt.Errorf("select at least one delivery to move")
	}
	if len(c.Dates) > constants.MaxConsecutiveDays {
		return fmt.Errorf("at most %d deliveries can be moved at once", constants.MaxConsecutiveDays)
	}
	dates := make([]string, 0, len(c.Dates))
	for _, s := range c.Dates {
		date, err := ctx.ResolveDate(s)
		if err != nil {
			return err
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	dates = slices.Compact(dates)
	if dates[0][:7] != dates[len(dates)-1][:7] {
		return fmt.Errorf("deliveries moved together must be in the same month")
	}

	sub, err := ctx.FocusDate(dates[0])
	if err != nil {
		return err
	}
	slot, err := cli.ParseSlot(c.Slot)
	if err != nil {
		return err
	}
	if slot == "" {
		slot = sub.Slot
	}

	today := ctx.Clock.Today()
	ctx.Coordinator.Selection.Enter()
	defer ctx.Coordinator.Selection.Exit()
	for _, date := range dates {
		d, ok := ctx.Session.Delivery(date)
		if !ok || !ctx.Coordinator.Selection.Toggle(date, &d, today) {
			return fmt.Errorf("the delivery on %s cannot be moved", date)
		}
	}

	available, err := ctx.Coordinator.BulkAvailability(ctx.Ctx, sub.ID, dates, slot)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("Move %d deliveries to the block starting", len(dates))
	start, err := chooseDate(c.To, available, title)
	if err != nil {
		return err
	}
	return cli.Report(ctx.Coordinator.RescheduleBulk(ctx.Ctx, sub.ID, ctx.Coordinator.Selection.Dates(), start, slot))
}

type ConfirmCmd struct {
	Date string `arg:"" optional:"" help:"Delivery to confirm (default today)."`
}

func (c *ConfirmCmd) Run(ctx *cli.Context) error {
	date, err := ctx.ResolveDate(c.Date)
	if err != nil {
		return err
	}
	sub, err := ctx.FocusDate(date)
	if err != nil {
		return err
	}
	return cli.Report(ctx.Coordinator.Confirm(ctx.Ctx, sub.ID, date))
}

// chooseDate returns want when it is one of the offered dates, or asks the
// user to pick one when want is empty.
func chooseDate(want string, offered []models.AvailableDate, title string) (string, error) {
	if len(offered) == 0 {
		return "", fmt.Errorf("no dates are available in the reschedule window")
	}
	if want != "" {
		key := utils.DateKey(want)
		for _, a := range offered {
			if a.Date == key {
				return key, nil
			}
		}
		return "", fmt.Errorf("%s is not one of the available dates (see 'milkrun available')", want)
	}

	options := make([]huh.Option[string], len(offered))
	for i, a := range offered {
		options[i] = huh.NewOption(availableLabel(a), a.Date)
	}
	picked := offered[0].Date
	if err := huh.NewSelect[string]().
		Title(title).
		Options(options...).
		Value(&picked).
		Run(); err != nil {
		return "", err
	}
	return picked, nil
}

func availableLabel(a models.AvailableDate) string {
	label := shortDate(a.Date)
	if a.BlockEnd != "" && a.BlockEnd != a.Date {
		label += " to " + shortDate(a.BlockEnd)
	}
	if a.Slot != "" {
		label += " (" + string(a.Slot) + ")"
	}
	return label
}

func shortDate(key string) string {
	t, err := time.Parse("2006-01-02", key)
	if err != nil {
		return key
	}
	return t.Format("Mon 02 Jan 2006")
}
