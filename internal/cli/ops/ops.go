// Package ops holds the operator commands that play the delivery service's
// side of the lifecycle: dispatching, arrival, missed deliveries and
// concessions. They work on the local database only.
package ops

import (
	"fmt"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/models"
)

// Target selects the subscription and day an operator command acts on.
type Target struct {
	Date         string `arg:"" optional:"" help:"Delivery day (YYYY-MM-DD, default today)."`
	Subscription string `help:"Subscription id (default: the customer's active subscription)."`
}

func (t Target) resolve(ctx *cli.Context) (models.Subscription, string, error) {
	sub, err := ctx.FindSubscription(t.Subscription, models.SubscriptionActive, models.SubscriptionExpiring)
	if err != nil {
		return models.Subscription{}, "", err
	}
	date, err := ctx.ResolveDate(t.Date)
	if err != nil {
		return models.Subscription{}, "", err
	}
	return sub, date, nil
}

func advance(ctx *cli.Context, t Target, ev models.Event) error {
	local, err := ctx.RequireLocal()
	if err != nil {
		return err
	}
	sub, date, err := t.resolve(ctx)
	if err != nil {
		return err
	}
	d, err := local.Advance(ctx.Ctx, sub.ID, date, ev)
	if err != nil {
		return err
	}
	fmt.Printf("Delivery on %s is now %s.\n", d.Date, d.Status)
	return nil
}

type DispatchCmd struct {
	Target
}

func (c *DispatchCmd) Run(ctx *cli.Context) error {
	return advance(ctx, c.Target, models.EventDispatch)
}

type ArriveCmd struct {
	Target
}

func (c *ArriveCmd) Run(ctx *cli.Context) error {
	return advance(ctx, c.Target, models.EventArrive)
}

type NoResponseCmd struct {
	Target
}

func (c *NoResponseCmd) Run(ctx *cli.Context) error {
	return advance(ctx, c.Target, models.EventNoResponse)
}

type ConcessionCmd struct {
	Target
}

func (c *ConcessionCmd) Run(ctx *cli.Context) error {
	local, err := ctx.RequireLocal()
	if err != nil {
		return err
	}
	sub, date, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	replacement, err := local.Concession(ctx.Ctx, sub.ID, date)
	if err != nil {
		return err
	}
	fmt.Printf("Delivery on %s compensated. Replacement scheduled for %s (%s).\n",
		date, replacement.Date, replacement.Slot)
	return nil
}

type MaterializeCmd struct {
	Subscription string `help:"Subscription id (default: the customer's active subscription)."`
	From         string `help:"First day to fill (default today)."`
	To           string `help:"Last day to fill (default: the subscription end date)."`
}

func (c *MaterializeCmd) Run(ctx *cli.Context) error {
	local, err := ctx.RequireLocal()
	if err != nil {
		return err
	}
	sub, err := ctx.FindSubscription(c.Subscription, models.SubscriptionActive, models.SubscriptionExpiring)
	if err != nil {
		return err
	}
	from, err := ctx.ResolveDate(c.From)
	if err != nil {
		return err
	}
	to := sub.EndDate
	if c.To != "" {
		if to, err = ctx.ResolveDate(c.To); err != nil {
			return err
		}
	}

	n, err := local.Materialize(ctx.Ctx, sub.ID, from, to)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("No deliveries to add. The schedule is up to date.")
		return nil
	}
	fmt.Printf("Added %d deliveries between %s and %s.\n", n, from, to)
	return nil
}
