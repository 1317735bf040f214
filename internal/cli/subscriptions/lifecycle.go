package subscriptions

import (
	"context"
	"fmt"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/models"
)

type lifecycleFunc func(ctx context.Context, subscriptionID string) (int, error)

func runLifecycle(ctx *cli.Context, id, verb string, apply lifecycleFunc, wanted ...models.SubscriptionStatus) error {
	if _, err := ctx.RequireLocal(); err != nil {
		return err
	}
	sub, err := ctx.FindSubscription(id, wanted...)
	if err != nil {
		return err
	}
	n, err := apply(ctx.Ctx, sub.ID)
	if err != nil {
		return err
	}
	fmt.Printf("%s subscription %s (%d upcoming deliveries updated)\n", verb, sub.SubscriptionID, n)
	return nil
}

type SubscriptionPauseCmd struct {
	ID string `help:"Subscription to pause (default: the active one)."`
}

func (c *SubscriptionPauseCmd) Run(ctx *cli.Context) error {
	return runLifecycle(ctx, c.ID, "Paused", ctx.Local.Pause,
		models.SubscriptionActive, models.SubscriptionExpiring)
}

type SubscriptionResumeCmd struct {
	ID string `help:"Subscription to resume (default: the paused one)."`
}

func (c *SubscriptionResumeCmd) Run(ctx *cli.Context) error {
	return runLifecycle(ctx, c.ID, "Resumed", ctx.Local.Resume,
		models.SubscriptionPaused)
}

type SubscriptionCancelCmd struct {
	ID  string `help:"Subscription to cancel (default: the active or paused one)."`
	Yes bool   `short:"y" help:"Do not ask for confirmation."`
}

func (c *SubscriptionCancelCmd) Run(ctx *cli.Context) error {
	if !c.Yes {
		ok, err := cli.Confirm("Cancel the subscription and all upcoming deliveries?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}
	return runLifecycle(ctx, c.ID, "Cancelled", ctx.Local.Cancel,
		models.SubscriptionActive, models.SubscriptionExpiring, models.SubscriptionPaused)
}
