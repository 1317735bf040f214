package subscriptions

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/service"
)

type SubscriptionShowCmd struct{}

func (c *SubscriptionShowCmd) Run(ctx *cli.Context) error {
	sub, err := ctx.Subscription()
	if err != nil {
		return err
	}
	printSubscription(*sub)
	return nil
}

type SubscriptionListCmd struct{}

func (c *SubscriptionListCmd) Run(ctx *cli.Context) error {
	if _, err := ctx.RequireLocal(); err != nil {
		return err
	}
	subs, err := ctx.Store.ListSubscriptions(ctx.Customer)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		fmt.Println("No subscriptions found.")
		return nil
	}
	for _, sub := range subs {
		fmt.Printf("%-14s %-10s %s to %s  %s\n", sub.SubscriptionID, sub.Status, sub.StartDate, sub.EndDate, sub.Slot)
	}
	return nil
}

type SubscriptionCreateCmd struct {
	Start    string   `help:"First delivery day (YYYY-MM-DD, default today)."`
	End      string   `help:"Last delivery day (YYYY-MM-DD)." required:""`
	Slot     string   `help:"Delivery slot: morning or evening (default from settings)."`
	Payment  string   `help:"Payment method." enum:"online,cod" default:"cod"`
	Products []string `name:"product" help:"Product as id:name:quantity:frequency:max, e.g. milk:Cow Milk:1L:daily:30. Repeatable." required:""`
}

func (c *SubscriptionCreateCmd) Run(ctx *cli.Context) error {
	local, err := ctx.RequireLocal()
	if err != nil {
		return err
	}

	start, err := ctx.ResolveDate(c.Start)
	if err != nil {
		return err
	}
	end, err := ctx.ResolveDate(c.End)
	if err != nil {
		return err
	}
	slot, err := cli.ParseSlot(c.Slot)
	if err != nil {
		return err
	}

	products := make([]models.SubscriptionProduct, 0, len(c.Products))
	for _, spec := range c.Products {
		p, err := ParseProduct(spec)
		if err != nil {
			return err
		}
		products = append(products, p)
	}

	sub, err := local.CreateSubscription(ctx.Ctx, service.NewSubscription{
		StartDate:     start,
		EndDate:       end,
		Slot:          slot,
		PaymentMethod: models.PaymentMethod(c.Payment),
		Products:      products,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created subscription %s\n", sub.SubscriptionID)
	printSubscription(sub)
	return nil
}

// ParseProduct reads id:name:quantity:frequency:max. The quantity is a
// number with an optional unit suffix such as 500ml.
func ParseProduct(spec string) (models.SubscriptionProduct, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 5 {
		return models.SubscriptionProduct{}, fmt.Errorf("invalid product %q (expected id:name:quantity:frequency:max)", spec)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	value, unit, err := parseQuantity(parts[2])
	if err != nil {
		return models.SubscriptionProduct{}, fmt.Errorf("product %s: %w", parts[0], err)
	}
	max, err := strconv.Atoi(parts[4])
	if err != nil || max < 1 {
		return models.SubscriptionProduct{}, fmt.Errorf("product %s: max deliveries must be a positive number", parts[0])
	}

	p := models.SubscriptionProduct{
		ProductID:         parts[0],
		Name:              parts[1],
		QuantityValue:     value,
		QuantityUnit:      unit,
		DeliveryFrequency: models.Frequency(strings.ToLower(parts[3])),
		MaxDeliveries:     max,
	}
	if p.Name == "" {
		p.Name = p.ProductID
	}
	if err := p.Validate(); err != nil {
		return models.SubscriptionProduct{}, err
	}
	return p, nil
}

func parseQuantity(s string) (float64, string, error) {
	i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	if i == -1 {
		i = len(s)
	}
	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil || value <= 0 {
		return 0, "", fmt.Errorf("invalid quantity %q", s)
	}
	return value, strings.TrimSpace(s[i:]), nil
}

func printSubscription(sub models.Subscription) {
	fmt.Printf("Subscription:   %s\n", sub.SubscriptionID)
	fmt.Printf("Status:         %s\n", sub.Status)
	fmt.Printf("Term:           %s to %s\n", sub.StartDate, sub.EndDate)
	fmt.Printf("Slot:           %s\n", sub.Slot)
	fmt.Printf("Payment:        %s\n", sub.PaymentMethod)
	fmt.Println("Products:")
	for _, p := range sub.Products {
		fmt.Printf("  %-16s %g%s %-9s %d/%d delivered, %d remaining\n",
			p.Name, p.QuantityValue, p.QuantityUnit, p.DeliveryFrequency,
			p.DeliveredCount, p.MaxDeliveries, p.RemainingDeliveries())
	}
}
