package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

type Scheduler struct{}

func New() *Scheduler {
	return &Scheduler{}
}

// Materialize creates scheduled deliveries for every day in [from, to] that
// falls inside the subscription term and has at least one product due. Days
// that already carry a delivery are skipped, and a product stops appearing
// once the deliveries holding it reach its MaxDeliveries.
func (s *Scheduler) Materialize(sub models.Subscription, from, to string, existing []models.Delivery) ([]models.Delivery, error) {
	start, err := utils.ParseDate(sub.StartDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("subscription start: %w", err)
	}
	end, err := utils.ParseDate(sub.EndDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("subscription end: %w", err)
	}
	rangeStart, err := utils.ParseDate(from, time.UTC)
	if err != nil {
		return nil, err
	}
	rangeEnd, err := utils.ParseDate(to, time.UTC)
	if err != nil {
		return nil, err
	}
	if rangeStart.Before(start) {
		rangeStart = start
	}
	if rangeEnd.After(end) {
		rangeEnd = end
	}

	occupied := make(map[string]bool, len(existing))
	planned := make(map[string]int, len(sub.Products))
	for _, d := range existing {
		occupied[utils.DateKey(d.Date)] = true
		for _, p := range d.Products {
			planned[p.ProductID]++
		}
	}

	var out []models.Delivery
	for day := rangeStart; !day.After(rangeEnd); day = day.AddDate(0, 0, 1) {
		key := utils.DateKeyOf(day)
		if occupied[key] {
			continue
		}

		var products []models.DeliveryProduct
		for _, p := range sub.Products {
			if !utils.ShouldDeliverProduct(p.DeliveryFrequency, start, day) {
				continue
			}
			if p.MaxDeliveries > 0 && planned[p.ProductID] >= p.MaxDeliveries {
				continue
			}
			planned[p.ProductID]++
			products = append(products, models.DeliveryProduct{
				ProductID:     p.ProductID,
				Name:          p.Name,
				QuantityValue: p.QuantityValue,
				QuantityUnit:  p.QuantityUnit,
			})
		}
		if len(products) == 0 {
			continue
		}

		occupied[key] = true
		out = append(out, models.Delivery{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			Date:           key,
			Slot:           sub.Slot,
			Status:         models.DeliveryScheduled,
			Products:       products,
		})
	}
	return out, nil
}

// Window bounds where deliveries may be moved to.
type Window struct {
	Today string // moves must land strictly after today
	Last  string // last date a move may land on, inclusive
}

// WindowFor returns the move window for a subscription: from tomorrow up to
// horizonDays past the end of the term.
func WindowFor(sub models.Subscription, today string, horizonDays int) (Window, error) {
	last, err := utils.AddDays(sub.EndDate, horizonDays)
	if err != nil {
		return Window{}, fmt.Errorf("subscription end: %w", err)
	}
	return Window{Today: utils.DateKey(today), Last: last}, nil
}

// Contains reports whether date is a legal move target.
func (w Window) Contains(date string) bool {
	return utils.CompareDates(date, w.Today) > 0 && utils.CompareDates(date, w.Last) <= 0
}

// AvailableDates lists start dates where a block of days consecutive
// deliveries could land. Dates occupied by deliveries other than the anchor's
// are never offered, nor is the anchor itself.
func (s *Scheduler) AvailableDates(deliveries []models.Delivery, anchor string, slot models.Slot, days int, w Window) ([]models.AvailableDate, error) {
	if days < 1 {
		days = 1
	}
	anchorKey := utils.DateKey(anchor)
	occupied := occupiedExcept(deliveries, anchorKey)

	first, err := utils.AddDays(w.Today, 1)
	if err != nil {
		return nil, err
	}
	cur, _ := utils.ParseDate(first, time.UTC)
	last, err := utils.ParseDate(w.Last, time.UTC)
	if err != nil {
		return nil, err
	}

	var out []models.AvailableDate
	for ; !cur.After(last); cur = cur.AddDate(0, 0, 1) {
		key := utils.DateKeyOf(cur)
		if key == anchorKey {
			continue
		}
		blockEnd, ok := freeBlock(cur, days, last, occupied)
		if !ok {
			continue
		}
		a := models.AvailableDate{Date: key, Slot: slot, Weekday: cur.Weekday().String()}
		if days > 1 {
			a.BlockEnd = blockEnd
		}
		out = append(out, a)
	}
	return out, nil
}

// PlanBlock maps each of fromDates (in calendar order) to its target in the
// block starting at start, and checks every target against the window and
// the other deliveries. It applies the same rule as AvailableDates: only the
// first moving date counts as free and the block may not start on it, so a
// start is accepted exactly when it would have been offered.
func (s *Scheduler) PlanBlock(deliveries []models.Delivery, fromDates []string, start string, w Window) (map[string]string, error) {
	if len(fromDates) == 0 {
		return nil, fmt.Errorf("no deliveries to move")
	}
	anchorKey := utils.DateKey(fromDates[0])
	if utils.DateKey(start) == anchorKey {
		return nil, fmt.Errorf("%s is where the deliveries already start", anchorKey)
	}
	occupied := occupiedExcept(deliveries, anchorKey)

	moves := make(map[string]string, len(fromDates))
	for i, from := range fromDates {
		to, err := utils.AddDays(start, i)
		if err != nil {
			return nil, err
		}
		if !w.Contains(to) {
			return nil, fmt.Errorf("%s is outside the reschedule window (%s to %s)", to, w.Today, w.Last)
		}
		if occupied[to] {
			return nil, fmt.Errorf("%s already has a delivery", to)
		}
		moves[utils.DateKey(from)] = to
	}
	return moves, nil
}

// NextFree returns the first date strictly after date with no delivery.
func (s *Scheduler) NextFree(deliveries []models.Delivery, date string) (string, error) {
	occupied := occupiedExcept(deliveries, "")
	cur, err := utils.ParseDate(date, time.UTC)
	if err != nil {
		return "", err
	}
	for {
		cur = cur.AddDate(0, 0, 1)
		key := utils.DateKeyOf(cur)
		if !occupied[key] {
			return key, nil
		}
	}
}

func occupiedExcept(deliveries []models.Delivery, except string) map[string]bool {
	occupied := make(map[string]bool, len(deliveries))
	for _, d := range deliveries {
		key := utils.DateKey(d.Date)
		if key != except {
			occupied[key] = true
		}
	}
	return occupied
}

func freeBlock(start time.Time, days int, last time.Time, occupied map[string]bool) (string, bool) {
	var key string
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		if day.After(last) {
			return "", false
		}
		key = utils.DateKeyOf(day)
		if occupied[key] {
			return "", false
		}
	}
	return key, true
}
