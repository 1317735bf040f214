package validation

import (
	"fmt"
	"sort"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// ConflictType represents the type of validation conflict
type ConflictType string

const (
	ConflictDuplicateDate       ConflictType = "duplicate_delivery_date"
	ConflictInvalidTerm         ConflictType = "invalid_term"
	ConflictOverDelivered       ConflictType = "over_delivered"
	ConflictUnknownStatus       ConflictType = "unknown_status"
	ConflictInvalidSlot         ConflictType = "invalid_slot"
	ConflictInvalidDate         ConflictType = "invalid_date"
	ConflictOutsideTerm         ConflictType = "outside_term"
	ConflictMissingConcession   ConflictType = "missing_concession_details"
	ConflictMultipleActive      ConflictType = "multiple_active_subscriptions"
	ConflictDuplicateDeliveryID ConflictType = "duplicate_delivery_id"
)

// Conflict is one broken invariant in persisted subscription data.
type Conflict struct {
	Type           ConflictType
	Description    string
	SubscriptionID string
	Date           string // YYYY-MM-DD, when the conflict concerns a day
	DeliveryIDs    []string
}

// ValidationResult contains all detected conflicts
type ValidationResult struct {
	Conflicts []Conflict
}

// HasConflicts returns true if there are any conflicts
func (vr *ValidationResult) HasConflicts() bool {
	return len(vr.Conflicts) > 0
}

// Count returns how many conflicts of the given type were found.
func (vr *ValidationResult) Count(t ConflictType) int {
	n := 0
	for _, c := range vr.Conflicts {
		if c.Type == t {
			n++
		}
	}
	return n
}

// FormatReport returns a human-readable report of all conflicts
func (vr *ValidationResult) FormatReport() string {
	if !vr.HasConflicts() {
		return "No conflicts detected."
	}

	report := "Conflicts detected:\n"
	for _, conflict := range vr.Conflicts {
		report += fmt.Sprintf("- %s\n", conflict.Description)
	}
	return report
}

func (vr *ValidationResult) add(c Conflict) {
	vr.Conflicts = append(vr.Conflicts, c)
}

// Validator checks subscriptions and their deliveries against the data model
// invariants.
type Validator struct{}

// New creates a new Validator
func New() *Validator {
	return &Validator{}
}

// ValidateSubscriptions checks customer-level invariants across subscriptions:
// a customer holds at most one active subscription.
func (v *Validator) ValidateSubscriptions(subs []models.Subscription) ValidationResult {
	result := ValidationResult{Conflicts: []Conflict{}}

	active := map[string][]string{}
	for _, sub := range subs {
		if sub.IsActive() {
			active[sub.CustomerID] = append(active[sub.CustomerID], sub.ID)
		}
	}

	customers := make([]string, 0, len(active))
	for c := range active {
		customers = append(customers, c)
	}
	sort.Strings(customers)

	for _, customer := range customers {
		ids := active[customer]
		if len(ids) > 1 {
			result.add(Conflict{
				Type:        ConflictMultipleActive,
				Description: fmt.Sprintf("Customer %s has %d active subscriptions: %v", customer, len(ids), ids),
			})
		}
	}
	return result
}

// ValidateSubscription checks one subscription and its deliveries.
func (v *Validator) ValidateSubscription(sub models.Subscription, deliveries []models.Delivery) ValidationResult {
	result := ValidationResult{Conflicts: []Conflict{}}

	termValid := utils.ValidDate(sub.StartDate) && utils.ValidDate(sub.EndDate)
	if !termValid {
		result.add(Conflict{
			Type:           ConflictInvalidTerm,
			Description:    fmt.Sprintf("Subscription %s has an unparseable term %q to %q", sub.ID, sub.StartDate, sub.EndDate),
			SubscriptionID: sub.ID,
		})
	} else if utils.CompareDates(sub.EndDate, sub.StartDate) < 0 {
		result.add(Conflict{
			Type:           ConflictInvalidTerm,
			Description:    fmt.Sprintf("Subscription %s ends (%s) before it starts (%s)", sub.ID, sub.EndDate, sub.StartDate),
			SubscriptionID: sub.ID,
		})
		termValid = false
	}

	for _, p := range sub.Products {
		if p.DeliveredCount > p.MaxDeliveries {
			result.add(Conflict{
				Type: ConflictOverDelivered,
				Description: fmt.Sprintf("Product %s of subscription %s delivered %d of %d",
					p.ProductID, sub.ID, p.DeliveredCount, p.MaxDeliveries),
				SubscriptionID: sub.ID,
			})
		}
	}

	byDate := map[string][]string{}
	byID := map[string]int{}
	for _, d := range deliveries {
		key := utils.DateKey(d.Date)
		byID[d.ID]++

		if !utils.ValidDate(key) {
			result.add(Conflict{
				Type:           ConflictInvalidDate,
				Description:    fmt.Sprintf("Delivery %s has an invalid date %q", d.ID, d.Date),
				SubscriptionID: sub.ID,
				DeliveryIDs:    []string{d.ID},
			})
			continue
		}
		byDate[key] = append(byDate[key], d.ID)

		if !d.Status.Known() {
			result.add(Conflict{
				Type:           ConflictUnknownStatus,
				Description:    fmt.Sprintf("Delivery on %s has unknown status %q", key, d.Status),
				SubscriptionID: sub.ID,
				Date:           key,
				DeliveryIDs:    []string{d.ID},
			})
		}
		if !d.Slot.Valid() {
			result.add(Conflict{
				Type:           ConflictInvalidSlot,
				Description:    fmt.Sprintf("Delivery on %s has invalid slot %q", key, d.Slot),
				SubscriptionID: sub.ID,
				Date:           key,
				DeliveryIDs:    []string{d.ID},
			})
		}
		if d.Status == models.DeliveryConcession && d.ConcessionDetails == nil {
			result.add(Conflict{
				Type:           ConflictMissingConcession,
				Description:    fmt.Sprintf("Compensated delivery on %s has no concession details", key),
				SubscriptionID: sub.ID,
				Date:           key,
				DeliveryIDs:    []string{d.ID},
			})
		}
		// Concessions keep their original date; everything else must sit inside the term.
		if termValid && d.Status != models.DeliveryConcession &&
			(utils.CompareDates(key, sub.StartDate) < 0 || utils.CompareDates(key, sub.EndDate) > 0) {
			result.add(Conflict{
				Type:           ConflictOutsideTerm,
				Description:    fmt.Sprintf("Delivery on %s falls outside %s to %s", key, sub.StartDate, sub.EndDate),
				SubscriptionID: sub.ID,
				Date:           key,
				DeliveryIDs:    []string{d.ID},
			})
		}
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		if ids := byDate[date]; len(ids) > 1 {
			result.add(Conflict{
				Type:           ConflictDuplicateDate,
				Description:    fmt.Sprintf("Subscription %s has %d deliveries on %s", sub.ID, len(ids), date),
				SubscriptionID: sub.ID,
				Date:           date,
				DeliveryIDs:    ids,
			})
		}
	}

	ids := make([]string, 0, len(byID))
	for id, n := range byID {
		if n > 1 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		result.add(Conflict{
			Type:           ConflictDuplicateDeliveryID,
			Description:    fmt.Sprintf("Delivery id %s appears %d times", id, byID[id]),
			SubscriptionID: sub.ID,
			DeliveryIDs:    []string{id},
		})
	}

	return result
}
