// Package status derives the display category of a delivery from its raw
// status, honouring per-product overrides when a product filter is active.
package status

import (
	"fmt"
	"strings"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Visual is the UI-facing category of a calendar day.
type Visual string

const (
	None       Visual = "none"
	Upcoming   Visual = "upcoming"
	Delivered  Visual = "delivered"
	Awaiting   Visual = "awaiting"
	Cancelled  Visual = "cancelled"
	NoResponse Visual = "no-response"
	Concession Visual = "concession"
)

// Appearance is the fixed presentation for a resolved status.
type Appearance struct {
	Visual Visual
	Label  string
	Color  string // hex, consumed by the TUI
	Dashed bool
}

// Filter narrows the calendar to a single product, matched by id or name.
// The zero value means no filter.
type Filter struct {
	Product string
}

// Active reports whether a product filter is set.
func (f Filter) Active() bool {
	return strings.TrimSpace(f.Product) != ""
}

// Matches uses exact, case-insensitive equality on either the product id or name.
func (f Filter) Matches(p models.DeliveryProduct) bool {
	if !f.Active() {
		return false
	}
	want := strings.TrimSpace(f.Product)
	return strings.EqualFold(p.ProductID, want) || strings.EqualFold(p.Name, want)
}

// Effective returns the status that drives a delivery's appearance and whether
// the delivery is visible at all under the filter. Precedence: a matching
// product's own deliveryStatus beats the delivery-level status.
func Effective(d *models.Delivery, f Filter) (models.DeliveryStatus, bool) {
	if d == nil {
		return "", false
	}
	if !f.Active() {
		return d.Status, true
	}
	for _, p := range d.Products {
		if !f.Matches(p) {
			continue
		}
		if p.DeliveryStatus != "" {
			return p.DeliveryStatus, true
		}
		return d.Status, true
	}
	return "", false
}

// Normalize folds status aliases. reaching renders exactly like scheduled.
func Normalize(s models.DeliveryStatus) models.DeliveryStatus {
	if s == models.DeliveryReaching {
		return models.DeliveryScheduled
	}
	return s
}

// Categorize maps a raw status to its visual category. Unknown statuses are None.
func Categorize(s models.DeliveryStatus) Visual {
	switch Normalize(s) {
	case models.DeliveryScheduled:
		return Upcoming
	case models.DeliveryDelivered:
		return Delivered
	case models.DeliveryAwaitingCustomer:
		return Awaiting
	case models.DeliveryCanceled, models.DeliveryPaused:
		return Cancelled
	case models.DeliveryNoResponse:
		return NoResponse
	case models.DeliveryConcession:
		return Concession
	default:
		return None
	}
}

// Resolve is the full resolver: precedence, alias folding and categorization.
func Resolve(d *models.Delivery, f Filter) Visual {
	s, ok := Effective(d, f)
	if !ok {
		return None
	}
	return Categorize(s)
}

var appearances = map[Visual]Appearance{
	None:       {Visual: None, Label: "No delivery", Color: "#9CA3AF"},
	Upcoming:   {Visual: Upcoming, Label: "Upcoming", Color: "#3B82F6"},
	Delivered:  {Visual: Delivered, Label: "Delivered", Color: "#22C55E"},
	Awaiting:   {Visual: Awaiting, Label: "Confirm Receipt", Color: "#EAB308"},
	Cancelled:  {Visual: Cancelled, Label: "Cancelled", Color: "#EF4444"},
	NoResponse: {Visual: NoResponse, Label: "No Response", Color: "#EF4444"},
	Concession: {Visual: Concession, Label: "Compensated", Color: "#A855F7", Dashed: true},
}

// AppearanceOf returns the fixed presentation for a visual category.
func AppearanceOf(v Visual) Appearance {
	if a, ok := appearances[v]; ok {
		return a
	}
	return appearances[None]
}

// Describe resolves a delivery and returns its presentation. Paused shares the
// cancelled colour but keeps its own label.
func Describe(d *models.Delivery, f Filter) Appearance {
	s, ok := Effective(d, f)
	if !ok {
		return appearances[None]
	}
	a := AppearanceOf(Categorize(s))
	if s == models.DeliveryPaused {
		a.Label = "Paused"
	}
	return a
}

// Explain returns the compensation note shown for concession deliveries, or an
// empty string for anything else.
func Explain(d *models.Delivery) string {
	if d == nil || (d.Status != models.DeliveryConcession && !d.Concession) {
		return ""
	}
	details := d.ConcessionDetails
	if details == nil {
		return "This delivery was missed and has been compensated."
	}
	msg := "This delivery was missed and has been compensated"
	if details.RescheduledTo != "" {
		msg += fmt.Sprintf(" with a delivery on %s", utils.DateKey(details.RescheduledTo))
	}
	msg += "."
	if details.ExtendedSubscription {
		msg += " Your subscription has been extended to cover it."
	}
	return msg
}
