package reschedule

import (
	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Action is something the customer may do with a calendar day.
type Action string

const (
	ActionChangeSlot Action = "change-slot"
	ActionReschedule Action = "reschedule"
	ActionSelect     Action = "select"
	ActionConfirm    Action = "confirm"
	ActionExplain    Action = "explain"
)

// Actions lists what is offered for a delivery on the given day. Compensated
// deliveries only explain themselves.
func Actions(d *models.Delivery, today string) []Action {
	if d == nil {
		return nil
	}
	if d.Status == models.DeliveryConcession || d.Concession {
		return []Action{ActionExplain}
	}
	if utils.IsPast(d.Date, today) {
		return nil
	}

	var actions []Action
	if models.CanTransition(d.Status, models.EventSlotChange) {
		actions = append(actions, ActionChangeSlot)
	}
	if models.CanTransition(d.Status, models.EventReschedule) {
		actions = append(actions, ActionReschedule, ActionSelect)
	}
	if ConfirmOffered(d, today) {
		actions = append(actions, ActionConfirm)
	}
	return actions
}

// Has reports whether action is in actions.
func Has(actions []Action, action Action) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// ConfirmOffered reports whether the confirm control is shown. Besides a
// delivery awaiting the customer it also covers today's scheduled and
// reaching deliveries; the server may still decline those.
func ConfirmOffered(d *models.Delivery, today string) bool {
	if d == nil || !utils.SameDay(d.Date, today) {
		return false
	}
	switch d.Status {
	case models.DeliveryScheduled, models.DeliveryReaching, models.DeliveryAwaitingCustomer:
		return true
	}
	return false
}
