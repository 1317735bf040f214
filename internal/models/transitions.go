package models

// Event names a trigger that moves a delivery between statuses.
type Event string

const (
	EventReschedule Event = "reschedule"
	EventSlotChange Event = "slot_change"
	EventDispatch   Event = "dispatch"
	EventArrive     Event = "arrive"
	EventConfirm    Event = "confirm"
	EventNoResponse Event = "no_response"
	EventConcession Event = "concession"
	EventPause      Event = "pause"
	EventResume     Event = "resume"
	EventCancel     Event = "cancel"
)

// Transition is a single allowed edge in the delivery lifecycle.
type Transition struct {
	From  DeliveryStatus
	To    DeliveryStatus
	Event Event
}

var transitionsTable = []Transition{
	// Customer-initiated moves keep the status
	{From: DeliveryScheduled, To: DeliveryScheduled, Event: EventReschedule},
	{From: DeliveryReaching, To: DeliveryScheduled, Event: EventReschedule},
	{From: DeliveryAwaitingCustomer, To: DeliveryScheduled, Event: EventReschedule},
	{From: DeliveryScheduled, To: DeliveryScheduled, Event: EventSlotChange},
	{From: DeliveryReaching, To: DeliveryReaching, Event: EventSlotChange},
	{From: DeliveryAwaitingCustomer, To: DeliveryAwaitingCustomer, Event: EventSlotChange},
	{From: DeliveryPaused, To: DeliveryPaused, Event: EventSlotChange},
	{From: DeliveryNoResponse, To: DeliveryNoResponse, Event: EventSlotChange},

	// Fulfilment path
	{From: DeliveryScheduled, To: DeliveryReaching, Event: EventDispatch},
	{From: DeliveryReaching, To: DeliveryAwaitingCustomer, Event: EventArrive},
	{From: DeliveryAwaitingCustomer, To: DeliveryDelivered, Event: EventConfirm},

	// Missed deliveries
	{From: DeliveryScheduled, To: DeliveryNoResponse, Event: EventNoResponse},
	{From: DeliveryReaching, To: DeliveryNoResponse, Event: EventNoResponse},
	{From: DeliveryAwaitingCustomer, To: DeliveryNoResponse, Event: EventNoResponse},

	// Compensation
	{From: DeliveryScheduled, To: DeliveryConcession, Event: EventConcession},
	{From: DeliveryReaching, To: DeliveryConcession, Event: EventConcession},
	{From: DeliveryAwaitingCustomer, To: DeliveryConcession, Event: EventConcession},
	{From: DeliveryNoResponse, To: DeliveryConcession, Event: EventConcession},
	{From: DeliveryPaused, To: DeliveryConcession, Event: EventConcession},

	// Subscription-level changes
	{From: DeliveryScheduled, To: DeliveryPaused, Event: EventPause},
	{From: DeliveryPaused, To: DeliveryScheduled, Event: EventResume},
	{From: DeliveryScheduled, To: DeliveryCanceled, Event: EventCancel},
	{From: DeliveryPaused, To: DeliveryCanceled, Event: EventCancel},
}

// TransitionFor returns the allowed transition for a given status and event.
func TransitionFor(from DeliveryStatus, ev Event) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// CanTransition reports whether ev is allowed from the given status.
func CanTransition(from DeliveryStatus, ev Event) bool {
	_, ok := TransitionFor(from, ev)
	return ok
}
