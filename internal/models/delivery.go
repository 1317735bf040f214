package models

type DeliveryStatus string

const (
	DeliveryScheduled        DeliveryStatus = "scheduled"
	DeliveryReaching         DeliveryStatus = "reaching"
	DeliveryAwaitingCustomer DeliveryStatus = "awaitingCustomer"
	DeliveryDelivered        DeliveryStatus = "delivered"
	DeliveryPaused           DeliveryStatus = "paused"
	DeliveryCanceled         DeliveryStatus = "canceled"
	DeliveryNoResponse       DeliveryStatus = "noResponse"
	DeliveryConcession       DeliveryStatus = "concession"
)

// Known reports whether the status is part of the delivery lifecycle.
func (s DeliveryStatus) Known() bool {
	switch s {
	case DeliveryScheduled, DeliveryReaching, DeliveryAwaitingCustomer, DeliveryDelivered,
		DeliveryPaused, DeliveryCanceled, DeliveryNoResponse, DeliveryConcession:
		return true
	}
	return false
}

// Terminal statuses cannot be moved or have their slot changed.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryCanceled
}

// Movable statuses may be selected for rescheduling.
func (s DeliveryStatus) Movable() bool {
	return s == DeliveryScheduled || s == DeliveryReaching || s == DeliveryAwaitingCustomer
}

type DeliveryProduct struct {
	ProductID      string         `json:"productId"`
	Name           string         `json:"name"`
	QuantityValue  float64        `json:"quantityValue"`
	QuantityUnit   string         `json:"quantityUnit"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus,omitempty"`
}

type ConcessionDetails struct {
	OriginalDate         string `json:"originalDate"`
	RescheduledTo        string `json:"rescheduledTo"`
	ExtendedSubscription bool   `json:"extendedSubscription"`
}

type Delivery struct {
	ID                string             `json:"id"`
	SubscriptionID    string             `json:"subscriptionId,omitempty"`
	Date              string             `json:"date"` // YYYY-MM-DD, may arrive as a full ISO timestamp
	Slot              Slot               `json:"slot"`
	Status            DeliveryStatus     `json:"status"`
	Products          []DeliveryProduct  `json:"products"`
	Concession        bool               `json:"concession"`
	ConcessionDetails *ConcessionDetails `json:"concessionDetails,omitempty"`
}

// Clone returns a deep copy so readers cannot mutate shared delivery state.
func (d Delivery) Clone() Delivery {
	out := d
	if d.Products != nil {
		out.Products = make([]DeliveryProduct, len(d.Products))
		copy(out.Products, d.Products)
	}
	if d.ConcessionDetails != nil {
		details := *d.ConcessionDetails
		out.ConcessionDetails = &details
	}
	return out
}

// CloneDeliveries deep-copies a slice of deliveries.
func CloneDeliveries(in []Delivery) []Delivery {
	if in == nil {
		return nil
	}
	out := make([]Delivery, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}

// Clone returns a deep copy of the subscription including its deliveries.
func (s Subscription) Clone() Subscription {
	out := s
	if s.Products != nil {
		out.Products = make([]SubscriptionProduct, len(s.Products))
		copy(out.Products, s.Products)
	}
	out.Deliveries = CloneDeliveries(s.Deliveries)
	return out
}

// AvailableDate is one candidate returned by an availability query. BlockEnd is
// set for multi-day queries and holds the last date of the offered block.
type AvailableDate struct {
	Date     string `json:"date"`
	Slot     Slot   `json:"slot"`
	Weekday  string `json:"weekday"`
	BlockEnd string `json:"blockEnd,omitempty"`
}

type Availability struct {
	AvailableDates []AvailableDate `json:"availableDates"`
}

// Result is the outcome of a mutation call on the delivery service.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
