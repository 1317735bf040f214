package client

import "github.com/julianstephens/milkrun/internal/models"

// Request and response bodies shared by the HTTP client and the API server.

type SubscriptionResponse struct {
	Subscription *models.Subscription `json:"subscription"`
}

type SlotRequest struct {
	Slot models.Slot `json:"slot"`
}

type RescheduleRequest struct {
	ToDate string      `json:"toDate"`
	Slot   models.Slot `json:"slot"`
}

type BulkRescheduleRequest struct {
	FromDates    []string    `json:"fromDates"`
	NewStartDate string      `json:"newStartDate"`
	Slot         models.Slot `json:"slot"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
