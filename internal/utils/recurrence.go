package utils

import (
	"time"

	"github.com/julianstephens/milkrun/internal/models"
)

// ShouldDeliverProduct determines if a product is due on the given date based on
// its delivery frequency, measured from the subscription start. This logic is
// shared between materialization and validation to keep them consistent.
func ShouldDeliverProduct(freq models.Frequency, start, date time.Time) bool {
	daysSince := DaysBetween(start, date)
	if daysSince < 0 {
		return false
	}

	switch freq {
	case models.FrequencyDaily:
		return true
	case models.FrequencyAlternate:
		return daysSince%2 == 0
	case models.FrequencyWeekly:
		return date.Weekday() == start.Weekday()
	case models.FrequencyMonthly:
		// Same day of month as the start. Months without that day
		// (e.g. the 31st in April) are skipped rather than shifted.
		return date.Day() == start.Day()
	default:
		return false
	}
}
