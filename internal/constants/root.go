package constants

import "time"

const (
	AppName            = "milkrun"
	DefaultKeyringUser = "database-connection"
	DefaultConfigPath  = "~/.config/milkrun/milkrun.db"
	Version            = "v0.3.0"

	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// DateTimeSeparator marks where the time component of an ISO-8601 string begins
	DateTimeSeparator = "T"

	// CustomerHeader carries the customer identity on API requests
	CustomerHeader = "X-Customer-ID"

	// API constants
	DefaultListenAddr     = ":8085"
	DefaultRequestTimeout = 15 * time.Second
	ShutdownTimeout       = 10 * time.Second

	// Server error codes
	CodeMissingCustomer      = "missing_customer"
	CodeValidation           = "validation_failed"
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
	CodeInvalidTransition    = "invalid_transition"
	CodeConfirmationRejected = "confirmation_rejected"
	CodeUnavailableDate      = "date_unavailable"
	CodeInternal             = "internal_error"
)
