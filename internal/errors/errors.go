package errors

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/julianstephens/milkrun/internal/logger"
)

// Sentinels for the error taxonomy. Match with errors.Is; use errors.As with the
// concrete types below to reach details such as the server message.
var (
	ErrFetch                = stderrors.New("fetch failed")
	ErrValidation           = stderrors.New("validation failed")
	ErrMutationRejected     = stderrors.New("mutation rejected")
	ErrConfirmationRejected = stderrors.New("confirmation rejected")
	ErrSubmissionInFlight   = stderrors.New("a submission is already in progress")
)

// FetchError reports that the subscription or calendar could not be loaded.
// Callers recover by showing an empty state and offering a retry.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ValidationError blocks a submission locally, before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MutationRejected reports that a reschedule, slot change or confirm did not
// apply. Message is shown to the user verbatim. Code is the server's decline
// code and is empty when the request never reached a decision (transport failure).
type MutationRejected struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *MutationRejected) Error() string {
	return e.Message
}

func (e *MutationRejected) Unwrap() error { return e.Err }

func (e *MutationRejected) Is(target error) bool { return target == ErrMutationRejected }

// Retryable reports whether the user may simply re-invoke the action.
func (e *MutationRejected) Retryable() bool {
	return e.Code == ""
}

// ConfirmationRejected is the confirm-delivery case of MutationRejected: the
// server requires the delivery to be awaiting the customer.
type ConfirmationRejected struct {
	Date    string
	Message string
	Err     error
}

func (e *ConfirmationRejected) Error() string {
	return e.Message
}

func (e *ConfirmationRejected) Unwrap() error { return e.Err }

func (e *ConfirmationRejected) Is(target error) bool {
	return target == ErrConfirmationRejected || target == ErrMutationRejected
}

// UserMessage returns the text a screen should show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve.Message
	}
	var cr *ConfirmationRejected
	if stderrors.As(err, &cr) {
		return cr.Message
	}
	var mr *MutationRejected
	if stderrors.As(err, &mr) {
		return mr.Message
	}
	var fe *FetchError
	if stderrors.As(err, &fe) {
		return fmt.Sprintf("Could not load %s. Try again.", fe.Resource)
	}
	return err.Error()
}

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %s", UserMessage(err))
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}
