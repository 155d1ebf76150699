package billing

import (
	"errors"
	"fmt"
)

// EventError classifies webhook processing failures so the HTTP layer can
// choose a response code. 4xx responses tell the provider not to redeliver
// a malformed or unresolvable event; 5xx responses request a retry.
type EventError struct {
	Status int
	Reason string
}

func (e *EventError) Error() string {
	return fmt.Sprintf("webhook event rejected (%d): %s", e.Status, e.Reason)
}

func badEvent(format string, args ...interface{}) *EventError {
	return &EventError{Status: 400, Reason: fmt.Sprintf(format, args...)}
}

func eventNotFound(format string, args ...interface{}) *EventError {
	return &EventError{Status: 404, Reason: fmt.Sprintf(format, args...)}
}

// StatusForError maps a webhook processing error to an HTTP status code.
// Unclassified errors are treated as transient so the provider redelivers.
func StatusForError(err error) int {
	if err == nil {
		return 200
	}
	var ee *EventError
	if errors.As(err, &ee) {
		return ee.Status
	}
	return 500
}
