package provider

import (
	"fmt"
	"strings"
)

// SubmitError is a rejected or failed submission. StatusCode is 0 when the
// endpoint was never reached.
type SubmitError struct {
	StatusCode int
	Message    string
	// Transient marks failures worth retrying on the same credential, such as
	// transport errors, 408, 429 and 5xx.
	Transient bool
	Cause     error
}

func (e *SubmitError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("submit failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *SubmitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Temporary reports whether the endpoint failed rather than refused the URL.
func (e *SubmitError) Temporary() bool {
	return e != nil && e.Transient
}

func statusError(statusCode int, body string) *SubmitError {
	message := fmt.Sprintf("indexing endpoint returned status %d", statusCode)
	if body != "" {
		message = fmt.Sprintf("%s: %s", message, body)
	}
	return &SubmitError{
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
