package backend

import (
	"errors"
	"fmt"
)

// RequestError is a failed call to the intake service. Status is zero when
// the service could not be reached; Message is the service's own reason.
type RequestError struct {
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil && e.Status == 0:
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Endpoint, e.Status, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.Status)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Unreachable reports whether the request never got an HTTP response.
func (e *RequestError) Unreachable() bool {
	return e.Status == 0
}

// AsRequestError extracts a RequestError from err.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
