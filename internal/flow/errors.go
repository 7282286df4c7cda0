package flow

import (
	"errors"
	"fmt"
)

var (
	ErrBusy          = errors.New("a request is already in flight")
	ErrWrongStage    = errors.New("event not allowed in current stage")
	ErrNotInFlight   = errors.New("no request in flight")
	ErrNoMode        = errors.New("no intake mode selected")
	ErrInvalidMode   = errors.New("invalid intake mode")
	ErrInvalidDigit  = errors.New("code slot accepts a single digit")
	ErrTooManyFiles  = errors.New("file slots exhausted")
	ErrNoSuchSlot    = errors.New("no such slot")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrFilesDisabled = errors.New("file slots are only used in files mode")
)

// Message keys for validation failures, resolved by the message catalog.
const (
	KeyPhoneFormat    = "phone_format"
	KeyPhoneInvalid   = "phone_invalid"
	KeyCodeIncomplete = "code_incomplete"
	KeyNameRequired   = "name_required"
	KeyLinkRequired   = "link_required"
)

// ValidationError is a client side rejection. The state returned alongside
// it carries the same key in FieldError and no request is issued.
type ValidationError struct {
	Field string
	Key   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Key)
}

// IsValidation reports whether err is a client side validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
