// Package flow implements the step-sequenced intake flow as a pure state
// machine. Nothing in this package performs I/O: callers feed events into
// Machine.Transition and act on the resulting request lifecycle.
package flow

import (
	"regexp"
	"strings"
)

// Stage is the position in the three-step intake sequence.
type Stage int

const (
	StagePhoneEntry Stage = iota + 1
	StageOtpEntry
	StageDetailsAndSubmit
)

func (s Stage) String() string {
	switch s {
	case StagePhoneEntry:
		return "phone"
	case StageOtpEntry:
		return "otp"
	case StageDetailsAndSubmit:
		return "details"
	default:
		return "unknown"
	}
}

// Mode selects how the client hands over their documents.
type Mode string

const (
	ModeNone  Mode = ""
	ModeFiles Mode = "files"
	ModeLink  Mode = "link"
)

// ParseMode validates a user supplied mode name.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFiles:
		return ModeFiles, true
	case ModeLink:
		return ModeLink, true
	}
	return ModeNone, false
}

// RequestStatus is the lifecycle of the single outstanding backend call.
type RequestStatus string

const (
	StatusIdle      RequestStatus = "idle"
	StatusInFlight  RequestStatus = "in_flight"
	StatusSucceeded RequestStatus = "succeeded"
	StatusFailed    RequestStatus = "failed"
)

// Operation names the backend call a request stands for.
type Operation string

const (
	OpNone        Operation = ""
	OpSendOTP     Operation = "send_otp"
	OpValidateOTP Operation = "validate_otp"
	OpSubmitFiles Operation = "submit_files"
	OpSubmitLink  Operation = "submit_link"
)

// Request tracks the last backend call issued by a session.
// Error holds the server supplied reason verbatim; ErrorKey is set instead
// for failures that never reached the server.
type Request struct {
	Status   RequestStatus `json:"status"`
	Op       Operation     `json:"op,omitempty"`
	Error    string        `json:"error,omitempty"`
	ErrorKey string        `json:"errorKey,omitempty"`
}

// FileRef points at a staged attachment occupying one file slot.
type FileRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
}

// Draft is the not yet submitted client record.
type Draft struct {
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
	Link  string    `json:"link,omitempty"`
	Files []FileRef `json:"files"`
}

// CodeLength is the number of digits in a verification code.
const CodeLength = 4

// Code is a verification code built one digit slot at a time.
type Code [CodeLength]string

// String assembles the slots in order.
func (c Code) String() string {
	return strings.Join(c[:], "")
}

// Complete reports whether every slot holds a digit.
func (c Code) Complete() bool {
	for _, d := range c {
		if d == "" {
			return false
		}
	}
	return true
}

// State is everything one intake session knows.
type State struct {
	Mode       Mode    `json:"mode"`
	Stage      Stage   `json:"stage"`
	Draft      Draft   `json:"draft"`
	Code       Code    `json:"code"`
	Focus      int     `json:"focus"`
	Request    Request `json:"request"`
	Notice     string  `json:"notice,omitempty"`
	FieldError string  `json:"fieldError,omitempty"`
}

// Busy reports whether a backend call is outstanding.
func (s State) Busy() bool {
	return s.Request.Status == StatusInFlight
}

// Clone returns a copy that shares no mutable memory with s.
func (s State) Clone() State {
	c := s
	if s.Draft.Files != nil {
		c.Draft.Files = append([]FileRef(nil), s.Draft.Files...)
	}
	return c
}

// DefaultPhonePattern is the Polish mobile format accepted by the backend.
const DefaultPhonePattern = `^\+48\s?[0-9]{9}$`

// DefaultMaxFiles bounds the number of file slots.
const DefaultMaxFiles = 10

// Rules parameterise validation.
type Rules struct {
	// PhonePattern gates the phone step. Nil disables local validation.
	PhonePattern *regexp.Regexp
	MaxFiles     int
	// RequireFullCode rejects submission of a partially typed code.
	RequireFullCode bool
}

// DefaultRules returns the rules used by the public intake form.
func DefaultRules() Rules {
	return Rules{
		PhonePattern:    regexp.MustCompile(DefaultPhonePattern),
		MaxFiles:        DefaultMaxFiles,
		RequireFullCode: true,
	}
}

// NormalizePhone strips all whitespace from a phone number.
func NormalizePhone(phone string) string {
	return strings.Join(strings.Fields(phone), "")
}
