package flow

import (
	"regexp"
	"strings"
)

// Notice keys set on successful transitions.
const (
	NoticeOTPSent        = "otp_sent"
	NoticeOTPConfirmed   = "otp_confirmed"
	NoticeFilesSubmitted = "files_submitted"
	NoticeLinkSubmitted  = "link_submitted"
)

// KeyRequestFailed is used when the server rejected a call without saying why.
const KeyRequestFailed = "request_failed"

// Event is an input to the state machine.
type Event interface {
	isEvent()
}

type (
	ModeSelected struct{ Mode Mode }
	ModeCleared  struct{}
	Reset        struct{}

	PhoneChanged struct{ Phone string }
	NameChanged  struct{ Name string }
	LinkChanged  struct{ Link string }

	// DigitEntered sets one code slot. An empty Value clears the slot.
	DigitEntered struct {
		Index int
		Value string
	}

	FileAdded    struct{ File FileRef }
	FileReplaced struct {
		Slot int
		File FileRef
	}
	FileRemoved struct{ Slot int }

	// SubmitRequested asks to issue the backend call of the current stage.
	SubmitRequested struct{}

	RequestSucceeded struct{}
	// RequestFailed carries the server's reason in Message, or a catalog
	// key in Key when the server could not be reached.
	RequestFailed struct {
		Message string
		Key     string
	}
)

func (ModeSelected) isEvent()     {}
func (ModeCleared) isEvent()      {}
func (Reset) isEvent()            {}
func (PhoneChanged) isEvent()     {}
func (NameChanged) isEvent()      {}
func (LinkChanged) isEvent()      {}
func (DigitEntered) isEvent()     {}
func (FileAdded) isEvent()        {}
func (FileReplaced) isEvent()     {}
func (FileRemoved) isEvent()      {}
func (SubmitRequested) isEvent()  {}
func (RequestSucceeded) isEvent() {}
func (RequestFailed) isEvent()    {}

var digitPattern = regexp.MustCompile(`^[0-9]?$`)

// Machine applies events under a fixed set of rules.
type Machine struct {
	rules Rules
}

// NewMachine creates a machine. A non-positive MaxFiles falls back to
// DefaultMaxFiles.
func NewMachine(rules Rules) *Machine {
	if rules.MaxFiles <= 0 {
		rules.MaxFiles = DefaultMaxFiles
	}
	return &Machine{rules: rules}
}

// Rules returns the rules the machine was built with.
func (m *Machine) Rules() Rules {
	return m.rules
}

// Initial returns the starting state for a mode.
func Initial(mode Mode) State {
	return State{
		Mode:    mode,
		Stage:   StagePhoneEntry,
		Draft:   Draft{Files: []FileRef{}},
		Request: Request{Status: StatusIdle},
	}
}

// Transition computes the state that follows s after e. On error the
// returned state is s unchanged, except for validation errors which also
// record the field error in the returned state.
func (m *Machine) Transition(s State, e Event) (State, error) {
	switch ev := e.(type) {
	case RequestSucceeded:
		return m.succeed(s)
	case RequestFailed:
		return m.fail(s, ev)
	}

	if s.Busy() {
		return s, ErrBusy
	}

	switch ev := e.(type) {
	case ModeSelected:
		if ev.Mode != ModeFiles && ev.Mode != ModeLink {
			return s, ErrInvalidMode
		}
		return Initial(ev.Mode), nil
	case ModeCleared:
		return Initial(ModeNone), nil
	case Reset:
		return Initial(s.Mode), nil
	}

	if s.Mode == ModeNone {
		return s, ErrNoMode
	}

	switch ev := e.(type) {
	case PhoneChanged:
		return m.changePhone(s, ev)
	case DigitEntered:
		return m.enterDigit(s, ev)
	case NameChanged:
		if s.Stage != StageDetailsAndSubmit {
			return s, ErrWrongStage
		}
		next := s.Clone()
		next.Draft.Name = ev.Name
		return next, nil
	case LinkChanged:
		if s.Stage != StageDetailsAndSubmit {
			return s, ErrWrongStage
		}
		if s.Mode != ModeLink {
			return s, ErrInvalidMode
		}
		next := s.Clone()
		next.Draft.Link = ev.Link
		return next, nil
	case FileAdded:
		return m.addFile(s, ev)
	case FileReplaced:
		return m.replaceFile(s, ev)
	case FileRemoved:
		return m.removeFile(s, ev)
	case SubmitRequested:
		return m.submit(s)
	}
	return s, ErrUnknownEvent
}

func (m *Machine) changePhone(s State, ev PhoneChanged) (State, error) {
	if s.Stage != StagePhoneEntry {
		return s, ErrWrongStage
	}
	next := s.Clone()
	next.Draft.Phone = ev.Phone
	next.FieldError = ""
	if !m.phoneValid(ev.Phone) {
		next.FieldError = KeyPhoneFormat
	}
	return next, nil
}

func (m *Machine) phoneValid(phone string) bool {
	if m.rules.PhonePattern == nil {
		return NormalizePhone(phone) != ""
	}
	return m.rules.PhonePattern.MatchString(phone)
}

func (m *Machine) enterDigit(s State, ev DigitEntered) (State, error) {
	if s.Stage != StageOtpEntry {
		return s, ErrWrongStage
	}
	if ev.Index < 0 || ev.Index >= CodeLength {
		return s, ErrNoSuchSlot
	}
	if !digitPattern.MatchString(ev.Value) {
		return s, ErrInvalidDigit
	}
	next := s.Clone()
	next.Code[ev.Index] = ev.Value
	next.FieldError = ""
	if ev.Value == "" {
		if ev.Index > 0 {
			next.Focus = ev.Index - 1
		} else {
			next.Focus = 0
		}
		return next, nil
	}
	next.Focus = nextEmptySlot(next.Code, ev.Index)
	return next, nil
}

// nextEmptySlot looks for an empty slot after from, wrapping to the first
// empty one. A full code keeps focus on from.
func nextEmptySlot(c Code, from int) int {
	for i := from + 1; i < CodeLength; i++ {
		if c[i] == "" {
			return i
		}
	}
	for i := 0; i < from; i++ {
		if c[i] == "" {
			return i
		}
	}
	return from
}

func (m *Machine) fileSlotsEditable(s State) error {
	if s.Stage != StageDetailsAndSubmit {
		return ErrWrongStage
	}
	if s.Mode != ModeFiles {
		return ErrFilesDisabled
	}
	return nil
}

func (m *Machine) addFile(s State, ev FileAdded) (State, error) {
	if err := m.fileSlotsEditable(s); err != nil {
		return s, err
	}
	if len(s.Draft.Files) >= m.rules.MaxFiles {
		return s, ErrTooManyFiles
	}
	next := s.Clone()
	next.Draft.Files = append(next.Draft.Files, ev.File)
	return next, nil
}

func (m *Machine) replaceFile(s State, ev FileReplaced) (State, error) {
	if err := m.fileSlotsEditable(s); err != nil {
		return s, err
	}
	if ev.Slot < 0 || ev.Slot >= len(s.Draft.Files) {
		return s, ErrNoSuchSlot
	}
	next := s.Clone()
	next.Draft.Files[ev.Slot] = ev.File
	return next, nil
}

func (m *Machine) removeFile(s State, ev FileRemoved) (State, error) {
	if err := m.fileSlotsEditable(s); err != nil {
		return s, err
	}
	if ev.Slot < 0 || ev.Slot >= len(s.Draft.Files) {
		return s, ErrNoSuchSlot
	}
	next := s.Clone()
	files := make([]FileRef, 0, len(s.Draft.Files)-1)
	files = append(files, s.Draft.Files[:ev.Slot]...)
	files = append(files, s.Draft.Files[ev.Slot+1:]...)
	next.Draft.Files = files
	return next, nil
}

func (m *Machine) submit(s State) (State, error) {
	switch s.Stage {
	case StagePhoneEntry:
		if !m.phoneValid(s.Draft.Phone) {
			return invalid(s, "phone", KeyPhoneInvalid)
		}
		next := s.Clone()
		next.Draft.Phone = NormalizePhone(s.Draft.Phone)
		return inFlight(next, OpSendOTP), nil
	case StageOtpEntry:
		if m.rules.RequireFullCode && !s.Code.Complete() {
			return invalid(s, "code", KeyCodeIncomplete)
		}
		return inFlight(s.Clone(), OpValidateOTP), nil
	case StageDetailsAndSubmit:
		if strings.TrimSpace(s.Draft.Name) == "" {
			return invalid(s, "name", KeyNameRequired)
		}
		op := OpSubmitFiles
		if s.Mode == ModeLink {
			if strings.TrimSpace(s.Draft.Link) == "" {
				return invalid(s, "link", KeyLinkRequired)
			}
			op = OpSubmitLink
		}
		return inFlight(s.Clone(), op), nil
	}
	return s, ErrWrongStage
}

func invalid(s State, field, key string) (State, error) {
	next := s.Clone()
	next.FieldError = key
	next.Request = Request{Status: StatusIdle}
	return next, &ValidationError{Field: field, Key: key}
}

func inFlight(s State, op Operation) State {
	s.Request = Request{Status: StatusInFlight, Op: op}
	s.Notice = ""
	s.FieldError = ""
	return s
}

func (m *Machine) succeed(s State) (State, error) {
	if !s.Busy() {
		return s, ErrNotInFlight
	}
	op := s.Request.Op
	next := s.Clone()
	switch op {
	case OpSendOTP:
		next.Stage = StageOtpEntry
		next.Code = Code{}
		next.Focus = 0
		next.Notice = NoticeOTPSent
	case OpValidateOTP:
		next.Stage = StageDetailsAndSubmit
		next.Code = Code{}
		next.Focus = 0
		next.Notice = NoticeOTPConfirmed
	case OpSubmitFiles, OpSubmitLink:
		next = Initial(s.Mode)
		next.Notice = NoticeFilesSubmitted
		if op == OpSubmitLink {
			next.Notice = NoticeLinkSubmitted
		}
	}
	next.Request = Request{Status: StatusSucceeded, Op: op}
	return next, nil
}

func (m *Machine) fail(s State, ev RequestFailed) (State, error) {
	if !s.Busy() {
		return s, ErrNotInFlight
	}
	next := s.Clone()
	next.Request = Request{
		Status:   StatusFailed,
		Op:       s.Request.Op,
		Error:    ev.Message,
		ErrorKey: ev.Key,
	}
	if ev.Message == "" && ev.Key == "" {
		next.Request.ErrorKey = KeyRequestFailed
	}
	return next, nil
}

// DroppedFiles lists attachments referenced by before that after no longer
// holds, so their staged blobs can be released.
func DroppedFiles(before, after State) []FileRef {
	kept := make(map[string]struct{}, len(after.Draft.Files))
	for _, f := range after.Draft.Files {
		kept[f.ID] = struct{}{}
	}
	var dropped []FileRef
	for _, f := range before.Draft.Files {
		if _, ok := kept[f.ID]; !ok {
			dropped = append(dropped, f)
		}
	}
	return dropped
}
