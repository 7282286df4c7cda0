package web

import (
	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/client-intake/frontend/internal/models"
)

// ChoicePage is the mode selector.
type ChoicePage struct {
	Title string
}

// DigitSlot is one input of the verification code.
type DigitSlot struct {
	Index int
	Value string
	Focus bool
}

// IntakePage renders the current step of a session.
type IntakePage struct {
	Title      string
	State      flow.State
	MaxFiles   int
	Notice     string
	Failure    string
	FieldError string
}

// NewIntakePage resolves the state's message keys against catalog.
func NewIntakePage(catalog *messages.Catalog, s flow.State, maxFiles int) IntakePage {
	p := IntakePage{
		Title:    catalog.Text("choice_title"),
		State:    s,
		MaxFiles: maxFiles,
	}
	if s.Notice != "" {
		p.Notice = catalog.Text(s.Notice)
	}
	if s.Request.Status == flow.StatusFailed {
		p.Failure = catalog.Failure(s.Request.Error, s.Request.ErrorKey)
	}
	if s.FieldError != "" {
		p.FieldError = catalog.Text(s.FieldError)
	}
	return p
}

func (p IntakePage) PhoneStep() bool   { return p.State.Stage == flow.StagePhoneEntry }
func (p IntakePage) OtpStep() bool     { return p.State.Stage == flow.StageOtpEntry }
func (p IntakePage) DetailsStep() bool { return p.State.Stage == flow.StageDetailsAndSubmit }
func (p IntakePage) LinkMode() bool    { return p.State.Mode == flow.ModeLink }
func (p IntakePage) Busy() bool        { return p.State.Busy() }

// CanAddFiles reports whether another file slot is free.
func (p IntakePage) CanAddFiles() bool {
	return len(p.State.Draft.Files) < p.MaxFiles
}

// Digits lists the code inputs; the focused one gets autofocus.
func (p IntakePage) Digits() []DigitSlot {
	slots := make([]DigitSlot, flow.CodeLength)
	for i := range slots {
		slots[i] = DigitSlot{Index: i, Value: p.State.Code[i], Focus: i == p.State.Focus}
	}
	return slots
}

// ClientsPage lists submitted clients.
type ClientsPage struct {
	Title   string
	Clients []models.Client
	Failed  bool
	Error   string
}

// NewClientsPage renders a loaded or failed client list.
func NewClientsPage(catalog *messages.Catalog, list flow.ClientList) ClientsPage {
	p := ClientsPage{
		Title:   catalog.Text("clients_title"),
		Clients: list.Clients,
	}
	if list.Status == flow.ListFailed {
		p.Failed = true
		p.Error = catalog.Text(list.ErrorKey)
	}
	return p
}

// ErrorPage reports a request the pages could not serve.
type ErrorPage struct {
	Title   string
	Message string
}

// NewErrorPage renders the message stored under key.
func NewErrorPage(catalog *messages.Catalog, key string) ErrorPage {
	return ErrorPage{Title: catalog.Text("error_title"), Message: catalog.Text(key)}
}
