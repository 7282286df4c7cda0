// Package tui is a terminal front-end for the intake flow. It drives the same
// session manager as the web pages, one session per terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/client-intake/frontend/internal/models"
	"github.com/client-intake/frontend/internal/session"
	"github.com/client-intake/frontend/internal/storage"
)

// Sessions is the part of the session manager the terminal needs.
type Sessions interface {
	Create(mode flow.Mode) (session.SessionState, error)
	Apply(id string, e flow.Event) (flow.State, error)
	SelectMode(id string, mode flow.Mode) (flow.State, error)
	AddFile(id, name, contentType string, r io.Reader) (flow.State, error)
	RemoveFile(id string, slot int) (flow.State, error)
	Submit(ctx context.Context, id string) (flow.State, error)
	Reset(id string) (flow.State, error)
	Delete(id string) error
	Machine() *flow.Machine
}

var _ Sessions = (*session.Manager)(nil)

type screen int

const (
	screenChoice screen = iota
	screenIntake
	screenClients
)

// field is the focused input of the details step.
type field int

const (
	fieldName  field = iota
	fieldExtra       // link or file path, depending on mode
)

type submitDoneMsg struct {
	state flow.State
	err   error
}

type clientsMsg struct {
	list flow.ClientList
}

// Model is the bubbletea model of one intake session.
type Model struct {
	sessions Sessions
	lister   flow.ClientLister
	catalog  *messages.Catalog
	styles   Styles

	id         string
	state      flow.State
	screen     screen
	focus      field
	submitting bool
	quitting   bool
	status     string

	phone   textinput.Model
	name    textinput.Model
	link    textinput.Model
	path    textinput.Model
	spinner spinner.Model

	clients flow.ClientList
}

// New opens a session and returns a model showing the mode selector.
func New(sessions Sessions, lister flow.ClientLister, catalog *messages.Catalog) (Model, error) {
	st, err := sessions.Create(flow.ModeNone)
	if err != nil {
		return Model{}, fmt.Errorf("creating session: %w", err)
	}

	input := func(placeholderKey string, limit int) textinput.Model {
		ti := textinput.New()
		ti.Placeholder = catalog.Text(placeholderKey)
		ti.CharLimit = limit
		ti.Width = 40
		return ti
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		sessions: sessions,
		lister:   lister,
		catalog:  catalog,
		styles:   DefaultStyles(),
		id:       st.ID,
		state:    st.State,
		phone:    input("phone_placeholder", 20),
		name:     input("name_placeholder", 120),
		link:     input("link_placeholder", 2048),
		path:     input("file_path_placeholder", 4096),
		spinner:  sp,
	}, nil
}

// SessionID returns the id of the session driven by the model.
func (m Model) SessionID() string {
	return m.id
}

// State returns the last known flow state.
func (m Model) State() flow.State {
	return m.state
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if w := msg.Width - 4; w > 10 && w < 80 {
			m.phone.Width, m.name.Width, m.link.Width, m.path.Width = w, w, w, w
		}
		return m, nil

	case spinner.TickMsg:
		if !m.submitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case submitDoneMsg:
		m.submitting = false
		m.status = ""
		if msg.err != nil && !flow.IsValidation(msg.err) {
			m.status = m.errorText(msg.err)
		}
		m.setState(msg.state)
		if m.quitting {
			return m.quit()
		}
		return m, nil

	case clientsMsg:
		m.clients = msg.list
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m.quit()
		}
		switch m.screen {
		case screenChoice:
			return m.updateChoice(msg)
		case screenClients:
			return m.updateClients(msg)
		default:
			return m.updateIntake(msg)
		}
	}
	return m, nil
}

func (m Model) updateChoice(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "f", "1":
		return m.selectMode(flow.ModeFiles)
	case "l", "2":
		return m.selectMode(flow.ModeLink)
	case "c":
		m.screen = screenClients
		return m.loadClients()
	case "q":
		return m.quit()
	}
	return m, nil
}

func (m Model) updateClients(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "r":
		return m.loadClients()
	case "esc", "b":
		m.screen = screenChoice
		if m.state.Mode != flow.ModeNone {
			m.screen = screenIntake
		}
	case "q":
		return m.quit()
	}
	return m, nil
}

func (m Model) selectMode(mode flow.Mode) (tea.Model, tea.Cmd) {
	s, err := m.sessions.SelectMode(m.id, mode)
	if err != nil {
		m.status = m.errorText(err)
		return m, nil
	}
	m.status = ""
	m.screen = screenIntake
	m.phone.SetValue("")
	m.setState(s)
	return m, textinput.Blink
}

// loadClients shows the loading state and fetches the list once.
func (m Model) loadClients() (tea.Model, tea.Cmd) {
	m.clients = flow.ClientList{Status: flow.ListLoading}
	lister := m.lister
	return m, func() tea.Msg {
		return clientsMsg{list: flow.LoadClientList(context.Background(), lister)}
	}
}

func (m Model) updateIntake(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		s, err := m.sessions.SelectMode(m.id, flow.ModeNone)
		if err != nil {
			m.status = m.errorText(err)
			return m, nil
		}
		m.state = s
		m.status = ""
		m.screen = screenChoice
		return m, nil
	case "ctrl+r":
		s, err := m.sessions.Reset(m.id)
		if err != nil {
			m.status = m.errorText(err)
			return m, nil
		}
		m.status = ""
		m.phone.SetValue("")
		m.name.SetValue("")
		m.link.SetValue("")
		m.path.SetValue("")
		m.setState(s)
		return m, nil
	}

	switch m.state.Stage {
	case flow.StagePhoneEntry:
		return m.updatePhone(msg)
	case flow.StageOtpEntry:
		return m.updateOtp(msg)
	default:
		return m.updateDetails(msg)
	}
}

func (m Model) updatePhone(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		return m.submit()
	}
	var cmd tea.Cmd
	before := m.phone.Value()
	m.phone, cmd = m.phone.Update(msg)
	if m.phone.Value() != before {
		m.apply(flow.PhoneChanged{Phone: m.phone.Value()})
	}
	return m, cmd
}

func (m Model) updateOtp(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyBackspace:
		slot := m.state.Focus
		if m.state.Code[slot] == "" && slot > 0 {
			slot--
		}
		m.apply(flow.DigitEntered{Index: slot})
	case tea.KeyLeft:
		if m.state.Focus > 0 {
			m.state.Focus--
		}
	case tea.KeyRight:
		if m.state.Focus < flow.CodeLength-1 {
			m.state.Focus++
		}
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if r < '0' || r > '9' {
				continue
			}
			m.apply(flow.DigitEntered{Index: m.state.Focus, Value: string(r)})
		}
	}
	return m, nil
}

func (m Model) updateDetails(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		if m.focus == fieldName {
			m.focus = fieldExtra
		} else {
			m.focus = fieldName
		}
		m.focusInputs()
		return m, textinput.Blink
	case "ctrl+x":
		if n := len(m.state.Draft.Files); n > 0 {
			s, err := m.sessions.RemoveFile(m.id, n-1)
			m.afterAction(s, err)
		}
		return m, nil
	case "enter":
		if m.focus == fieldExtra && m.state.Mode == flow.ModeFiles && strings.TrimSpace(m.path.Value()) != "" {
			m.addFile(strings.TrimSpace(m.path.Value()))
			return m, nil
		}
		return m.submit()
	}

	var cmd tea.Cmd
	switch {
	case m.focus == fieldName:
		before := m.name.Value()
		m.name, cmd = m.name.Update(msg)
		if m.name.Value() != before {
			m.apply(flow.NameChanged{Name: m.name.Value()})
		}
	case m.state.Mode == flow.ModeLink:
		before := m.link.Value()
		m.link, cmd = m.link.Update(msg)
		if m.link.Value() != before {
			m.apply(flow.LinkChanged{Link: m.link.Value()})
		}
	default:
		m.path, cmd = m.path.Update(msg)
	}
	return m, cmd
}

func (m *Model) addFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		m.status = m.catalog.Text("file_open_failed", err.Error())
		return
	}
	defer f.Close()

	name := filepath.Base(path)
	s, err := m.sessions.AddFile(m.id, name, mime.TypeByExtension(filepath.Ext(name)), f)
	m.afterAction(s, err)
	if err == nil {
		m.path.SetValue("")
	}
}

func (m *Model) apply(e flow.Event) {
	s, err := m.sessions.Apply(m.id, e)
	m.afterAction(s, err)
}

// afterAction adopts the state returned by a session call. Rejected events
// keep the current state and surface the error.
func (m *Model) afterAction(s flow.State, err error) {
	if err != nil && !flow.IsValidation(err) {
		m.status = m.errorText(err)
		return
	}
	m.status = ""
	m.setState(s)
}

// quit deletes the session and exits. A request in flight is allowed to
// finish first.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.submitting {
		m.quitting = true
		m.status = m.catalog.Text("busy")
		return m, nil
	}
	_ = m.sessions.Delete(m.id)
	return m, tea.Quit
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.submitting {
		m.status = m.catalog.Text("busy")
		return m, nil
	}
	m.submitting = true
	m.status = ""

	sessions, id := m.sessions, m.id
	run := func() tea.Msg {
		s, err := sessions.Submit(context.Background(), id)
		return submitDoneMsg{state: s, err: err}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

// setState stores s. Entering a new stage loads its inputs from the draft
// and moves focus to the first field.
func (m *Model) setState(s flow.State) {
	if s.Stage != m.state.Stage || s.Mode != m.state.Mode {
		m.focus = fieldName
		m.phone.SetValue(s.Draft.Phone)
		m.name.SetValue(s.Draft.Name)
		m.link.SetValue(s.Draft.Link)
		m.path.SetValue("")
	}
	m.state = s
	m.focusInputs()
}

func (m *Model) focusInputs() {
	m.phone.Blur()
	m.name.Blur()
	m.link.Blur()
	m.path.Blur()
	switch m.state.Stage {
	case flow.StagePhoneEntry:
		m.phone.Focus()
	case flow.StageDetailsAndSubmit:
		switch {
		case m.focus == fieldName:
			m.name.Focus()
		case m.state.Mode == flow.ModeLink:
			m.link.Focus()
		default:
			m.path.Focus()
		}
	}
}

func (m Model) errorText(err error) string {
	switch {
	case errors.Is(err, flow.ErrBusy):
		return m.catalog.Text("busy")
	case errors.Is(err, storage.ErrTooLarge):
		return m.catalog.Text("file_too_large")
	case errors.Is(err, flow.ErrTooManyFiles):
		return m.catalog.Text("too_many_files")
	}
	return m.catalog.Text(messages.KeyRequestError, err.Error())
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	switch m.screen {
	case screenChoice:
		m.viewChoice(&b)
	case screenClients:
		m.viewClients(&b)
	default:
		m.viewIntake(&b)
	}
	if m.status != "" {
		b.WriteString("\n" + m.styles.Error.Render(m.status) + "\n")
	}
	return b.String()
}

func (m Model) viewChoice(b *strings.Builder) {
	b.WriteString(m.styles.Title.Render(m.catalog.Text("choice_title")) + "\n\n")
	b.WriteString(m.catalog.Text("choice_hint") + "\n\n")
	b.WriteString("  [f] " + m.catalog.Text("choice_files") + "\n")
	b.WriteString("  [l] " + m.catalog.Text("choice_link") + "\n")
	b.WriteString("  [c] " + m.catalog.Text("clients_title") + "\n\n")
	b.WriteString(m.styles.Help.Render(m.catalog.Text("keys_choice")) + "\n")
}

func (m Model) viewIntake(b *strings.Builder) {
	title := m.catalog.Text("choice_files")
	if m.state.Mode == flow.ModeLink {
		title = m.catalog.Text("choice_link")
	}
	b.WriteString(m.styles.Title.Render(title) + "\n\n")

	if m.state.Notice != "" {
		b.WriteString(m.styles.Notice.Render(m.catalog.Text(m.state.Notice)) + "\n\n")
	}
	if m.state.Request.Status == flow.StatusFailed {
		b.WriteString(m.styles.Error.Render(m.catalog.Failure(m.state.Request.Error, m.state.Request.ErrorKey)) + "\n\n")
	}

	switch m.state.Stage {
	case flow.StagePhoneEntry:
		b.WriteString(m.catalog.Text("phone_label") + "\n")
		b.WriteString(m.phone.View() + "\n")
	case flow.StageOtpEntry:
		b.WriteString(m.catalog.Text("otp_label") + "\n")
		b.WriteString(m.viewCode() + "\n")
	default:
		m.viewDetails(b)
	}

	if m.state.FieldError != "" {
		b.WriteString(m.styles.Error.Render(m.catalog.Text(m.state.FieldError)) + "\n")
	}
	if m.submitting {
		b.WriteString("\n" + m.spinner.View() + " " + m.catalog.Text("sending") + "\n")
	}

	help := m.catalog.Text("keys_intake")
	if m.state.Stage == flow.StageDetailsAndSubmit {
		help += "\n" + m.catalog.Text("keys_details")
	}
	b.WriteString("\n" + m.styles.Help.Render(help) + "\n")
}

func (m Model) viewCode() string {
	cells := make([]string, 0, flow.CodeLength)
	for i, d := range m.state.Code {
		if d == "" {
			d = " "
		}
		style := m.styles.Digit
		if i == m.state.Focus {
			style = m.styles.DigitFocused
		}
		cells = append(cells, style.Render(d))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (m Model) viewDetails(b *strings.Builder) {
	b.WriteString(m.name.View() + "\n")
	if m.state.Mode == flow.ModeLink {
		b.WriteString(m.link.View() + "\n")
		return
	}

	maxFiles := m.sessions.Machine().Rules().MaxFiles
	b.WriteString(fmt.Sprintf("\n%s (%d/%d)\n", m.catalog.Text("files_label"), len(m.state.Draft.Files), maxFiles))
	for i, f := range m.state.Draft.Files {
		b.WriteString(fmt.Sprintf("  %d. %s %s\n", i+1, f.Name, m.styles.Help.Render(humanSize(f.Size))))
	}
	if len(m.state.Draft.Files) < maxFiles {
		b.WriteString(m.path.View() + "\n")
	} else {
		b.WriteString(m.styles.Help.Render(m.catalog.Text("files_limit", maxFiles)) + "\n")
	}
}

func (m Model) viewClients(b *strings.Builder) {
	b.WriteString(m.styles.Title.Render(m.catalog.Text("clients_title")) + "\n\n")
	switch m.clients.Status {
	case flow.ListFailed:
		b.WriteString(m.styles.Error.Render(m.catalog.Text(m.clients.ErrorKey)) + "\n")
	case flow.ListLoaded:
		if len(m.clients.Clients) == 0 {
			b.WriteString(m.catalog.Text("clients_empty") + "\n")
		} else {
			b.WriteString(ClientTable(m.catalog, m.clients.Clients) + "\n")
		}
	default:
		b.WriteString(m.catalog.Text("clients_loading") + "\n")
	}
	b.WriteString("\n" + m.styles.Help.Render(m.catalog.Text("keys_clients")) + "\n")
}

// ClientTable renders clients as a bordered table with one file URL per line.
func ClientTable(catalog *messages.Catalog, clients []models.Client) string {
	rows := make([][]string, 0, len(clients))
	for _, c := range clients {
		files := catalog.Text("clients_no_files")
		if len(c.Files) > 0 {
			urls := make([]string, 0, len(c.Files))
			for _, f := range c.Files {
				urls = append(urls, f.Asset.URL)
			}
			files = strings.Join(urls, "\n")
		}
		rows = append(rows, []string{c.Name, c.Email, c.Phone, files})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(
			catalog.Text("clients_name"),
			catalog.Text("clients_email"),
			catalog.Text("clients_phone"),
			catalog.Text("clients_files"),
		).
		Rows(rows...).
		Render()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
