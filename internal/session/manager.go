package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/client-intake/frontend/internal/backend"
	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/history"
	"github.com/client-intake/frontend/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxSessions limits concurrent sessions to prevent memory exhaustion
const DefaultMaxSessions = 1000

// SessionMaxAge is how long an untouched session is kept before cleanup
const SessionMaxAge = 30 * time.Minute

// KeyServerUnavailable is reported when the intake service gave no answer.
const KeyServerUnavailable = "server_unavailable"

var (
	ErrNotFound = errors.New("session not found")
	ErrCapacity = errors.New("too many active sessions")
	// ErrUseSubmit rejects request lifecycle events sent through Apply.
	ErrUseSubmit = errors.New("requests are issued through Submit")
)

// Backend is the subset of the intake service used by sessions.
type Backend interface {
	SendOTP(ctx context.Context, phone string) error
	ValidateOTP(ctx context.Context, phone, code string) error
	CreateClient(ctx context.Context, name, phone string, files []backend.Attachment) error
	CreateLink(ctx context.Context, name, phone, link string) error
}

// Recorder receives one entry per backend call.
type Recorder interface {
	Record(ctx context.Context, a history.Attempt) error
}

// Manager owns the intake sessions of all visitors.
type Manager struct {
	sessions    map[string]*SessionState
	mu          sync.Mutex
	machine     *flow.Machine
	backend     Backend
	store       storage.Store
	recorder    Recorder
	logger      *zap.Logger
	maxSessions int
	now         func() time.Time
}

// SessionState holds the flow state of one visitor.
type SessionState struct {
	ID           string     `json:"id"`
	State        flow.State `json:"state"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastAccessed time.Time  `json:"lastAccessed"` // Last time the session was used (for cleanup)
}

func (s *SessionState) snapshot() SessionState {
	c := *s
	c.State = s.State.Clone()
	return c
}

// NewManager creates a session manager. recorder may be nil.
func NewManager(machine *flow.Machine, be Backend, store storage.Store, recorder Recorder, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions:    make(map[string]*SessionState),
		machine:     machine,
		backend:     be,
		store:       store,
		recorder:    recorder,
		logger:      logger.Named("session"),
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
	}
}

// SetMaxSessions changes the session limit. Non-positive values restore the
// default.
func (m *Manager) SetMaxSessions(n int) {
	if n <= 0 {
		n = DefaultMaxSessions
	}
	m.mu.Lock()
	m.maxSessions = n
	m.mu.Unlock()
}

// Machine returns the state machine driving the sessions.
func (m *Manager) Machine() *flow.Machine {
	return m.machine
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Create starts a session in mode. ModeNone starts at the mode selector.
func (m *Manager) Create(mode flow.Mode) (SessionState, error) {
	if mode != flow.ModeNone && mode != flow.ModeFiles && mode != flow.ModeLink {
		return SessionState{}, flow.ErrInvalidMode
	}

	m.mu.Lock()
	var evicted []flow.FileRef
	if len(m.sessions) >= m.maxSessions {
		victim := m.oldestIdleLocked()
		if victim == nil {
			m.mu.Unlock()
			return SessionState{}, ErrCapacity
		}
		evicted = victim.State.Draft.Files
		delete(m.sessions, victim.ID)
		m.logger.Info("evicted session", zap.String("session", shortID(victim.ID)))
	}

	now := m.now()
	st := &SessionState{
		ID:           uuid.New().String(),
		State:        flow.Initial(mode),
		CreatedAt:    now,
		LastAccessed: now,
	}
	m.sessions[st.ID] = st
	snap := st.snapshot()
	m.mu.Unlock()

	m.releaseFiles(evicted)
	return snap, nil
}

func (m *Manager) oldestIdleLocked() *SessionState {
	var oldest *SessionState
	for _, st := range m.sessions {
		if st.State.Busy() {
			continue
		}
		if oldest == nil || st.LastAccessed.Before(oldest.LastAccessed) {
			oldest = st
		}
	}
	return oldest
}

// Get returns a copy of a session.
func (m *Manager) Get(id string) (SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return SessionState{}, false
	}
	return st.snapshot(), true
}

// List returns copies of all sessions, most recently used first.
func (m *Manager) List() []SessionState {
	m.mu.Lock()
	out := make([]SessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		out = append(out, st.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out
}

// Touch updates the LastAccessed timestamp for a session.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return false
	}
	st.LastAccessed = m.now()
	return true
}

// Apply feeds a user event to a session. Validation errors are returned
// together with the state that records them.
func (m *Manager) Apply(id string, e flow.Event) (flow.State, error) {
	switch e.(type) {
	case flow.SubmitRequested, flow.RequestSucceeded, flow.RequestFailed:
		return flow.State{}, ErrUseSubmit
	}
	return m.transition(id, e)
}

func (m *Manager) transition(id string, e flow.Event) (flow.State, error) {
	m.mu.Lock()
	st, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return flow.State{}, ErrNotFound
	}

	before := st.State
	next, err := m.machine.Transition(before, e)
	if err != nil && !flow.IsValidation(err) {
		m.mu.Unlock()
		return before.Clone(), err
	}
	st.State = next
	st.LastAccessed = m.now()
	m.mu.Unlock()

	m.releaseFiles(flow.DroppedFiles(before, next))
	return next.Clone(), err
}

// Reset discards the draft and returns to the phone step in the same mode.
func (m *Manager) Reset(id string) (flow.State, error) {
	return m.transition(id, flow.Reset{})
}

// SelectMode switches the session to mode, discarding its draft.
func (m *Manager) SelectMode(id string, mode flow.Mode) (flow.State, error) {
	if mode == flow.ModeNone {
		return m.transition(id, flow.ModeCleared{})
	}
	return m.transition(id, flow.ModeSelected{Mode: mode})
}

// AddFile stages r and appends it as a new file slot.
func (m *Manager) AddFile(id, name, contentType string, r io.Reader) (flow.State, error) {
	probe := flow.FileAdded{File: flow.FileRef{Name: name}}
	if err := m.check(id, probe); err != nil {
		return flow.State{}, err
	}

	ref, err := m.stage(name, contentType, r)
	if err != nil {
		return flow.State{}, err
	}

	next, err := m.transition(id, flow.FileAdded{File: ref})
	if err != nil {
		m.releaseFiles([]flow.FileRef{ref})
	}
	return next, err
}

// ReplaceFile stages r in place of the file in slot.
func (m *Manager) ReplaceFile(id string, slot int, name, contentType string, r io.Reader) (flow.State, error) {
	probe := flow.FileReplaced{Slot: slot, File: flow.FileRef{Name: name}}
	if err := m.check(id, probe); err != nil {
		return flow.State{}, err
	}

	ref, err := m.stage(name, contentType, r)
	if err != nil {
		return flow.State{}, err
	}

	next, err := m.transition(id, flow.FileReplaced{Slot: slot, File: ref})
	if err != nil {
		m.releaseFiles([]flow.FileRef{ref})
	}
	return next, err
}

// RemoveFile clears slot; later slots shift down.
func (m *Manager) RemoveFile(id string, slot int) (flow.State, error) {
	return m.transition(id, flow.FileRemoved{Slot: slot})
}

// check reports whether e would be accepted, without storing anything.
func (m *Manager) check(id string, e flow.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	_, err := m.machine.Transition(st.State, e)
	return err
}

func (m *Manager) stage(name, contentType string, r io.Reader) (flow.FileRef, error) {
	info, err := m.store.Save(name, contentType, r)
	if err != nil {
		return flow.FileRef{}, fmt.Errorf("staging %s: %w", name, err)
	}
	return flow.FileRef{
		ID:          info.ID,
		Name:        info.Name,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

// Submit issues the backend call of the session's current stage and waits
// for its outcome. The call is detached from ctx: once started it runs to
// completion even if the caller goes away. Backend failures are not returned
// as errors; they are recorded in the returned state.
func (m *Manager) Submit(ctx context.Context, id string) (flow.State, error) {
	m.mu.Lock()
	st, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return flow.State{}, ErrNotFound
	}
	next, err := m.machine.Transition(st.State, flow.SubmitRequested{})
	if err != nil {
		if flow.IsValidation(err) {
			st.State = next
		}
		m.mu.Unlock()
		return next.Clone(), err
	}
	st.State = next
	st.LastAccessed = m.now()
	pending := next.Clone()
	m.mu.Unlock()

	start := time.Now()
	callErr := m.call(context.WithoutCancel(ctx), pending)
	elapsed := time.Since(start)

	var outcome flow.Event = flow.RequestSucceeded{}
	if callErr != nil {
		outcome = failureEvent(callErr)
	}

	m.mu.Lock()
	var result flow.State
	var dropped []flow.FileRef
	if st, ok := m.sessions[id]; ok {
		before := st.State
		result, err = m.machine.Transition(before, outcome)
		if err == nil {
			st.State = result
			st.LastAccessed = m.now()
			dropped = flow.DroppedFiles(before, result)
		}
	} else {
		// Session was removed while the call ran.
		result, err = m.machine.Transition(pending, outcome)
	}
	m.mu.Unlock()

	m.releaseFiles(dropped)
	m.record(id, pending, callErr, elapsed)

	if callErr != nil {
		m.logger.Info("request failed",
			zap.String("session", shortID(id)),
			zap.String("op", string(pending.Request.Op)),
			zap.Error(callErr))
	} else {
		m.logger.Info("request succeeded",
			zap.String("session", shortID(id)),
			zap.String("op", string(pending.Request.Op)),
			zap.Duration("elapsed", elapsed))
	}
	return result.Clone(), err
}

func (m *Manager) call(ctx context.Context, s flow.State) error {
	d := s.Draft
	switch s.Request.Op {
	case flow.OpSendOTP:
		return m.backend.SendOTP(ctx, d.Phone)
	case flow.OpValidateOTP:
		return m.backend.ValidateOTP(ctx, d.Phone, s.Code.String())
	case flow.OpSubmitLink:
		return m.backend.CreateLink(ctx, strings.TrimSpace(d.Name), d.Phone, strings.TrimSpace(d.Link))
	case flow.OpSubmitFiles:
		return m.backend.CreateClient(ctx, strings.TrimSpace(d.Name), d.Phone, m.attachments(d.Files))
	}
	return fmt.Errorf("unknown operation %q", s.Request.Op)
}

func (m *Manager) attachments(files []flow.FileRef) []backend.Attachment {
	out := make([]backend.Attachment, len(files))
	for i, f := range files {
		id := f.ID
		out[i] = backend.Attachment{
			Name:        f.Name,
			ContentType: f.ContentType,
			Open:        func() (io.ReadCloser, error) { return m.store.Open(id) },
		}
	}
	return out
}

// failureEvent turns a backend error into the flow event shown to the
// visitor: the service's own reason when it gave one.
func failureEvent(err error) flow.RequestFailed {
	re, ok := backend.AsRequestError(err)
	if !ok || re.Unreachable() {
		return flow.RequestFailed{Key: KeyServerUnavailable}
	}
	return flow.RequestFailed{Message: re.Message}
}

func (m *Manager) record(id string, s flow.State, callErr error, elapsed time.Duration) {
	if m.recorder == nil {
		return
	}
	a := history.Attempt{
		SessionID:  id,
		Operation:  string(s.Request.Op),
		Mode:       string(s.Mode),
		Phone:      history.MaskPhone(s.Draft.Phone),
		Success:    callErr == nil,
		DurationMs: elapsed.Milliseconds(),
	}
	if callErr != nil {
		a.Error = callErr.Error()
		if re, ok := backend.AsRequestError(callErr); ok {
			a.Status = re.Status
		}
	}
	if err := m.recorder.Record(context.Background(), a); err != nil {
		m.logger.Warn("failed to record attempt", zap.Error(err))
	}
}

// Delete removes a session and its staged files. A session with a request
// in flight is kept and flow.ErrBusy returned.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	st, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if st.State.Busy() {
		m.mu.Unlock()
		return flow.ErrBusy
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.releaseFiles(st.State.Draft.Files)
	return nil
}

// CleanupOldSessions removes idle sessions not used within maxAge and
// returns how many were removed. Sessions with a request in flight are kept.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var dropped []flow.FileRef
	removed := 0
	for id, st := range m.sessions {
		if st.State.Busy() || !st.LastAccessed.Before(cutoff) {
			continue
		}
		dropped = append(dropped, st.State.Draft.Files...)
		delete(m.sessions, id)
		removed++
		m.logger.Debug("cleaned up aged session",
			zap.String("session", shortID(id)),
			zap.Duration("idle", m.now().Sub(st.LastAccessed).Round(time.Second)))
	}
	m.mu.Unlock()

	m.releaseFiles(dropped)
	return removed
}

// Run cleans up aged sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.CleanupOldSessions(maxAge); n > 0 {
				m.logger.Info("session cleanup", zap.Int("removed", n), zap.Int("active", m.Len()))
			}
		}
	}
}

func (m *Manager) releaseFiles(files []flow.FileRef) {
	for _, f := range files {
		if err := m.store.Delete(f.ID); err != nil {
			m.logger.Warn("failed to delete staged file", zap.String("file", f.ID), zap.Error(err))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
