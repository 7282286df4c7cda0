package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/client-intake/frontend/internal/backend"
	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/history"
	"github.com/client-intake/frontend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type memRecorder struct {
	mu       sync.Mutex
	attempts []history.Attempt
}

func (r *memRecorder) Record(_ context.Context, a history.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *memRecorder) all() []history.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Attempt(nil), r.attempts...)
}

type fixture struct {
	mgr      *Manager
	fake     *testutil.FakeBackend
	store    *testutil.MockStorage
	recorder *memRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := testutil.NewFakeBackend(t)
	store := testutil.NewMockStorage()
	rec := &memRecorder{}
	client := backend.NewClient(fake.URL(), 5*time.Second, nil)
	mgr := NewManager(flow.NewMachine(flow.DefaultRules()), client, store, rec, nil)
	return &fixture{mgr: mgr, fake: fake, store: store, recorder: rec}
}

func (f *fixture) create(t *testing.T, mode flow.Mode) string {
	t.Helper()
	st, err := f.mgr.Create(mode)
	require.NoError(t, err)
	return st.ID
}

// toDetails walks a session through the phone and code steps.
func (f *fixture) toDetails(t *testing.T, id string) {
	t.Helper()
	_, err := f.mgr.Apply(id, flow.PhoneChanged{Phone: "+48 123456789"})
	require.NoError(t, err)
	s, err := f.mgr.Submit(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, flow.StageOtpEntry, s.Stage)

	for i, d := range []string{"1", "2", "3", "4"} {
		_, err := f.mgr.Apply(id, flow.DigitEntered{Index: i, Value: d})
		require.NoError(t, err)
	}
	s, err = f.mgr.Submit(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, flow.StageDetailsAndSubmit, s.Stage)
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)

	st, err := f.mgr.Create(flow.ModeFiles)
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, flow.StagePhoneEntry, st.State.Stage)

	got, ok := f.mgr.Get(st.ID)
	require.True(t, ok)
	assert.Equal(t, flow.ModeFiles, got.State.Mode)

	_, ok = f.mgr.Get("missing")
	assert.False(t, ok)

	_, err = f.mgr.Create(flow.Mode("fax"))
	assert.ErrorIs(t, err, flow.ErrInvalidMode)
}

func TestFilesFlowEndToEnd(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)
	f.toDetails(t, id)

	otp := f.fake.CallsTo(http.MethodPost, backend.PathSendOTP)
	require.Len(t, otp, 1)
	assert.Equal(t, map[string]string{"phone": "+48123456789"}, otp[0].JSON)

	validation := f.fake.CallsTo(http.MethodPost, backend.PathValidation)
	require.Len(t, validation, 1)
	assert.Equal(t, map[string]string{"phone": "+48123456789", "otp": "1234"}, validation[0].JSON)

	_, err := f.mgr.Apply(id, flow.NameChanged{Name: " Jan Kowalski "})
	require.NoError(t, err)
	_, err = f.mgr.AddFile(id, "a.pdf", "application/pdf", strings.NewReader("AAA"))
	require.NoError(t, err)
	s, err := f.mgr.AddFile(id, "b.pdf", "application/pdf", strings.NewReader("BBBB"))
	require.NoError(t, err)
	require.Len(t, s.Draft.Files, 2)
	assert.Equal(t, 2, f.store.Count())

	s, err = f.mgr.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, flow.StagePhoneEntry, s.Stage)
	assert.Equal(t, flow.NoticeFilesSubmitted, s.Notice)
	assert.Empty(t, s.Draft.Name)
	assert.Empty(t, s.Draft.Files)

	created := f.fake.CallsTo(http.MethodPost, backend.PathClients)
	require.Len(t, created, 1)
	assert.Equal(t, []string{"Jan Kowalski"}, created[0].Form["name"])
	require.Len(t, created[0].Files, 2)
	assert.Equal(t, "AAA", string(created[0].Files[0].Content))
	assert.Equal(t, "b.pdf", created[0].Files[1].Name)

	assert.Equal(t, 0, f.store.Count(), "staged files are released after submit")

	attempts := f.recorder.all()
	require.Len(t, attempts, 3)
	assert.Equal(t, "send_otp", attempts[0].Operation)
	assert.Equal(t, "submit_files", attempts[2].Operation)
	assert.True(t, attempts[2].Success)
	assert.Equal(t, "+48******789", attempts[0].Phone)
}

func TestLinkFlow(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeLink)
	f.toDetails(t, id)

	_, err := f.mgr.Apply(id, flow.NameChanged{Name: "Anna"})
	require.NoError(t, err)
	_, err = f.mgr.Apply(id, flow.LinkChanged{Link: "https://drive.example/x"})
	require.NoError(t, err)

	s, err := f.mgr.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, flow.NoticeLinkSubmitted, s.Notice)

	links := f.fake.CallsTo(http.MethodPost, backend.PathLinks)
	require.Len(t, links, 1)
	assert.Equal(t, "https://drive.example/x", links[0].JSON["link"])
	assert.Equal(t, "+48123456789", links[0].JSON["phone"])
}

func TestInvalidPhoneIssuesNoRequest(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)

	s, err := f.mgr.Apply(id, flow.PhoneChanged{Phone: "123"})
	require.NoError(t, err)
	assert.Equal(t, flow.KeyPhoneFormat, s.FieldError)

	s, err = f.mgr.Submit(context.Background(), id)
	require.Error(t, err)
	assert.True(t, flow.IsValidation(err))
	assert.Equal(t, flow.KeyPhoneInvalid, s.FieldError)
	assert.Empty(t, f.fake.Calls())
	assert.Empty(t, f.recorder.all())

	stored, _ := f.mgr.Get(id)
	assert.Equal(t, flow.KeyPhoneInvalid, stored.State.FieldError)
}

func TestServerRejectionKeepsStage(t *testing.T) {
	f := newFixture(t)
	f.fake.Reply("POST "+backend.PathSendOTP, http.StatusBadRequest, map[string]string{"error": "Numer zablokowany"})
	id := f.create(t, flow.ModeFiles)

	_, err := f.mgr.Apply(id, flow.PhoneChanged{Phone: "+48123456789"})
	require.NoError(t, err)
	s, err := f.mgr.Submit(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, flow.StagePhoneEntry, s.Stage)
	assert.Equal(t, flow.StatusFailed, s.Request.Status)
	assert.Equal(t, "Numer zablokowany", s.Request.Error)
	assert.Equal(t, "+48123456789", s.Draft.Phone)

	attempts := f.recorder.all()
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.Equal(t, http.StatusBadRequest, attempts[0].Status)
}

func TestUnreachableServiceReportsKey(t *testing.T) {
	f := newFixture(t)
	f.fake.Server.Close()
	id := f.create(t, flow.ModeLink)

	_, err := f.mgr.Apply(id, flow.PhoneChanged{Phone: "+48123456789"})
	require.NoError(t, err)
	s, err := f.mgr.Submit(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, flow.StatusFailed, s.Request.Status)
	assert.Equal(t, KeyServerUnavailable, s.Request.ErrorKey)
	assert.Empty(t, s.Request.Error)
}

func TestSingleRequestInFlight(t *testing.T) {
	f := newFixture(t)
	release := f.fake.Block()
	t.Cleanup(release)
	id := f.create(t, flow.ModeFiles)

	_, err := f.mgr.Apply(id, flow.PhoneChanged{Phone: "+48123456789"})
	require.NoError(t, err)

	done := make(chan flow.State, 1)
	go func() {
		s, _ := f.mgr.Submit(context.Background(), id)
		done <- s
	}()

	require.Eventually(t, func() bool {
		s, _ := f.mgr.Get(id)
		return s.State.Busy()
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.mgr.Submit(context.Background(), id)
	assert.ErrorIs(t, err, flow.ErrBusy)
	_, err = f.mgr.Apply(id, flow.PhoneChanged{Phone: "+48999999999"})
	assert.ErrorIs(t, err, flow.ErrBusy)
	_, err = f.mgr.Reset(id)
	assert.ErrorIs(t, err, flow.ErrBusy)

	release()
	select {
	case s := <-done:
		assert.Equal(t, flow.StageOtpEntry, s.Stage)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not finish")
	}
	assert.Len(t, f.fake.CallsTo(http.MethodPost, backend.PathSendOTP), 1)
}

func TestSubmitIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)
	_, err := f.mgr.Apply(id, flow.PhoneChanged{Phone: "+48123456789"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := f.mgr.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, flow.StageOtpEntry, s.Stage)
}

func TestApplyRejectsRequestEvents(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)

	for _, e := range []flow.Event{flow.SubmitRequested{}, flow.RequestSucceeded{}, flow.RequestFailed{}} {
		_, err := f.mgr.Apply(id, e)
		assert.ErrorIs(t, err, ErrUseSubmit)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Apply("nope", flow.Reset{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mgr.Submit(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mgr.AddFile("nope", "a", "", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.mgr.Delete("nope"), ErrNotFound)
	assert.False(t, f.mgr.Touch("nope"))
}

func TestFileSlots(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)

	_, err := f.mgr.AddFile(id, "early.pdf", "", strings.NewReader("x"))
	assert.ErrorIs(t, err, flow.ErrWrongStage)
	assert.Equal(t, 0, f.store.Count(), "rejected files are never staged")

	f.toDetails(t, id)
	for i := 0; i < flow.DefaultMaxFiles; i++ {
		_, err := f.mgr.AddFile(id, "f.txt", "text/plain", strings.NewReader("x"))
		require.NoError(t, err)
	}
	_, err = f.mgr.AddFile(id, "extra.txt", "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, flow.ErrTooManyFiles)
	assert.Equal(t, flow.DefaultMaxFiles, f.store.Count())

	before, _ := f.mgr.Get(id)
	old := before.State.Draft.Files[3]

	s, err := f.mgr.ReplaceFile(id, 3, "new.txt", "text/plain", strings.NewReader("new"))
	require.NoError(t, err)
	assert.Equal(t, "new.txt", s.Draft.Files[3].Name)
	assert.Contains(t, f.store.Deleted(), old.ID)
	data, ok := f.store.Data(s.Draft.Files[3].ID)
	require.True(t, ok)
	assert.Equal(t, "new", string(data))

	_, err = f.mgr.ReplaceFile(id, 42, "x", "", strings.NewReader("x"))
	assert.ErrorIs(t, err, flow.ErrNoSuchSlot)

	second := s.Draft.Files[1]
	s, err = f.mgr.RemoveFile(id, 0)
	require.NoError(t, err)
	assert.Len(t, s.Draft.Files, flow.DefaultMaxFiles-1)
	assert.Equal(t, second.ID, s.Draft.Files[0].ID)
}

func TestResetAndModeChangeReleaseFiles(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)
	f.toDetails(t, id)

	_, err := f.mgr.AddFile(id, "a.txt", "", strings.NewReader("a"))
	require.NoError(t, err)
	s, err := f.mgr.Reset(id)
	require.NoError(t, err)
	assert.Equal(t, flow.StagePhoneEntry, s.Stage)
	assert.Equal(t, flow.ModeFiles, s.Mode)
	assert.Equal(t, 0, f.store.Count())

	f.toDetails(t, id)
	_, err = f.mgr.AddFile(id, "b.txt", "", strings.NewReader("b"))
	require.NoError(t, err)
	s, err = f.mgr.SelectMode(id, flow.ModeNone)
	require.NoError(t, err)
	assert.Equal(t, flow.ModeNone, s.Mode)
	assert.Equal(t, 0, f.store.Count())
}

func TestDeleteReleasesFiles(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)
	f.toDetails(t, id)
	_, err := f.mgr.AddFile(id, "a.txt", "", strings.NewReader("a"))
	require.NoError(t, err)

	assert.NoError(t, f.mgr.Delete(id))
	assert.Equal(t, 0, f.store.Count())
	assert.Equal(t, 0, f.mgr.Len())
}

func TestDeleteKeepsSessionWithRequestInFlight(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, flow.ModeFiles)
	f.toDetails(t, id)
	_, err := f.mgr.Apply(id, flow.NameChanged{Name: "Jan"})
	require.NoError(t, err)
	_, err = f.mgr.AddFile(id, "umowa.pdf", "application/pdf", strings.NewReader("umowa"))
	require.NoError(t, err)

	release := f.fake.Block()
	t.Cleanup(release)
	done := make(chan flow.State, 1)
	go func() {
		s, _ := f.mgr.Submit(context.Background(), id)
		done <- s
	}()

	require.Eventually(t, func() bool {
		s, _ := f.mgr.Get(id)
		return s.State.Busy()
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.mgr.Delete(id), flow.ErrBusy)
	assert.Equal(t, 1, f.store.Count(), "staged files stay until the request ends")

	release()
	select {
	case s := <-done:
		assert.Equal(t, flow.StatusSucceeded, s.Request.Status)
		assert.Equal(t, flow.StagePhoneEntry, s.Stage)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not finish")
	}

	calls := f.fake.CallsTo(http.MethodPost, backend.PathClients)
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Files, 1)
	assert.Equal(t, "umowa", string(calls[0].Files[0].Content))

	assert.NoError(t, f.mgr.Delete(id))
	assert.Equal(t, 0, f.mgr.Len())
}

func TestMaxSessionsEvictsLeastRecentlyUsed(t *testing.T) {
	f := newFixture(t)
	f.mgr.SetMaxSessions(2)

	clock := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time { return clock }

	first := f.create(t, flow.ModeFiles)
	clock = clock.Add(time.Minute)
	second := f.create(t, flow.ModeLink)
	clock = clock.Add(time.Minute)
	require.True(t, f.mgr.Touch(first))

	clock = clock.Add(time.Minute)
	third := f.create(t, flow.ModeFiles)

	assert.Equal(t, 2, f.mgr.Len())
	_, ok := f.mgr.Get(second)
	assert.False(t, ok, "least recently used session is evicted")
	_, ok = f.mgr.Get(first)
	assert.True(t, ok)
	_, ok = f.mgr.Get(third)
	assert.True(t, ok)

	list := f.mgr.List()
	require.Len(t, list, 2)
	assert.Equal(t, third, list[0].ID)
}

func TestCleanupOldSessions(t *testing.T) {
	f := newFixture(t)
	clock := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time { return clock }

	stale := f.create(t, flow.ModeFiles)
	clock = clock.Add(20 * time.Minute)
	fresh := f.create(t, flow.ModeLink)
	clock = clock.Add(15 * time.Minute)

	removed := f.mgr.CleanupOldSessions(SessionMaxAge)
	assert.Equal(t, 1, removed)
	_, ok := f.mgr.Get(stale)
	assert.False(t, ok)
	_, ok = f.mgr.Get(fresh)
	assert.True(t, ok)
}

func TestRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr := NewManager(flow.NewMachine(flow.DefaultRules()), nil, testutil.NewMockStorage(), nil, nil)
	st, err := mgr.Create(flow.ModeFiles)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, 5*time.Millisecond, 0) }()

	require.Eventually(t, func() bool {
		_, ok := mgr.Get(st.ID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
