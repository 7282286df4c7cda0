package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/client-intake/frontend/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine() *Machine {
	return NewMachine(DefaultRules())
}

// apply feeds events in order and fails the test on the first error.
func apply(t *testing.T, m *Machine, s State, events ...Event) State {
	t.Helper()
	for _, e := range events {
		var err error
		s, err = m.Transition(s, e)
		require.NoError(t, err, "event %T", e)
	}
	return s
}

func atDetails(t *testing.T, m *Machine, mode Mode) State {
	t.Helper()
	s := apply(t, m, Initial(mode),
		PhoneChanged{Phone: "+48123456789"},
		SubmitRequested{},
		RequestSucceeded{},
		DigitEntered{Index: 0, Value: "1"},
		DigitEntered{Index: 1, Value: "2"},
		DigitEntered{Index: 2, Value: "3"},
		DigitEntered{Index: 3, Value: "4"},
		SubmitRequested{},
		RequestSucceeded{},
	)
	require.Equal(t, StageDetailsAndSubmit, s.Stage)
	return s
}

func TestPhoneValidationRejectsBeforeRequest(t *testing.T) {
	m := newTestMachine()

	tests := []struct {
		phone string
		valid bool
	}{
		{"+48123456789", true},
		{"+48 123456789", true},
		{"+48  123456789", false},
		{"+48 123 456 789", false},
		{"48123456789", false},
		{"+4812345678", false},
		{"+481234567890", false},
		{"+49123456789", false},
		{"+48abcdefghi", false},
		{"", false},
		{" +48123456789", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.phone), func(t *testing.T) {
			s := apply(t, m, Initial(ModeFiles), PhoneChanged{Phone: tt.phone})
			next, err := m.Transition(s, SubmitRequested{})
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, StatusInFlight, next.Request.Status)
				assert.Equal(t, OpSendOTP, next.Request.Op)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, StatusIdle, next.Request.Status, "no request may be issued")
			assert.Equal(t, StagePhoneEntry, next.Stage)
			assert.Equal(t, KeyPhoneInvalid, next.FieldError)
		})
	}
}

func TestPhoneChangedSetsLiveFieldError(t *testing.T) {
	m := newTestMachine()
	s := apply(t, m, Initial(ModeLink), PhoneChanged{Phone: "+48 12"})
	assert.Equal(t, KeyPhoneFormat, s.FieldError)

	s = apply(t, m, s, PhoneChanged{Phone: "+48 123456789"})
	assert.Empty(t, s.FieldError)
}

func TestSubmitNormalizesPhone(t *testing.T) {
	m := newTestMachine()
	s := apply(t, m, Initial(ModeFiles), PhoneChanged{Phone: "+48 123456789"}, SubmitRequested{})
	assert.Equal(t, "+48123456789", s.Draft.Phone)
}

func TestPhoneValidationDisabled(t *testing.T) {
	m := NewMachine(Rules{MaxFiles: 3})
	s := apply(t, m, Initial(ModeFiles), PhoneChanged{Phone: "555 0100"}, SubmitRequested{})
	assert.Equal(t, StatusInFlight, s.Request.Status)
	assert.Equal(t, "5550100", s.Draft.Phone)

	_, err := m.Transition(Initial(ModeFiles), SubmitRequested{})
	assert.True(t, IsValidation(err))
}

func TestStageAdvancesOnlyOnSuccess(t *testing.T) {
	m := newTestMachine()
	s := apply(t, m, Initial(ModeFiles), PhoneChanged{Phone: "+48123456789"}, SubmitRequested{})

	failed := apply(t, m, s, RequestFailed{Message: "Invalid phone number"})
	assert.Equal(t, StagePhoneEntry, failed.Stage)
	assert.Equal(t, StatusFailed, failed.Request.Status)
	assert.Equal(t, "Invalid phone number", failed.Request.Error)
	assert.Equal(t, "+48123456789", failed.Draft.Phone)

	retried := apply(t, m, failed, SubmitRequested{}, RequestSucceeded{})
	assert.Equal(t, StageOtpEntry, retried.Stage)
	assert.Equal(t, NoticeOTPSent, retried.Notice)
	assert.Equal(t, StatusSucceeded, retried.Request.Status)
}

func TestRequestFailedWithoutReason(t *testing.T) {
	m := newTestMachine()
	s := apply(t, m, Initial(ModeFiles), PhoneChanged{Phone: "+48123456789"}, SubmitRequested{}, RequestFailed{})
	assert.Equal(t, KeyRequestFailed, s.Request.ErrorKey)
	assert.Empty(t, s.Request.Error)
}

func TestSingleStatusInFlight(t *testing.T) {
	m := newTestMachine()
	s := apply(t, m, Initial(ModeFiles), PhoneChanged{Phone: "+48123456789"}, SubmitRequested{})
	require.True(t, s.Busy())

	for _, e := range []Event{
		SubmitRequested{},
		PhoneChanged{Phone: "+48000000000"},
		Reset{},
		ModeCleared{},
		ModeSelected{Mode: ModeLink},
	} {
		next, err := m.Transition(s, e)
		assert.ErrorIs(t, err, ErrBusy, "event %T", e)
		assert.Empty(t, cmp.Diff(s, next), "state must not change on %T", e)
	}

	_, err := m.Transition(Initial(ModeFiles), RequestSucceeded{})
	assert.ErrorIs(t, err, ErrNotInFlight)
	_, err = m.Transition(Initial(ModeFiles), RequestFailed{Message: "x"})
	assert.ErrorIs(t, err, ErrNotInFlight)
}

func TestDigitEntry(t *testing.T) {
	m := newTestMachine()
	s := apply(t, m, Initial(ModeLink), PhoneChanged{Phone: "+48123456789"}, SubmitRequested{}, RequestSucceeded{})
	require.Equal(t, StageOtpEntry, s.Stage)

	t.Run("rejects non digits", func(t *testing.T) {
		for _, v := range []string{"a", "12", " ", "-", "٣"} {
			next, err := m.Transition(s, DigitEntered{Index: 0, Value: v})
			assert.ErrorIs(t, err, ErrInvalidDigit, "value %q", v)
			assert.Equal(t, s.Code, next.Code)
		}
	})

	t.Run("rejects out of range slot", func(t *testing.T) {
		_, err := m.Transition(s, DigitEntered{Index: CodeLength, Value: "1"})
		assert.ErrorIs(t, err, ErrNoSuchSlot)
		_, err = m.Transition(s, DigitEntered{Index: -1, Value: "1"})
		assert.ErrorIs(t, err, ErrNoSuchSlot)
	})

	t.Run("focus advances and moves back", func(t *testing.T) {
		next := apply(t, m, s, DigitEntered{Index: 0, Value: "7"})
		assert.Equal(t, 1, next.Focus)
		next = apply(t, m, next, DigitEntered{Index: 1, Value: "3"})
		assert.Equal(t, 2, next.Focus)
		next = apply(t, m, next, DigitEntered{Index: 1, Value: ""})
		assert.Equal(t, 0, next.Focus)
		assert.Equal(t, "7", next.Code.String())
	})

	t.Run("focus jumps to next empty slot", func(t *testing.T) {
		next := apply(t, m, s,
			DigitEntered{Index: 1, Value: "1"},
			DigitEntered{Index: 2, Value: "1"},
			DigitEntered{Index: 3, Value: "1"},
		)
		assert.Equal(t, 0, next.Focus)
	})

	t.Run("assembled code is what gets validated", func(t *testing.T) {
		next := apply(t, m, s,
			DigitEntered{Index: 0, Value: "0"},
			DigitEntered{Index: 1, Value: "9"},
			DigitEntered{Index: 2, Value: "5"},
			DigitEntered{Index: 3, Value: "2"},
		)
		assert.True(t, next.Code.Complete())
		assert.Equal(t, "0952", next.Code.String())

		next = apply(t, m, next, SubmitRequested{})
		assert.Equal(t, OpValidateOTP, next.Request.Op)
		assert.Equal(t, "0952", next.Code.String())
	})

	t.Run("incomplete code is rejected locally", func(t *testing.T) {
		next := apply(t, m, s, DigitEntered{Index: 0, Value: "1"})
		next, err := m.Transition(next, SubmitRequested{})
		assert.True(t, IsValidation(err))
		assert.Equal(t, KeyCodeIncomplete, next.FieldError)
		assert.Equal(t, StatusIdle, next.Request.Status)
	})

	t.Run("local rejection clears earlier server error", func(t *testing.T) {
		next := apply(t, m, s,
			DigitEntered{Index: 0, Value: "1"},
			DigitEntered{Index: 1, Value: "2"},
			DigitEntered{Index: 2, Value: "3"},
			DigitEntered{Index: 3, Value: "4"},
			SubmitRequested{},
			RequestFailed{Message: "Invalid code"},
			DigitEntered{Index: 3, Value: ""},
		)
		require.Equal(t, StatusFailed, next.Request.Status)

		next, err := m.Transition(next, SubmitRequested{})
		assert.True(t, IsValidation(err))
		assert.Equal(t, KeyCodeIncomplete, next.FieldError)
		assert.Equal(t, Request{Status: StatusIdle}, next.Request)
	})
}

func TestDigitEntryOutsideOtpStage(t *testing.T) {
	m := newTestMachine()
	_, err := m.Transition(Initial(ModeFiles), DigitEntered{Index: 0, Value: "1"})
	assert.ErrorIs(t, err, ErrWrongStage)
}

func TestSuccessfulSubmissionResetsDraft(t *testing.T) {
	m := newTestMachine()

	t.Run("files", func(t *testing.T) {
		s := atDetails(t, m, ModeFiles)
		s = apply(t, m, s,
			NameChanged{Name: "Jan Kowalski"},
			FileAdded{File: FileRef{ID: "a", Name: "a.pdf"}},
			SubmitRequested{},
		)
		assert.Equal(t, OpSubmitFiles, s.Request.Op)

		s = apply(t, m, s, RequestSucceeded{})
		want := Initial(ModeFiles)
		want.Notice = NoticeFilesSubmitted
		want.Request = Request{Status: StatusSucceeded, Op: OpSubmitFiles}
		if diff := cmp.Diff(want, s); diff != "" {
			t.Errorf("state after submit (-want +got):\n%s", diff)
		}
	})

	t.Run("link", func(t *testing.T) {
		s := atDetails(t, m, ModeLink)
		s = apply(t, m, s,
			NameChanged{Name: "Anna Nowak"},
			LinkChanged{Link: "https://drive.example/folder"},
			SubmitRequested{},
			RequestSucceeded{},
		)
		assert.Equal(t, StagePhoneEntry, s.Stage)
		assert.Equal(t, Draft{Files: []FileRef{}}, s.Draft)
		assert.Equal(t, Code{}, s.Code)
		assert.Equal(t, NoticeLinkSubmitted, s.Notice)
	})
}

func TestFailedSubmissionKeepsDraft(t *testing.T) {
	m := newTestMachine()
	s := atDetails(t, m, ModeLink)
	s = apply(t, m, s,
		NameChanged{Name: "Anna Nowak"},
		LinkChanged{Link: "https://drive.example/folder"},
		SubmitRequested{},
		RequestFailed{Message: "Link already submitted"},
	)
	assert.Equal(t, StageDetailsAndSubmit, s.Stage)
	assert.Equal(t, "Anna Nowak", s.Draft.Name)
	assert.Equal(t, "https://drive.example/folder", s.Draft.Link)
	assert.Equal(t, "Link already submitted", s.Request.Error)
}

func TestDetailsValidation(t *testing.T) {
	m := newTestMachine()

	s := atDetails(t, m, ModeLink)
	_, err := m.Transition(s, SubmitRequested{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Field)

	s = apply(t, m, s, NameChanged{Name: "Anna"})
	next, err := m.Transition(s, SubmitRequested{})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "link", verr.Field)
	assert.Equal(t, KeyLinkRequired, next.FieldError)

	files := atDetails(t, m, ModeFiles)
	files = apply(t, m, files, NameChanged{Name: "Anna"}, SubmitRequested{})
	assert.Equal(t, OpSubmitFiles, files.Request.Op, "zero files is a valid submission")

	_, err = m.Transition(atDetails(t, m, ModeFiles), LinkChanged{Link: "x"})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestFileSlots(t *testing.T) {
	m := newTestMachine()
	s := atDetails(t, m, ModeFiles)

	for i := 0; i < DefaultMaxFiles; i++ {
		s = apply(t, m, s, FileAdded{File: FileRef{ID: fmt.Sprintf("f%d", i)}})
	}
	require.Len(t, s.Draft.Files, DefaultMaxFiles)

	t.Run("eleventh file rejected", func(t *testing.T) {
		next, err := m.Transition(s, FileAdded{File: FileRef{ID: "f10"}})
		assert.ErrorIs(t, err, ErrTooManyFiles)
		assert.Len(t, next.Draft.Files, DefaultMaxFiles)
	})

	t.Run("remove shifts later slots down", func(t *testing.T) {
		next := apply(t, m, s, FileRemoved{Slot: 3})
		require.Len(t, next.Draft.Files, DefaultMaxFiles-1)
		for i, f := range next.Draft.Files {
			want := i
			if i >= 3 {
				want = i + 1
			}
			assert.Equal(t, fmt.Sprintf("f%d", want), f.ID)
		}
		assert.Equal(t, "f3", s.Draft.Files[3].ID, "input state must not be mutated")
	})

	t.Run("replace keeps position", func(t *testing.T) {
		next := apply(t, m, s, FileReplaced{Slot: 0, File: FileRef{ID: "new"}})
		assert.Equal(t, "new", next.Draft.Files[0].ID)
		assert.Equal(t, "f0", s.Draft.Files[0].ID)
		assert.Equal(t, []FileRef{{ID: "f0"}}, DroppedFiles(s, next))
	})

	t.Run("unknown slot", func(t *testing.T) {
		_, err := m.Transition(s, FileRemoved{Slot: DefaultMaxFiles})
		assert.ErrorIs(t, err, ErrNoSuchSlot)
		_, err = m.Transition(s, FileReplaced{Slot: -1})
		assert.ErrorIs(t, err, ErrNoSuchSlot)
	})

	t.Run("link mode has no file slots", func(t *testing.T) {
		_, err := m.Transition(atDetails(t, m, ModeLink), FileAdded{File: FileRef{ID: "x"}})
		assert.ErrorIs(t, err, ErrFilesDisabled)
	})
}

func TestModeSelection(t *testing.T) {
	m := newTestMachine()

	_, err := m.Transition(Initial(ModeNone), PhoneChanged{Phone: "+48123456789"})
	assert.ErrorIs(t, err, ErrNoMode)

	_, err = m.Transition(Initial(ModeNone), ModeSelected{Mode: "fax"})
	assert.ErrorIs(t, err, ErrInvalidMode)

	s := atDetails(t, m, ModeFiles)
	s = apply(t, m, s, FileAdded{File: FileRef{ID: "a"}})

	cleared := apply(t, m, s, ModeCleared{})
	assert.Equal(t, Initial(ModeNone), cleared)
	assert.Equal(t, []FileRef{{ID: "a"}}, DroppedFiles(s, cleared))

	switched := apply(t, m, s, ModeSelected{Mode: ModeLink})
	assert.Equal(t, Initial(ModeLink), switched)

	reset := apply(t, m, s, Reset{})
	assert.Equal(t, Initial(ModeFiles), reset)
}

func TestParseMode(t *testing.T) {
	mode, ok := ParseMode(" Files ")
	assert.True(t, ok)
	assert.Equal(t, ModeFiles, mode)

	_, ok = ParseMode("drive")
	assert.False(t, ok)
}

type stubLister struct {
	clients []models.Client
	err     error
}

func (s stubLister) ListClients(context.Context) ([]models.Client, error) {
	return s.clients, s.err
}

func TestLoadClientList(t *testing.T) {
	view := LoadClientList(context.Background(), stubLister{clients: []models.Client{{ID: "1", Name: "Jan"}}})
	assert.Equal(t, ListLoaded, view.Status)
	assert.Len(t, view.Clients, 1)

	view = LoadClientList(context.Background(), stubLister{})
	assert.Equal(t, ListLoaded, view.Status)
	assert.NotNil(t, view.Clients)

	view = LoadClientList(context.Background(), stubLister{err: errors.New("boom")})
	assert.Equal(t, ListFailed, view.Status)
	assert.Equal(t, KeyClientsUnavailable, view.ErrorKey)
	assert.Error(t, view.Err)
}
