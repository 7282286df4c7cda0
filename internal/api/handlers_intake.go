// handlers_intake.go - Intake session handlers (JSON)
package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/labstack/echo/v4"
)

// IntakeHandlerImpl implements the IntakeHandler interface
type IntakeHandlerImpl struct {
	sessions SessionManager
	catalog  *messages.Catalog
}

// NewIntakeHandler creates a new intake handler instance
func NewIntakeHandler(sessions SessionManager, catalog *messages.Catalog) IntakeHandler {
	return &IntakeHandlerImpl{
		sessions: sessions,
		catalog:  catalog,
	}
}

// sessionResponse is a session state with its message keys resolved.
type sessionResponse struct {
	ID         string     `json:"id"`
	State      flow.State `json:"state"`
	Notice     string     `json:"notice,omitempty"`
	Error      string     `json:"error,omitempty"`
	FieldError string     `json:"fieldError,omitempty"`
}

func (h *IntakeHandlerImpl) respond(c echo.Context, status int, id string, s flow.State) error {
	resp := sessionResponse{ID: id, State: s}
	if s.Notice != "" {
		resp.Notice = h.catalog.Text(s.Notice)
	}
	if s.Request.Status == flow.StatusFailed {
		resp.Error = h.catalog.Failure(s.Request.Error, s.Request.ErrorKey)
	}
	if s.FieldError != "" {
		resp.FieldError = h.catalog.Text(s.FieldError)
	}
	return c.JSON(status, resp)
}

func (h *IntakeHandlerImpl) fail(err error, id string) error {
	return sessionError(err, id, h.catalog.Text)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// parse returns the requested mode; empty selects the mode selector.
func (r modeRequest) parse() (flow.Mode, error) {
	if strings.TrimSpace(r.Mode) == "" {
		return flow.ModeNone, nil
	}
	mode, ok := flow.ParseMode(r.Mode)
	if !ok {
		return flow.ModeNone, NewValidationError("mode")
	}
	return mode, nil
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type linkRequest struct {
	Link string `json:"link"`
}

type digitRequest struct {
	Value string `json:"value"`
}

// HandleCreateSession starts a new intake session
func (h *IntakeHandlerImpl) HandleCreateSession(c echo.Context) error {
	var req modeRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return NewBadRequestError("invalid request body", err)
		}
	}
	mode, err := req.parse()
	if err != nil {
		return err
	}

	st, err := h.sessions.Create(mode)
	if err != nil {
		return h.fail(err, "")
	}
	return h.respond(c, http.StatusCreated, st.ID, st.State)
}

// HandleGetSession returns the current state of a session
func (h *IntakeHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	st, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	// Touch session to prevent cleanup while being viewed
	h.sessions.Touch(id)

	return h.respond(c, http.StatusOK, id, st.State)
}

// HandleDeleteSession discards a session and its staged files
func (h *IntakeHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		return sessionError(err, id, h.catalog.Text)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSelectMode switches between files and link mode
func (h *IntakeHandlerImpl) HandleSelectMode(c echo.Context) error {
	id := c.Param("id")
	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	mode, err := req.parse()
	if err != nil {
		return err
	}
	return h.apply(c, id, func() (flow.State, error) {
		return h.sessions.SelectMode(id, mode)
	})
}

// HandleSetPhone updates the phone number
func (h *IntakeHandlerImpl) HandleSetPhone(c echo.Context) error {
	var req phoneRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return h.applyEvent(c, flow.PhoneChanged{Phone: req.Phone})
}

// HandleSetDigit sets one slot of the verification code
func (h *IntakeHandlerImpl) HandleSetDigit(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return NewValidationError("index")
	}
	var req digitRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return h.applyEvent(c, flow.DigitEntered{Index: index, Value: req.Value})
}

// HandleSetName updates the client name
func (h *IntakeHandlerImpl) HandleSetName(c echo.Context) error {
	var req nameRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return h.applyEvent(c, flow.NameChanged{Name: req.Name})
}

// HandleSetLink updates the storage link
func (h *IntakeHandlerImpl) HandleSetLink(c echo.Context) error {
	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return h.applyEvent(c, flow.LinkChanged{Link: req.Link})
}

// HandleAddFile stages an uploaded file in a new slot
func (h *IntakeHandlerImpl) HandleAddFile(c echo.Context) error {
	id := c.Param("id")
	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("file is required", err)
	}

	s, err := withUpload(fh, func(f multipart.File) (flow.State, error) {
		return h.sessions.AddFile(id, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
	})
	if err != nil {
		return h.fail(err, id)
	}
	return h.respond(c, http.StatusCreated, id, s)
}

// HandleReplaceFile stages an uploaded file in place of an existing slot
func (h *IntakeHandlerImpl) HandleReplaceFile(c echo.Context) error {
	id := c.Param("id")
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return NewValidationError("slot")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("file is required", err)
	}

	s, err := withUpload(fh, func(f multipart.File) (flow.State, error) {
		return h.sessions.ReplaceFile(id, slot, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
	})
	if err != nil {
		return h.fail(err, id)
	}
	return h.respond(c, http.StatusOK, id, s)
}

// HandleRemoveFile clears a file slot
func (h *IntakeHandlerImpl) HandleRemoveFile(c echo.Context) error {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return NewValidationError("slot")
	}
	return h.applyEvent(c, flow.FileRemoved{Slot: slot})
}

// HandleSubmit issues the backend call of the current step and returns the
// outcome. A rejected call is reported in the state, not as an HTTP error.
func (h *IntakeHandlerImpl) HandleSubmit(c echo.Context) error {
	id := c.Param("id")
	s, err := h.sessions.Submit(c.Request().Context(), id)
	if err != nil {
		return h.fail(err, id)
	}
	return h.respond(c, http.StatusOK, id, s)
}

// HandleReset discards the draft and returns to the phone step
func (h *IntakeHandlerImpl) HandleReset(c echo.Context) error {
	id := c.Param("id")
	return h.apply(c, id, func() (flow.State, error) {
		return h.sessions.Reset(id)
	})
}

func (h *IntakeHandlerImpl) applyEvent(c echo.Context, e flow.Event) error {
	id := c.Param("id")
	return h.apply(c, id, func() (flow.State, error) {
		return h.sessions.Apply(id, e)
	})
}

func (h *IntakeHandlerImpl) apply(c echo.Context, id string, fn func() (flow.State, error)) error {
	s, err := fn()
	if err != nil {
		return h.fail(err, id)
	}
	return h.respond(c, http.StatusOK, id, s)
}

func withUpload(fh *multipart.FileHeader, fn func(multipart.File) (flow.State, error)) (flow.State, error) {
	src, err := fh.Open()
	if err != nil {
		return flow.State{}, errors.Join(errors.New("failed to open uploaded file"), err)
	}
	defer src.Close()
	return fn(src)
}
