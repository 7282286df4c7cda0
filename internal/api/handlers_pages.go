// handlers_pages.go - Server-rendered intake pages
package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/client-intake/frontend/internal/session"
	"github.com/client-intake/frontend/internal/storage"
	"github.com/client-intake/frontend/internal/web"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SessionCookie carries the intake session id of a browser
const SessionCookie = "intake_session"

const cookieMaxAge = 24 * time.Hour

// flash keys accepted in the msg query parameter
var flashKeys = map[string]bool{
	"busy":           true,
	"file_too_large": true,
	"too_many_files": true,
	"rate_limited":   true,
}

// PageHandlerImpl implements the PageHandler interface
type PageHandlerImpl struct {
	sessions SessionManager
	lister   flow.ClientLister
	catalog  *messages.Catalog
	logger   *zap.Logger
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
}

// NewPageHandler creates a new page handler instance
func NewPageHandler(sessions SessionManager, lister flow.ClientLister, catalog *messages.Catalog, logger *zap.Logger) *PageHandlerImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageHandlerImpl{
		sessions: sessions,
		lister:   lister,
		catalog:  catalog,
		logger:   logger.Named("pages"),
	}
}

// session returns the browser's session, starting one when the cookie is
// missing or points at an expired session.
func (h *PageHandlerImpl) session(c echo.Context) (session.SessionState, error) {
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		if st, ok := h.sessions.Get(cookie.Value); ok {
			h.sessions.Touch(st.ID)
			return st, nil
		}
	}

	st, err := h.sessions.Create(flow.ModeNone)
	if err != nil {
		return session.SessionState{}, err
	}
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    st.ID,
		Path:     "/",
		MaxAge:   int(cookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return st, nil
}

func redirect(c echo.Context, to string) error {
	return c.Redirect(http.StatusSeeOther, to)
}

// redirectIntake returns to the intake page, carrying a flash message for
// errors the session state cannot hold.
func (h *PageHandlerImpl) redirectIntake(c echo.Context, err error) error {
	key := ""
	switch {
	case err == nil:
	case errors.Is(err, flow.ErrBusy):
		key = "busy"
	case errors.Is(err, storage.ErrTooLarge):
		key = "file_too_large"
	case errors.Is(err, flow.ErrTooManyFiles):
		key = "too_many_files"
	case flow.IsValidation(err):
		// Recorded in the session state.
	default:
		h.logger.Debug("page action rejected", zap.Error(err))
	}
	if key == "" {
		return redirect(c, "/intake")
	}
	return redirect(c, "/intake?msg="+url.QueryEscape(key))
}

// fail renders the error page for errors that have no place in a session.
func (h *PageHandlerImpl) fail(c echo.Context, err error) error {
	key := "page_error"
	if errors.Is(err, session.ErrCapacity) {
		key = "sessions_full"
	}
	h.logger.Warn("page request failed", zap.Error(err))
	status := sessionError(err, "", h.catalog.Text).Status
	return c.Render(status, web.PageError, web.NewErrorPage(h.catalog, key))
}

// HandleChoice renders the mode selector
func (h *PageHandlerImpl) HandleChoice(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	if st.State.Mode != flow.ModeNone {
		return redirect(c, "/intake")
	}
	return c.Render(http.StatusOK, web.PageChoice, web.ChoicePage{Title: h.catalog.Text("choice_title")})
}

// HandleSelectMode starts the flow in the chosen mode
func (h *PageHandlerImpl) HandleSelectMode(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	mode, ok := flow.ParseMode(c.FormValue("mode"))
	if !ok {
		return redirect(c, "/")
	}
	_, err = h.sessions.SelectMode(st.ID, mode)
	return h.redirectIntake(c, err)
}

// HandleClearMode goes back to the mode selector, discarding the draft
func (h *PageHandlerImpl) HandleClearMode(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	if _, err := h.sessions.SelectMode(st.ID, flow.ModeNone); err != nil {
		return h.redirectIntake(c, err)
	}
	return redirect(c, "/")
}

// HandleIntake renders the current step
func (h *PageHandlerImpl) HandleIntake(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	if st.State.Mode == flow.ModeNone {
		return redirect(c, "/")
	}

	page := web.NewIntakePage(h.catalog, st.State, h.sessions.Machine().Rules().MaxFiles)
	if key := c.QueryParam("msg"); flashKeys[key] {
		if key == "busy" {
			page.Notice = h.catalog.Text(key)
		} else {
			page.Failure = h.catalog.Text(key)
		}
	}
	return c.Render(http.StatusOK, web.PageIntake, page)
}

// HandlePhone stores the phone number and requests a verification code
func (h *PageHandlerImpl) HandlePhone(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	if _, err := h.sessions.Apply(st.ID, flow.PhoneChanged{Phone: c.FormValue("phone")}); err != nil {
		return h.redirectIntake(c, err)
	}
	_, err = h.sessions.Submit(c.Request().Context(), st.ID)
	return h.redirectIntake(c, err)
}

// HandleOtp stores the four code digits and validates them
func (h *PageHandlerImpl) HandleOtp(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	for i := 0; i < flow.CodeLength; i++ {
		value := c.FormValue("d" + strconv.Itoa(i))
		_, err := h.sessions.Apply(st.ID, flow.DigitEntered{Index: i, Value: value})
		if errors.Is(err, flow.ErrInvalidDigit) {
			_, err = h.sessions.Apply(st.ID, flow.DigitEntered{Index: i})
		}
		if err != nil {
			return h.redirectIntake(c, err)
		}
	}
	_, err = h.sessions.Submit(c.Request().Context(), st.ID)
	return h.redirectIntake(c, err)
}

// HandleDetails stores name, link and files. Unless the visitor only asked
// to upload files, the client is then submitted.
func (h *PageHandlerImpl) HandleDetails(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	id := st.ID

	if _, err := h.sessions.Apply(id, flow.NameChanged{Name: c.FormValue("name")}); err != nil {
		return h.redirectIntake(c, err)
	}

	if st.State.Mode == flow.ModeLink {
		if _, err := h.sessions.Apply(id, flow.LinkChanged{Link: c.FormValue("link")}); err != nil {
			return h.redirectIntake(c, err)
		}
	} else if form, err := c.MultipartForm(); err == nil {
		if err := h.stageFiles(id, form, len(st.State.Draft.Files)); err != nil {
			return h.redirectIntake(c, err)
		}
	}

	if c.FormValue("action") == "upload" {
		return redirect(c, "/intake")
	}
	_, err = h.sessions.Submit(c.Request().Context(), id)
	return h.redirectIntake(c, err)
}

func (h *PageHandlerImpl) stageFiles(id string, form *multipart.Form, slots int) error {
	for slot := 0; slot < slots; slot++ {
		for _, fh := range form.File["replace"+strconv.Itoa(slot)] {
			_, err := withUpload(fh, func(f multipart.File) (flow.State, error) {
				return h.sessions.ReplaceFile(id, slot, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
			})
			if err != nil {
				return err
			}
		}
	}
	for _, fh := range form.File["files"] {
		if fh.Size == 0 && fh.Filename == "" {
			continue
		}
		_, err := withUpload(fh, func(f multipart.File) (flow.State, error) {
			return h.sessions.AddFile(id, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleRemoveFile clears one file slot
func (h *PageHandlerImpl) HandleRemoveFile(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return redirect(c, "/intake")
	}
	_, err = h.sessions.RemoveFile(st.ID, slot)
	return h.redirectIntake(c, err)
}

// HandleReset starts the current mode over
func (h *PageHandlerImpl) HandleReset(c echo.Context) error {
	st, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	_, err = h.sessions.Reset(st.ID)
	return h.redirectIntake(c, err)
}

// HandleClients renders the client list
func (h *PageHandlerImpl) HandleClients(c echo.Context) error {
	list := flow.LoadClientList(c.Request().Context(), h.lister)
	if list.Status == flow.ListFailed {
		h.logger.Warn("client list unavailable", zap.Error(list.Err))
	}
	return c.Render(http.StatusOK, web.PageClients, web.NewClientsPage(h.catalog, list))
}

// RateLimitedRedirect answers a rate limited page action
func RateLimitedRedirect(c echo.Context, _ string, _ error) error {
	return redirect(c, "/intake?msg=rate_limited")
}
