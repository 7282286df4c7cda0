// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/history"
	"github.com/client-intake/frontend/internal/session"
	"github.com/labstack/echo/v4"
)

// IntakeHandler drives intake sessions over JSON
type IntakeHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSelectMode(c echo.Context) error
	HandleSetPhone(c echo.Context) error
	HandleSetDigit(c echo.Context) error
	HandleSetName(c echo.Context) error
	HandleSetLink(c echo.Context) error
	HandleAddFile(c echo.Context) error
	HandleReplaceFile(c echo.Context) error
	HandleRemoveFile(c echo.Context) error
	HandleSubmit(c echo.Context) error
	HandleReset(c echo.Context) error
}

// ClientsHandler serves the client list of the intake service
type ClientsHandler interface {
	HandleListClients(c echo.Context) error
}

// HistoryHandler serves the local attempt log
type HistoryHandler interface {
	HandleRecentAttempts(c echo.Context) error
	HandleAttemptSummary(c echo.Context) error
}

// PageHandler renders the HTML intake pages
type PageHandler interface {
	HandleChoice(c echo.Context) error
	HandleSelectMode(c echo.Context) error
	HandleClearMode(c echo.Context) error
	HandleIntake(c echo.Context) error
	HandlePhone(c echo.Context) error
	HandleOtp(c echo.Context) error
	HandleDetails(c echo.Context) error
	HandleRemoveFile(c echo.Context) error
	HandleReset(c echo.Context) error
	HandleClients(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create(mode flow.Mode) (session.SessionState, error)
	Get(id string) (session.SessionState, bool)
	Touch(id string) bool
	Len() int
	Apply(id string, e flow.Event) (flow.State, error)
	SelectMode(id string, mode flow.Mode) (flow.State, error)
	AddFile(id, name, contentType string, r io.Reader) (flow.State, error)
	ReplaceFile(id string, slot int, name, contentType string, r io.Reader) (flow.State, error)
	RemoveFile(id string, slot int) (flow.State, error)
	Submit(ctx context.Context, id string) (flow.State, error)
	Reset(id string) (flow.State, error)
	Delete(id string) error
	Machine() *flow.Machine
}

// AttemptLog reads the local history of backend calls
type AttemptLog interface {
	Recent(ctx context.Context, limit int) ([]history.Attempt, error)
	Summary(ctx context.Context) ([]history.OperationStats, error)
}

var (
	_ SessionManager = (*session.Manager)(nil)
	_ AttemptLog     = (*history.Store)(nil)
)
