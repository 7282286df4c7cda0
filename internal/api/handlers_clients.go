// handlers_clients.go - Client list handlers
package api

import (
	"net/http"
	"strings"

	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack is the media type of msgpack responses
const MIMEApplicationMsgpack = "application/msgpack"

// ClientsHandlerImpl implements the ClientsHandler interface
type ClientsHandlerImpl struct {
	lister  flow.ClientLister
	catalog *messages.Catalog
}

// NewClientsHandler creates a new clients handler instance
func NewClientsHandler(lister flow.ClientLister, catalog *messages.Catalog) ClientsHandler {
	return &ClientsHandlerImpl{
		lister:  lister,
		catalog: catalog,
	}
}

// HandleListClients proxies the client list of the intake service.
// Responds with msgpack when the client asks for it.
func (h *ClientsHandlerImpl) HandleListClients(c echo.Context) error {
	list := flow.LoadClientList(c.Request().Context(), h.lister)
	if list.Status == flow.ListFailed {
		return NewBadGatewayError(h.catalog.Text(list.ErrorKey), list.Err)
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEApplicationMsgpack) {
		data, err := msgpack.Marshal(list.Clients)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
	}
	return c.JSON(http.StatusOK, list.Clients)
}
