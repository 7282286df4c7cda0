package flow

import (
	"context"

	"github.com/client-intake/frontend/internal/models"
)

// ListStatus is the lifecycle of the client list view.
type ListStatus string

const (
	ListLoading ListStatus = "loading"
	ListLoaded  ListStatus = "loaded"
	ListFailed  ListStatus = "failed"
)

// KeyClientsUnavailable is shown when the client list cannot be fetched.
const KeyClientsUnavailable = "clients_unavailable"

// ClientLister fetches the full client collection.
type ClientLister interface {
	ListClients(ctx context.Context) ([]models.Client, error)
}

// ClientList is the read-only list view.
type ClientList struct {
	Status   ListStatus      `json:"status"`
	Clients  []models.Client `json:"clients"`
	ErrorKey string          `json:"errorKey,omitempty"`
	Err      error           `json:"-"`
}

// LoadClientList fetches the collection once.
func LoadClientList(ctx context.Context, lister ClientLister) ClientList {
	clients, err := lister.ListClients(ctx)
	if err != nil {
		return ClientList{
			Status:   ListFailed,
			Clients:  []models.Client{},
			ErrorKey: KeyClientsUnavailable,
			Err:      err,
		}
	}
	if clients == nil {
		clients = []models.Client{}
	}
	return ClientList{Status: ListLoaded, Clients: clients}
}
