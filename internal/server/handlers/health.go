package handlers

import (
	"context"

	"github.com/maruel/memd/internal/storage"
	"github.com/maruel/memd/internal/storage/git"
	"github.com/maruel/memd/internal/storage/search"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	version  string
	readOnly bool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, readOnly bool) *HealthHandler {
	return &HealthHandler{version: version, readOnly: readOnly}
}

// HealthRequest is empty.
type HealthRequest struct{}

func (*HealthRequest) Validate() error {
	return nil
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	ReadOnly bool   `json:"read_only"`
}

// Health handles health check requests.
func (h *HealthHandler) Health(_ context.Context, _ *HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Version: h.version, ReadOnly: h.readOnly}, nil
}

// StatusHandler handles repository status requests.
type StatusHandler struct {
	svc      *storage.NodeService
	readOnly bool
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(svc *storage.NodeService, readOnly bool) *StatusHandler {
	return &StatusHandler{svc: svc, readOnly: readOnly}
}

// StatusRequest is empty.
type StatusRequest struct{}

func (*StatusRequest) Validate() error {
	return nil
}

// StatusResponse is a snapshot of the store's backing systems.
type StatusResponse struct {
	Repository    git.RepositoryStatus `json:"repository"`
	Search        search.BackendStatus `json:"search"`
	PendingPushes int                  `json:"pending_pushes"`
	ReadOnly      bool                 `json:"read_only"`
}

// Status reports repository, search backend, and push queue state.
func (h *StatusHandler) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	repo, searchSt, err := h.svc.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		Repository:    repo,
		Search:        searchSt,
		PendingPushes: len(h.svc.PendingPushes()),
		ReadOnly:      h.readOnly,
	}, nil
}
