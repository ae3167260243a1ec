package handlers

import (
	"context"

	"github.com/maruel/memd/internal/models"
	"github.com/maruel/memd/internal/storage"
)

// maxBatchOperations caps a single batch request.
const maxBatchOperations = 100

// BatchHandler serves POST /api/v1/batch.
type BatchHandler struct {
	svc *storage.NodeService
}

// NewBatchHandler creates the batch mutation handler.
func NewBatchHandler(svc *storage.NodeService) *BatchHandler {
	return &BatchHandler{svc: svc}
}

// BatchRequest applies an ordered list of operations as one commit.
type BatchRequest struct {
	models.BatchRequest
}

func (r *BatchRequest) Validate() error {
	if len(r.Operations) > maxBatchOperations {
		return models.BadRequest("too many operations in batch").
			WithDetail("max", maxBatchOperations)
	}
	// Per-operation validation happens in the service, which owns the
	// ordering and action semantics.
	return nil
}

// Batch applies the operations and reports the single resulting commit.
func (h *BatchHandler) Batch(ctx context.Context, req *BatchRequest) (*models.BatchResponse, error) {
	return h.svc.Batch(ctx, req.BatchRequest)
}
