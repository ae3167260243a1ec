// Package handlers implements the API endpoints over the node service.
package handlers

import (
	"context"
	"net/http"

	"github.com/maruel/memd/internal/models"
	"github.com/maruel/memd/internal/storage"
	"github.com/maruel/memd/internal/storage/git"
	"github.com/maruel/memd/internal/storage/paths"
)

// NodeHandler serves the /api/v1/memory endpoints.
type NodeHandler struct {
	svc *storage.NodeService
}

// NewNodeHandler creates the handler for node CRUD and listing.
func NewNodeHandler(svc *storage.NodeService) *NodeHandler {
	return &NodeHandler{svc: svc}
}

// GetNodeRequest fetches one node by path.
type GetNodeRequest struct {
	Path string `path:"path"`
}

// Validate sanitizes the path in place, so "notes/todo" and
// "notes/todo.md" address the same node.
func (r *GetNodeRequest) Validate() error {
	p, err := paths.Sanitize(r.Path)
	if err != nil {
		return err
	}
	r.Path = p
	return nil
}

// GetNode returns the node's content and metadata.
func (h *NodeHandler) GetNode(ctx context.Context, req *GetNodeRequest) (*models.MemoryNode, error) {
	return h.svc.Get(ctx, req.Path)
}

// PutNodeRequest creates or replaces a node.
type PutNodeRequest struct {
	Path          string `path:"path" json:"-"`
	Content       string `json:"content"`
	CommitMessage string `json:"commit_message,omitempty"`
}

func (r *PutNodeRequest) Validate() error {
	p, err := paths.Sanitize(r.Path)
	if err != nil {
		return err
	}
	r.Path = p
	return models.ValidateContent(r.Content)
}

// PutNodeResponse is a MemoryNode that answers 201 on creation.
type PutNodeResponse struct {
	models.MemoryNode
	created bool
}

// HTTPStatus returns 201 when the node was created, 200 when updated.
func (r *PutNodeResponse) HTTPStatus() int {
	if r.created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// PutNode writes the node and commits it.
func (h *NodeHandler) PutNode(ctx context.Context, req *PutNodeRequest) (*PutNodeResponse, error) {
	node, created, err := h.svc.CreateOrUpdate(ctx, req.Path, req.Content, req.CommitMessage)
	if err != nil {
		return nil, err
	}
	return &PutNodeResponse{MemoryNode: *node, created: created}, nil
}

// DeleteNodeRequest removes one node by path.
type DeleteNodeRequest struct {
	Path          string `path:"path" json:"-"`
	CommitMessage string `json:"commit_message,omitempty"`
}

func (r *DeleteNodeRequest) Validate() error {
	p, err := paths.Sanitize(r.Path)
	if err != nil {
		return err
	}
	r.Path = p
	return nil
}

// DeleteNodeResponse is an empty 204.
type DeleteNodeResponse struct{}

// HTTPStatus returns 204.
func (*DeleteNodeResponse) HTTPStatus() int {
	return http.StatusNoContent
}

// DeleteNode removes the node. Deleting an absent node is 404; the
// underlying delete stays idempotent.
func (h *NodeHandler) DeleteNode(ctx context.Context, req *DeleteNodeRequest) (*DeleteNodeResponse, error) {
	deleted, err := h.svc.Delete(ctx, req.Path, req.CommitMessage)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, models.NotFound(req.Path)
	}
	return &DeleteNodeResponse{}, nil
}

// ListNodesRequest lists nodes with optional prefix and pagination.
type ListNodesRequest struct {
	Prefix         string `query:"prefix"`
	Recursive      bool   `query:"recursive"`
	IncludeContent bool   `query:"include_content"`
	Limit          int    `query:"limit"`
	Offset         int    `query:"offset"`
}

func (r *ListNodesRequest) Validate() error {
	if r.Limit < 0 || r.Limit > 1000 {
		return models.BadRequest("limit must be between 0 and 1000")
	}
	if r.Offset < 0 {
		return models.BadRequest("offset must not be negative")
	}
	return nil
}

// ListNodes returns a paginated node listing.
func (h *NodeHandler) ListNodes(ctx context.Context, req *ListNodesRequest) (*models.NodeListResponse, error) {
	return h.svc.List(ctx, storage.ListOptions{
		Prefix:         req.Prefix,
		Recursive:      req.Recursive,
		IncludeContent: req.IncludeContent,
		Limit:          req.Limit,
		Offset:         req.Offset,
	})
}

// HistoryRequest fetches the commit history of one node.
type HistoryRequest struct {
	Path  string `path:"path"`
	Limit int    `query:"limit"`
}

func (r *HistoryRequest) Validate() error {
	p, err := paths.Sanitize(r.Path)
	if err != nil {
		return err
	}
	r.Path = p
	if r.Limit < 0 || r.Limit > 1000 {
		return models.BadRequest("limit must be between 0 and 1000")
	}
	return nil
}

// HistoryResponse lists commits touching a node, newest first.
type HistoryResponse struct {
	Path    string            `json:"path"`
	Commits []*git.CommitInfo `json:"commits"`
}

// History returns commits touching the node, newest first.
func (h *NodeHandler) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if !h.svc.Exists(req.Path) {
		return nil, models.NotFound(req.Path)
	}
	commits, err := h.svc.History(ctx, req.Path, req.Limit)
	if err != nil {
		return nil, err
	}
	if commits == nil {
		commits = []*git.CommitInfo{}
	}
	return &HistoryResponse{Path: req.Path, Commits: commits}, nil
}
