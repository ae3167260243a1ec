// Package storage ties the file store, the git controller, and the search
// engine together into the node-level operations the server exposes.
//
// The rule that shapes everything here: a durable file write is never undone
// by a git failure. Commits and pushes are best-effort; when they fail the
// node's revision degrades to a sentinel and the operation still succeeds.
package storage

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/maruel/memd/internal/models"
	"github.com/maruel/memd/internal/storage/files"
	"github.com/maruel/memd/internal/storage/git"
	"github.com/maruel/memd/internal/storage/paths"
	"github.com/maruel/memd/internal/storage/search"
)

// pushTimeout bounds one background push including all its retries.
const pushTimeout = 3 * time.Minute

// NodeService is the façade over the store. All server handlers go through
// it.
type NodeService struct {
	files  *files.Store
	git    *git.Controller
	search *search.Engine

	pushInFlight atomic.Bool
}

// NewNodeService wires the three storage layers together.
func NewNodeService(f *files.Store, g *git.Controller, s *search.Engine) *NodeService {
	return &NodeService{files: f, git: g, search: s}
}

// Get returns the node at path with content and metadata.
func (s *NodeService) Get(ctx context.Context, path string) (*models.MemoryNode, error) {
	if !s.files.Exists(path) {
		return nil, models.NotFound(path)
	}
	content, err := s.files.Read(path)
	if err != nil {
		return nil, err
	}
	md, err := s.Metadata(ctx, path)
	if err != nil {
		return nil, err
	}
	return &models.MemoryNode{Path: path, Content: content, Metadata: md}, nil
}

// Metadata returns the node's metadata without reading its content.
func (s *NodeService) Metadata(ctx context.Context, path string) (models.NodeMetadata, error) {
	if !s.files.Exists(path) {
		return models.NodeMetadata{}, models.NotFound(path)
	}
	md, err := s.files.Metadata(path)
	if err != nil {
		return models.NodeMetadata{}, err
	}
	md.Revision = s.revision(ctx, path)
	return md, nil
}

// Exists reports whether a node is present. Invalid paths read as absent.
func (s *NodeService) Exists(path string) bool {
	return s.files.Exists(path)
}

// CreateOrUpdate writes content at path and commits. The second return
// reports whether this was a creation, for status-code purposes upstream.
// A commit failure degrades the revision to "uncommitted" but the call still
// succeeds: the content is durably on disk.
func (s *NodeService) CreateOrUpdate(ctx context.Context, path, content, message string) (*models.MemoryNode, bool, error) {
	existed := s.files.Exists(path)
	md, err := s.files.Write(path, content)
	if err != nil {
		return nil, false, err
	}

	if message == "" {
		if existed {
			message = "Update " + path
		} else {
			message = "Create " + path
		}
	}
	res := s.git.Commit(ctx, path, content, message)
	switch {
	case !res.Success:
		slog.WarnContext(ctx, "Commit failed, node left uncommitted", "path", path, "err", res.ErrorMessage)
		md.Revision = models.RevisionUncommitted
	case res.Revision != "":
		md.Revision = res.Revision
		s.schedulePush(ctx)
	default:
		// Content identical to what was already committed.
		md.Revision = s.revision(ctx, path)
	}

	return &models.MemoryNode{Path: path, Content: content, Metadata: md}, !existed, nil
}

// Delete removes the node from disk. Returns whether a file actually
// existed. Deleting an absent node is not an error. The version layer sees
// the file already gone and records nothing; the removal stays pending in
// the working tree until a later commit picks it up.
func (s *NodeService) Delete(ctx context.Context, path, message string) (bool, error) {
	deleted, err := s.files.Delete(path)
	if err != nil {
		return false, err
	}
	if deleted {
		if res := s.git.Delete(ctx, path, message); !res.Success {
			slog.WarnContext(ctx, "Deletion not committed", "path", path, "err", res.ErrorMessage)
		} else if res.Revision != "" {
			s.schedulePush(ctx)
		}
	}
	return deleted, nil
}

// ListOptions controls List.
type ListOptions struct {
	Prefix         string
	Recursive      bool
	IncludeContent bool
	// Limit caps the returned page; zero or negative means no cap.
	Limit  int
	Offset int
}

// List returns nodes in deterministic lexicographic order with pagination.
// Entries that vanish between listing and access are skipped, not errors.
func (s *NodeService) List(ctx context.Context, opts ListOptions) (*models.NodeListResponse, error) {
	all, err := s.files.List(opts.Prefix, opts.Recursive)
	if err != nil {
		return nil, err
	}
	sort.Strings(all)

	total := len(all)
	page := all
	if opts.Offset > 0 {
		if opts.Offset >= len(page) {
			page = nil
		} else {
			page = page[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(page) {
		page = page[:opts.Limit]
	}

	nodes := []models.MemoryNode{}
	for _, p := range page {
		n, err := s.Get(ctx, p)
		if err != nil {
			slog.DebugContext(ctx, "Skipping vanished node", "path", p, "err", err)
			continue
		}
		n.Preview = n.ContentPreview()
		if !opts.IncludeContent {
			n.Content = ""
		}
		nodes = append(nodes, *n)
	}

	return &models.NodeListResponse{
		Nodes:  nodes,
		Total:  total,
		Prefix: opts.Prefix,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}, nil
}

// Batch applies an ordered list of operations as a single commit. Operations
// are validated up front; a validation failure rejects the whole batch
// before anything is applied. A commit-level failure is reported in the
// response, not raised.
func (s *NodeService) Batch(ctx context.Context, req models.BatchRequest) (*models.BatchResponse, error) {
	if len(req.Operations) == 0 {
		return nil, models.BadRequest("batch contains no operations")
	}
	if req.CommitMessage == "" {
		return nil, models.BadRequest("commit_message is required for batches")
	}
	for _, op := range req.Operations {
		if err := paths.Validate(op.Path); err != nil {
			return nil, err
		}
		switch op.Action {
		case models.BatchActionCreate, models.BatchActionUpdate:
			if err := models.ValidateContent(op.Content); err != nil {
				return nil, err
			}
		case models.BatchActionDelete:
		default:
			return nil, models.BadRequest("unknown batch action: " + string(op.Action))
		}
	}

	res := s.git.BatchCommit(ctx, req.Operations, req.CommitMessage)
	if res.Success && res.Revision != "" {
		s.schedulePush(ctx)
	}
	return &models.BatchResponse{
		Success:      res.Success,
		Revision:     res.Revision,
		FilesChanged: res.FilesChanged,
		Error:        res.ErrorMessage,
	}, nil
}

// Search runs a content search over the store, scoped to prefix when given.
func (s *NodeService) Search(ctx context.Context, q models.SearchQuery, prefix string, timeout time.Duration) (*models.SearchSummary, error) {
	if prefix != "" {
		if err := paths.Validate(prefix + "/x.md"); err != nil {
			return nil, models.PathInvalid(prefix, "invalid search prefix")
		}
	}
	return s.search.Search(ctx, q, s.files.Root(), prefix, timeout)
}

// Status reports the repository and search backend state.
func (s *NodeService) Status(ctx context.Context) (git.RepositoryStatus, search.BackendStatus, error) {
	st, err := s.git.Status(ctx)
	return st, s.search.Status(), err
}

// History returns up to n commits touching path, newest first.
func (s *NodeService) History(ctx context.Context, path string, n int) ([]*git.CommitInfo, error) {
	if err := paths.Validate(path); err != nil {
		return nil, err
	}
	return s.git.History(ctx, path, n)
}

// PendingPushes exposes the unpushed revision queue, for the status surface.
func (s *NodeService) PendingPushes() []string {
	return s.git.PendingPushes()
}

// revision is the best-effort lookup behind every metadata assembly: a
// lookup failure degrades to "unknown", a file with no history reads as
// "uncommitted".
func (s *NodeService) revision(ctx context.Context, path string) string {
	rev, err := s.git.FileRevision(ctx, path)
	if err != nil {
		slog.WarnContext(ctx, "Revision lookup failed", "path", path, "err", err)
		return models.RevisionUnknown
	}
	if rev == "" {
		return models.RevisionUncommitted
	}
	return rev
}

// schedulePush starts a background push unless one is already running. The
// pending queue survives a skipped or failed push, so the next commit tries
// again.
func (s *NodeService) schedulePush(ctx context.Context) {
	if !s.pushInFlight.CompareAndSwap(false, true) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.pushInFlight.Store(false)
		ctx, cancel := context.WithTimeout(ctx, pushTimeout)
		defer cancel()
		if res := s.git.Push(ctx, git.DefaultMaxRetries); !res.Success {
			err := models.PushFailed(res.RetryCount, errors.New(res.ErrorMessage))
			slog.ErrorContext(ctx, "Background push failed", "err", err)
		}
	}()
}
