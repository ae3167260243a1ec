package handlers

import (
	"context"
	"time"

	"github.com/maruel/memd/internal/models"
	"github.com/maruel/memd/internal/storage"
	"github.com/maruel/memd/internal/storage/search"
)

// SearchHandler serves POST /api/v1/search.
type SearchHandler struct {
	svc            *storage.NodeService
	defaultTimeout time.Duration
}

// NewSearchHandler creates the content search handler. A zero
// defaultTimeout falls back to the package default.
func NewSearchHandler(svc *storage.NodeService, defaultTimeout time.Duration) *SearchHandler {
	if defaultTimeout <= 0 {
		defaultTimeout = search.DefaultTimeout
	}
	return &SearchHandler{svc: svc, defaultTimeout: defaultTimeout}
}

// SearchRequest is the search request body. Zero-valued knobs take the
// defaults (2 context lines, 50 files, 10 matches per file).
type SearchRequest struct {
	Pattern           string  `json:"pattern"`
	IsRegex           bool    `json:"is_regex"`
	CaseSensitive     bool    `json:"case_sensitive"`
	WholeWords        bool    `json:"whole_words"`
	ContextLines      *int    `json:"context_lines,omitempty"`
	MaxResults        int     `json:"max_results,omitempty"`
	MaxMatchesPerFile int     `json:"max_matches_per_file,omitempty"`
	Prefix            string  `json:"prefix,omitempty"`
	TimeoutSeconds    float64 `json:"timeout_seconds,omitempty"`
}

func (r *SearchRequest) Validate() error {
	if r.TimeoutSeconds < 0 || r.TimeoutSeconds > 300 {
		return models.BadRequest("timeout_seconds must be between 0 and 300")
	}
	q := r.query()
	return q.Validate()
}

func (r *SearchRequest) query() models.SearchQuery {
	q := models.DefaultSearchQuery(r.Pattern)
	q.IsRegex = r.IsRegex
	q.CaseSensitive = r.CaseSensitive
	q.WholeWords = r.WholeWords
	if r.ContextLines != nil {
		q.ContextLines = *r.ContextLines
	}
	if r.MaxResults != 0 {
		q.MaxResults = r.MaxResults
	}
	if r.MaxMatchesPerFile != 0 {
		q.MaxMatchesPerFile = r.MaxMatchesPerFile
	}
	return q
}

// Search runs a content search across the store.
func (h *SearchHandler) Search(ctx context.Context, req *SearchRequest) (*models.SearchSummary, error) {
	timeout := h.defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}
	return h.svc.Search(ctx, req.query(), req.Prefix, timeout)
}
