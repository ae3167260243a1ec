package models

import (
	"strings"
	"time"
)

// MaxContentSize is the largest accepted node content in bytes.
const MaxContentSize = 10_000_000

// Revision sentinels. NodeMetadata.Revision always carries either a commit
// hash or one of these; consumers must handle both sentinels explicitly.
const (
	// RevisionUncommitted marks content that is on disk but not yet in git.
	RevisionUncommitted = "uncommitted"
	// RevisionUnknown marks content whose git state could not be determined.
	RevisionUnknown = "unknown"
)

// NodeMetadata describes a memory node without its content.
// It is derived from the filesystem and git on every read, never stored.
type NodeMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int64     `json:"size"`
	Revision  string    `json:"revision"`
	Exists    bool      `json:"exists"`
}

// MemoryNode is one addressable markdown document managed by the store.
type MemoryNode struct {
	Path     string       `json:"path"`
	Content  string       `json:"content,omitempty"`
	Preview  string       `json:"content_preview,omitempty"`
	Metadata NodeMetadata `json:"metadata"`
}

// ContentPreview returns the first 200 characters of the content.
func (n *MemoryNode) ContentPreview() string {
	if len(n.Content) <= 200 {
		return n.Content
	}
	return n.Content[:197] + "..."
}

// ValidateContent checks node content against the store's invariants:
// non-empty after trimming, no NUL bytes, at most MaxContentSize bytes.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ContentInvalid("content is empty or whitespace-only")
	}
	if len(content) > MaxContentSize {
		return ContentInvalid("content exceeds maximum size").WithDetail("size", len(content)).WithDetail("max", MaxContentSize)
	}
	if strings.ContainsRune(content, 0) {
		return ContentInvalid("content contains NUL bytes")
	}
	return nil
}

// NodeRequest is the request body for creating or updating a memory node.
type NodeRequest struct {
	Content       string `json:"content"`
	CommitMessage string `json:"commit_message,omitempty"`
}

// NodeListResponse is the response for node listings.
type NodeListResponse struct {
	Nodes  []MemoryNode `json:"nodes"`
	Total  int          `json:"total"`
	Prefix string       `json:"prefix,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset"`
}

// BatchAction identifies a batch operation kind.
type BatchAction string

const (
	// BatchActionCreate writes a new file.
	BatchActionCreate BatchAction = "create"
	// BatchActionUpdate overwrites an existing file.
	BatchActionUpdate BatchAction = "update"
	// BatchActionDelete removes a file if present.
	BatchActionDelete BatchAction = "delete"
)

// BatchOperation is a single entry in a batch request.
type BatchOperation struct {
	Action  BatchAction `json:"action"`
	Path    string      `json:"path"`
	Content string      `json:"content,omitempty"`
}

// BatchRequest applies a list of operations as one commit.
type BatchRequest struct {
	Operations    []BatchOperation `json:"operations"`
	CommitMessage string           `json:"commit_message"`
}

// BatchResponse reports the outcome of a batch request.
type BatchResponse struct {
	Success      bool     `json:"success"`
	Revision     string   `json:"revision,omitempty"`
	FilesChanged []string `json:"files_changed"`
	Error        string   `json:"error,omitempty"`
}
