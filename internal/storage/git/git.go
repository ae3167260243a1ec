// Package git versions the memory store: every mutation becomes a commit in
// a repository rooted at the store directory, and local commits are queued
// for push to an optional remote.
//
// Two interchangeable backends implement the low-level repository access:
// the git CLI via os/exec (default) and go-git (pure Go, no git binary
// needed). The Controller on top owns the store semantics: commit
// results that never raise, the pending push queue, and push retries with
// exponential backoff.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maruel/memd/internal/models"
)

// InjectTokenInURL injects an authentication token into a git remote URL.
// Supports GitHub (x-access-token) and GitLab (oauth2) URL patterns.
func InjectTokenInURL(remoteURL, token string) string {
	if token == "" {
		return remoteURL
	}
	switch {
	case strings.Contains(remoteURL, "github.com"):
		return strings.Replace(remoteURL, "https://github.com", fmt.Sprintf("https://x-access-token:%s@github.com", token), 1)
	case strings.Contains(remoteURL, "gitlab.com"):
		return strings.Replace(remoteURL, "https://gitlab.com", fmt.Sprintf("https://oauth2:%s@gitlab.com", token), 1)
	default:
		return remoteURL
	}
}

// Backend selects which git implementation to use.
type Backend int

const (
	// BackendExec uses the git CLI via os/exec (default).
	BackendExec Backend = iota
	// BackendGoGit uses go-git (pure Go, no git binary needed).
	BackendGoGit
)

// Author identifies who made a change for git commits.
type Author struct {
	Name  string
	Email string
}

// CommitInfo describes one commit in history.
type CommitInfo struct {
	Hash         string    `json:"hash"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	AuthorEmail  string    `json:"author_email"`
	Timestamp    time.Time `json:"timestamp"`
	FilesChanged []string  `json:"files_changed,omitempty"`
}

// CommitResult reports the outcome of a commit-producing operation. Commit
// failures are results, not errors: a failed commit must never undo the file
// write that already succeeded.
type CommitResult struct {
	Success      bool          `json:"success"`
	Revision     string        `json:"revision,omitempty"`
	FilesChanged []string      `json:"files_changed"`
	ErrorMessage string        `json:"error,omitempty"`
	Elapsed      time.Duration `json:"-"`
}

// PushResult reports the outcome of a push, including how many retries were
// spent getting there.
type PushResult struct {
	Success      bool          `json:"success"`
	RetryCount   int           `json:"retry_count"`
	ErrorMessage string        `json:"error,omitempty"`
	Elapsed      time.Duration `json:"-"`
}

// RepositoryStatus is a snapshot of the repository state.
type RepositoryStatus struct {
	Path       string      `json:"path"`
	Branch     string      `json:"branch"`
	RemoteURL  string      `json:"remote_url,omitempty"`
	LastCommit *CommitInfo `json:"last_commit,omitempty"`
	IsClean    bool        `json:"is_clean"`
}

// repo is the low-level repository access implemented by ExecRepo and
// GoGitRepo. Commit stages the given paths (additions and deletions alike)
// and commits; it returns an empty hash when nothing was actually staged.
type repo interface {
	Commit(ctx context.Context, author Author, message string, paths []string) (string, error)
	Head(ctx context.Context) (string, error)
	LastCommit(ctx context.Context) (*CommitInfo, error)
	FileRevision(ctx context.Context, path string) (string, error)
	History(ctx context.Context, path string, n int) ([]*CommitInfo, error)
	Branch(ctx context.Context) (string, error)
	IsClean(ctx context.Context) (bool, error)
	RemoteURL(ctx context.Context, name string) (string, error)
	SetRemote(ctx context.Context, name, url string) error
	Push(ctx context.Context, remoteName, token string) error
}

// Options configures a Controller.
type Options struct {
	// Root is the repository directory, shared with the file store.
	Root string
	// RemoteURL is the optional remote to clone from and push to.
	RemoteURL string
	// Token is the optional push credential. Without it pushes are no-ops.
	Token string
	// AuthorName and AuthorEmail form the fixed commit identity.
	AuthorName  string
	AuthorEmail string
	// Backend selects the git implementation.
	Backend Backend
}

// Controller wraps a repository with the store's versioning semantics.
type Controller struct {
	opts Options
	repo repo

	// mu serializes worktree mutations (commit, delete, batch).
	mu sync.Mutex

	// pushMu guards pendingPush separately from mu so that queuing a commit
	// is never blocked behind an in-flight push.
	pushMu      sync.Mutex
	pendingPush []string

	// backoffBase is the first retry delay; doubles per attempt. Tests
	// shrink it.
	backoffBase time.Duration
}

const (
	defaultAuthorName  = "memd"
	defaultAuthorEmail = "memd@localhost"

	// pushAttemptTimeout bounds a single push subprocess/network call.
	pushAttemptTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of push retries after the
	// first attempt.
	DefaultMaxRetries = 3
)

// NewController creates a controller for the repository at opts.Root. Call
// Initialize before anything else.
func NewController(opts Options) *Controller {
	if opts.AuthorName == "" {
		opts.AuthorName = defaultAuthorName
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = defaultAuthorEmail
	}
	return &Controller{opts: opts, backoffBase: time.Second}
}

// Initialize opens, clones, or creates the repository. It is idempotent and
// intended to run once at process start. When a remote is configured and the
// existing repository's origin URL differs from configuration, Initialize
// fails rather than operate against the wrong history.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(c.opts.Root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	var r repo
	var err error
	switch c.opts.Backend {
	case BackendGoGit:
		r, err = newGoGitRepo(ctx, c.opts.Root, c.opts.RemoteURL, c.opts.AuthorName, c.opts.AuthorEmail)
	default:
		r, err = newExecRepo(ctx, c.opts.Root, c.opts.RemoteURL, c.opts.AuthorName, c.opts.AuthorEmail)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize git repository: %w", err)
	}
	c.repo = r

	if c.opts.RemoteURL != "" {
		url, err := r.RemoteURL(ctx, "origin")
		if err != nil {
			return fmt.Errorf("failed to inspect remote: %w", err)
		}
		switch url {
		case "":
			if err := r.SetRemote(ctx, "origin", c.opts.RemoteURL); err != nil {
				return fmt.Errorf("failed to configure remote: %w", err)
			}
		case c.opts.RemoteURL:
		default:
			return fmt.Errorf("remote URL mismatch: configured %q but repository has %q", c.opts.RemoteURL, url)
		}
	}
	slog.InfoContext(ctx, "Git repository initialized", "root", c.opts.Root, "remote", c.opts.RemoteURL)
	return nil
}

func (c *Controller) author() Author {
	return Author{Name: c.opts.AuthorName, Email: c.opts.AuthorEmail}
}

// Commit writes content for path directly into the working tree, stages it,
// and commits. The message defaults to "Update <path>". Failures are
// reported in the result, never raised.
func (c *Controller) Commit(ctx context.Context, path, content, message string) CommitResult {
	start := time.Now()
	if c.repo == nil {
		return failure(start, nil, "repository not initialized")
	}
	if message == "" {
		message = "Update " + path
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full := filepath.Join(c.opts.Root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return failure(start, nil, fmt.Sprintf("failed to create directory for %s: %v", path, err))
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil { //nolint:gosec // G306: 0o644 is intentional for document files
		return failure(start, nil, fmt.Sprintf("failed to write %s: %v", path, err))
	}

	hash, err := c.repo.Commit(ctx, c.author(), message, []string{path})
	if err != nil {
		slog.ErrorContext(ctx, "Commit failed", "path", path, "err", err)
		return failure(start, []string{path}, fmt.Sprintf("failed to commit %s: %v", path, err))
	}
	if hash != "" {
		c.enqueuePush(hash)
		slog.InfoContext(ctx, "Committed file", "path", path, "revision", shortHash(hash))
	}
	return CommitResult{Success: true, Revision: hash, FilesChanged: []string{path}, Elapsed: time.Since(start)}
}

// Delete removes path from the working tree and commits the deletion. An
// absent file is a successful no-op with zero files changed.
func (c *Controller) Delete(ctx context.Context, path, message string) CommitResult {
	start := time.Now()
	if c.repo == nil {
		return failure(start, nil, "repository not initialized")
	}
	if message == "" {
		message = "Delete " + path
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	full := filepath.Join(c.opts.Root, filepath.FromSlash(path))
	if _, err := os.Stat(full); errors.Is(err, os.ErrNotExist) {
		return CommitResult{Success: true, FilesChanged: []string{}, Elapsed: time.Since(start)}
	} else if err == nil {
		if err := os.Remove(full); err != nil {
			return failure(start, nil, fmt.Sprintf("failed to remove %s: %v", path, err))
		}
	}

	hash, err := c.repo.Commit(ctx, c.author(), message, []string{path})
	if err != nil {
		slog.ErrorContext(ctx, "Delete commit failed", "path", path, "err", err)
		return failure(start, []string{path}, fmt.Sprintf("failed to commit deletion of %s: %v", path, err))
	}
	if hash != "" {
		c.enqueuePush(hash)
		slog.InfoContext(ctx, "Committed deletion", "path", path, "revision", shortHash(hash))
	}
	return CommitResult{Success: true, Revision: hash, FilesChanged: []string{path}, Elapsed: time.Since(start)}
}

// BatchCommit applies an ordered list of operations to the working tree and
// creates exactly one commit for everything that actually changed. When no
// operation changes anything, no commit is created and the result is
// successful with zero files changed. Partial application before a failure
// is not rolled back; FilesChanged reports what landed.
//
// Batch writes go straight into the working tree rather than through the
// atomic temp+rename path used for single-file writes: the batch offers no
// cross-file atomicity anyway, and single-file torn-write protection is not
// part of its contract.
func (c *Controller) BatchCommit(ctx context.Context, ops []models.BatchOperation, message string) CommitResult {
	start := time.Now()
	if c.repo == nil {
		return failure(start, nil, "repository not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := []string{}
	for _, op := range ops {
		full := filepath.Join(c.opts.Root, filepath.FromSlash(op.Path))
		switch op.Action {
		case models.BatchActionCreate, models.BatchActionUpdate:
			if op.Content == "" {
				return failure(start, changed, fmt.Sprintf("content required for %s of %s", op.Action, op.Path))
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
				return failure(start, changed, fmt.Sprintf("failed to create directory for %s: %v", op.Path, err))
			}
			if err := os.WriteFile(full, []byte(op.Content), 0o644); err != nil { //nolint:gosec // G306: 0o644 is intentional for document files
				return failure(start, changed, fmt.Sprintf("failed to write %s: %v", op.Path, err))
			}
			changed = append(changed, op.Path)
		case models.BatchActionDelete:
			if _, err := os.Stat(full); err == nil {
				if err := os.Remove(full); err != nil {
					return failure(start, changed, fmt.Sprintf("failed to remove %s: %v", op.Path, err))
				}
				changed = append(changed, op.Path)
			}
		default:
			return failure(start, changed, fmt.Sprintf("unknown batch action %q", op.Action))
		}
	}

	if len(changed) == 0 {
		slog.InfoContext(ctx, "Batch changed nothing, skipping commit")
		return CommitResult{Success: true, FilesChanged: []string{}, Elapsed: time.Since(start)}
	}

	hash, err := c.repo.Commit(ctx, c.author(), message, changed)
	if err != nil {
		slog.ErrorContext(ctx, "Batch commit failed", "files", len(changed), "err", err)
		return failure(start, changed, fmt.Sprintf("failed to commit batch: %v", err))
	}
	if hash != "" {
		c.enqueuePush(hash)
		slog.InfoContext(ctx, "Batch committed", "revision", shortHash(hash), "files", len(changed))
	}
	return CommitResult{Success: true, Revision: hash, FilesChanged: changed, Elapsed: time.Since(start)}
}

// Push pushes pending commits to the configured remote, retrying up to
// maxRetries additional times with exponential backoff (1s, 2s, 4s, ...).
// With no remote or credential configured it is a successful no-op. The
// pending queue is cleared only after a verified success; on exhaustion it is
// left intact for a future attempt.
func (c *Controller) Push(ctx context.Context, maxRetries int) PushResult {
	if c.opts.RemoteURL == "" || c.opts.Token == "" {
		slog.DebugContext(ctx, "Skipping push: no remote or credential configured")
		return PushResult{Success: true}
	}
	start := time.Now()

	c.pushMu.Lock()
	pending := len(c.pendingPush)
	c.pushMu.Unlock()
	if pending == 0 {
		return PushResult{Success: true}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, pushAttemptTimeout)
		err := c.repo.Push(attemptCtx, "origin", c.opts.Token)
		cancel()
		if err == nil {
			c.pushMu.Lock()
			c.pendingPush = c.pendingPush[:0]
			c.pushMu.Unlock()
			slog.InfoContext(ctx, "Pushed commits", "count", pending, "retries", attempt)
			return PushResult{Success: true, RetryCount: attempt, Elapsed: time.Since(start)}
		}
		lastErr = err
		if attempt < maxRetries {
			delay := c.backoffBase << attempt
			slog.WarnContext(ctx, "Push attempt failed, retrying", "attempt", attempt+1, "delay", delay, "err", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return PushResult{
					Success:      false,
					RetryCount:   attempt,
					ErrorMessage: fmt.Sprintf("push canceled: %v", ctx.Err()),
					Elapsed:      time.Since(start),
				}
			}
		}
	}
	slog.ErrorContext(ctx, "Push failed after retries", "attempts", maxRetries+1, "err", lastErr)
	return PushResult{
		Success:      false,
		RetryCount:   maxRetries,
		ErrorMessage: fmt.Sprintf("push failed after %d attempts: %v", maxRetries+1, lastErr),
		Elapsed:      time.Since(start),
	}
}

// PendingPushes returns the revisions committed locally but not yet pushed.
func (c *Controller) PendingPushes() []string {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	out := make([]string, len(c.pendingPush))
	copy(out, c.pendingPush)
	return out
}

func (c *Controller) enqueuePush(hash string) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	c.pendingPush = append(c.pendingPush, hash)
}

// Status returns a snapshot of the repository state.
func (c *Controller) Status(ctx context.Context) (RepositoryStatus, error) {
	if c.repo == nil {
		return RepositoryStatus{}, models.RepositoryUnavailable("status", errors.New("repository not initialized"))
	}
	st := RepositoryStatus{Path: c.opts.Root}
	branch, err := c.repo.Branch(ctx)
	if err != nil {
		return RepositoryStatus{}, models.RepositoryUnavailable("status", err)
	}
	st.Branch = branch
	if last, err := c.repo.LastCommit(ctx); err == nil {
		st.LastCommit = last
	}
	clean, err := c.repo.IsClean(ctx)
	if err != nil {
		return RepositoryStatus{}, models.RepositoryUnavailable("status", err)
	}
	st.IsClean = clean
	if url, err := c.repo.RemoteURL(ctx, "origin"); err == nil {
		st.RemoteURL = url
	}
	return st, nil
}

// FileRevision returns the hash of the most recent commit touching path, or
// an empty string when the file has no history yet.
func (c *Controller) FileRevision(ctx context.Context, path string) (string, error) {
	if c.repo == nil {
		return "", models.RepositoryUnavailable("fileRevision", errors.New("repository not initialized"))
	}
	return c.repo.FileRevision(ctx, path)
}

// History returns up to n commits touching path, newest first.
func (c *Controller) History(ctx context.Context, path string, n int) ([]*CommitInfo, error) {
	if c.repo == nil {
		return nil, models.RepositoryUnavailable("history", errors.New("repository not initialized"))
	}
	return c.repo.History(ctx, path, n)
}

func failure(start time.Time, files []string, msg string) CommitResult {
	if files == nil {
		files = []string{}
	}
	return CommitResult{Success: false, FilesChanged: files, ErrorMessage: msg, Elapsed: time.Since(start)}
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
