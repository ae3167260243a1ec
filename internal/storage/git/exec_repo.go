// Implements the repository backend using os/exec git commands.

package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ExecRepo implements the low-level repository access with the git CLI.
type ExecRepo struct {
	dir          string
	defaultName  string
	defaultEmail string
}

func newExecRepo(ctx context.Context, dir, remoteURL, defaultName, defaultEmail string) (*ExecRepo, error) {
	r := &ExecRepo{dir: dir, defaultName: defaultName, defaultEmail: defaultEmail}
	gitDir := filepath.Join(dir, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		if remoteURL != "" {
			if out, err := r.gitCombinedOutput(ctx, "clone", remoteURL, "."); err != nil {
				return nil, fmt.Errorf("failed to clone %s: %w\nOutput: %s", remoteURL, err, string(out))
			}
		} else if err := r.gitRun(ctx, "init"); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		if err := r.gitRun(ctx, "config", "user.email", defaultEmail); err != nil {
			return nil, fmt.Errorf("failed to configure git user.email: %w", err)
		}
		if err := r.gitRun(ctx, "config", "user.name", defaultName); err != nil {
			return nil, fmt.Errorf("failed to configure git user.name: %w", err)
		}
	}
	return r, nil
}

// Commit stages the given paths and commits. Staging with --all records
// deletions as well as additions. Returns an empty hash when nothing was
// staged.
func (r *ExecRepo) Commit(ctx context.Context, author Author, message string, paths []string) (string, error) {
	args := append([]string{"add", "--all", "--"}, paths...)
	if out, err := r.gitCombinedOutput(ctx, args...); err != nil {
		return "", fmt.Errorf("failed to stage files: %w\nOutput: %s", err, string(out))
	}

	// diff --cached --quiet exits 0 when nothing is staged.
	if err := r.gitRun(ctx, "diff", "--cached", "--quiet"); err == nil {
		return "", nil
	}

	authorStr := fmt.Sprintf("%s <%s>", author.Name, author.Email)
	if out, err := r.gitCombinedOutput(ctx, "commit", "-m", message, "--author", authorStr); err != nil {
		return "", fmt.Errorf("failed to commit: %w\nOutput: %s", err, string(out))
	}
	return r.Head(ctx)
}

// Head returns the current HEAD hash.
func (r *ExecRepo) Head(ctx context.Context) (string, error) {
	out, err := r.gitOutput(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// LastCommit returns the most recent commit with its changed files.
func (r *ExecRepo) LastCommit(ctx context.Context) (*CommitInfo, error) {
	format := "%H%x00%s%x00%an%x00%ae%x00%ci"
	out, err := r.gitOutput(ctx, "log", "-1", "--name-only", "--pretty=format:"+format)
	if err != nil {
		return nil, fmt.Errorf("failed to read last commit: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty git log output")
	}
	parts := strings.Split(lines[0], "\x00")
	if len(parts) < 5 {
		return nil, fmt.Errorf("malformed git log output: %q", lines[0])
	}
	ts, _ := time.Parse("2006-01-02 15:04:05 -0700", parts[4])
	info := &CommitInfo{
		Hash:        parts[0],
		Message:     parts[1],
		Author:      parts[2],
		AuthorEmail: parts[3],
		Timestamp:   ts,
	}
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			info.FilesChanged = append(info.FilesChanged, l)
		}
	}
	return info, nil
}

// FileRevision returns the hash of the last commit touching path, or an
// empty string when the path has no history.
func (r *ExecRepo) FileRevision(ctx context.Context, path string) (string, error) {
	out, err := r.gitOutput(ctx, "log", "-n1", "--pretty=format:%H", "--", path)
	if err != nil {
		return "", nil //nolint:nilerr // no commits yet is not an error
	}
	return strings.TrimSpace(string(out)), nil
}

// History returns commit history for a specific path, limited to n commits.
// n is capped at 1000. If n <= 0, defaults to 1000.
func (r *ExecRepo) History(ctx context.Context, path string, n int) ([]*CommitInfo, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}

	// Record separator (%x1e) between commits since messages can vary.
	format := "%H%x00%an%x00%ae%x00%ci%x00%s%x1e"
	args := []string{"log", "--pretty=format:" + format, fmt.Sprintf("-n%d", n), "--", path}
	out, err := r.gitCombinedOutput(ctx, args...)
	if err != nil {
		return nil, nil //nolint:nilerr // git log errors for paths with no history, which is not an error condition
	}

	var commits []*CommitInfo
	for record := range strings.SplitSeq(string(out), "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		parts := strings.Split(record, "\x00")
		if len(parts) < 5 {
			continue
		}
		ts, _ := time.Parse("2006-01-02 15:04:05 -0700", parts[3])
		commits = append(commits, &CommitInfo{
			Hash:        parts[0],
			Author:      parts[1],
			AuthorEmail: parts[2],
			Timestamp:   ts,
			Message:     parts[4],
		})
	}
	return commits, nil
}

// Branch returns the current branch name.
func (r *ExecRepo) Branch(ctx context.Context) (string, error) {
	out, err := r.gitCombinedOutput(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		// No commits yet: fall back to the configured initial branch.
		out, err = r.gitCombinedOutput(ctx, "symbolic-ref", "--short", "HEAD")
		if err != nil {
			return "master", nil //nolint:nilerr // empty repo is not an error
		}
	}
	return strings.TrimSpace(string(out)), nil
}

// IsClean reports whether the working tree has no pending changes.
func (r *ExecRepo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.gitCombinedOutput(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	return strings.TrimSpace(string(out)) == "", nil
}

// RemoteURL returns the URL of the named remote, or "" when absent.
func (r *ExecRepo) RemoteURL(ctx context.Context, name string) (string, error) {
	out, err := r.gitOutput(ctx, "remote", "get-url", name)
	if err != nil {
		return "", nil //nolint:nilerr // missing remote is not an error
	}
	return strings.TrimSpace(string(out)), nil
}

// SetRemote adds or updates a remote in the repository.
// If url is empty, the remote is removed.
func (r *ExecRepo) SetRemote(ctx context.Context, name, url string) error {
	existing, _ := r.RemoteURL(ctx, name)
	if url == "" {
		if existing != "" {
			return r.gitRun(ctx, "remote", "remove", name)
		}
		return nil
	}
	if existing != "" {
		return r.gitRun(ctx, "remote", "set-url", name, url)
	}
	return r.gitRun(ctx, "remote", "add", name, url)
}

// Push pushes HEAD to the named remote, injecting the token into the remote
// URL so that no credential is written to the repository config.
func (r *ExecRepo) Push(ctx context.Context, remoteName, token string) error {
	target := remoteName
	if token != "" {
		url, err := r.RemoteURL(ctx, remoteName)
		if err == nil && url != "" {
			target = InjectTokenInURL(url, token)
		}
	}
	if out, err := r.gitCombinedOutput(ctx, "push", target, "HEAD"); err != nil {
		return fmt.Errorf("git push failed: %w\nOutput: %s", err, string(out))
	}
	return nil
}

// gitCmd creates an exec.Cmd for git with standard environment settings.
func (r *ExecRepo) gitCmd(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
	)
	return cmd
}

// gitRun executes a git command using a detached context with timeout.
//
// The command is NOT tied to the HTTP request's cancellation, allowing git
// operations to complete even if the client disconnects.
func (r *ExecRepo) gitRun(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).Run()
}

// gitOutput executes a git command and returns its stdout.
func (r *ExecRepo) gitOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).Output()
}

// gitCombinedOutput executes a git command and returns combined stdout/stderr.
func (r *ExecRepo) gitCombinedOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).CombinedOutput()
}
