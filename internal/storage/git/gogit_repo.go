// Implements the repository backend using go-git (pure Go, no git binary
// dependency).

package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GoGitRepo implements the low-level repository access with go-git.
type GoGitRepo struct {
	dir          string
	defaultName  string
	defaultEmail string
	repo         *gogit.Repository
	mu           sync.Mutex
}

func newGoGitRepo(ctx context.Context, dir, remoteURL, defaultName, defaultEmail string) (*GoGitRepo, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet.
		if remoteURL != "" {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
			defer cancel()
			repo, err = gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{URL: remoteURL})
			if err != nil {
				return nil, fmt.Errorf("failed to clone %s: %w", remoteURL, err)
			}
		} else {
			repo, err = gogit.PlainInit(dir, false)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize git repo: %w", err)
			}
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaultName
		cfg.User.Email = defaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}

	return &GoGitRepo{
		dir:          dir,
		defaultName:  defaultName,
		defaultEmail: defaultEmail,
		repo:         repo,
	}, nil
}

// Commit stages the given paths and commits. Returns an empty hash when
// nothing was staged.
func (r *GoGitRepo) Commit(_ context.Context, author Author, message string, paths []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	for _, p := range paths {
		// Add handles deleted files too; a fully missing path is an error,
		// which only happens when the path never existed in the index.
		if _, err := w.Add(p); err != nil {
			if _, statErr := os.Stat(filepath.Join(r.dir, p)); os.IsNotExist(statErr) {
				continue
			}
			return "", fmt.Errorf("failed to stage %s: %w", p, err)
		}
	}

	status, err := w.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	staged := false
	for _, s := range status {
		if s.Staging != gogit.Unmodified && s.Staging != gogit.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", nil
	}

	name := author.Name
	email := author.Email
	if name == "" {
		name = r.defaultName
	}
	if email == "" {
		email = r.defaultEmail
	}

	now := time.Now()
	hash, err := w.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  name,
			Email: email,
			When:  now,
		},
		Committer: &object.Signature{
			Name:  r.defaultName,
			Email: r.defaultEmail,
			When:  now,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Head returns the current HEAD hash.
func (r *GoGitRepo) Head(_ context.Context) (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// LastCommit returns the most recent commit with its changed files.
func (r *GoGitRepo) LastCommit(_ context.Context) (*CommitInfo, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}

	subject, _, _ := strings.Cut(c.Message, "\n")
	info := &CommitInfo{
		Hash:        c.Hash.String(),
		Message:     subject,
		Author:      c.Author.Name,
		AuthorEmail: c.Author.Email,
		Timestamp:   c.Author.When,
	}

	stats, err := c.Stats()
	if err == nil {
		for _, s := range stats {
			info.FilesChanged = append(info.FilesChanged, s.Name)
		}
	}
	return info, nil
}

// FileRevision returns the hash of the last commit touching path, or an
// empty string when the path has no history.
func (r *GoGitRepo) FileRevision(_ context.Context, path string) (string, error) {
	iter, err := r.repo.Log(&gogit.LogOptions{FileName: &path})
	if err != nil {
		return "", nil //nolint:nilerr // no commits yet is not an error
	}
	defer iter.Close()

	c, err := iter.Next()
	if err != nil {
		return "", nil //nolint:nilerr
	}
	return c.Hash.String(), nil
}

// History returns commit history for a specific path, limited to n commits.
// n is capped at 1000. If n <= 0, defaults to 1000.
func (r *GoGitRepo) History(_ context.Context, path string, n int) ([]*CommitInfo, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}

	opts := &gogit.LogOptions{}
	if path != "" && path != "." {
		opts.FileName = &path
	}

	iter, err := r.repo.Log(opts)
	if err != nil {
		return nil, nil //nolint:nilerr // no commits yet is not an error
	}
	defer iter.Close()

	var commits []*CommitInfo
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &CommitInfo{
			Hash:        c.Hash.String(),
			Message:     subject,
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			Timestamp:   c.Author.When,
		})
	}
	return commits, nil
}

// Branch returns the current branch name.
func (r *GoGitRepo) Branch(_ context.Context) (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "master", nil //nolint:nilerr // empty repo is not an error
	}
	return ref.Name().Short(), nil
}

// IsClean reports whether the working tree has no pending changes.
func (r *GoGitRepo) IsClean(_ context.Context) (bool, error) {
	w, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree status: %w", err)
	}
	return status.IsClean(), nil
}

// RemoteURL returns the URL of the named remote, or "" when absent.
func (r *GoGitRepo) RemoteURL(_ context.Context, name string) (string, error) {
	remote, err := r.repo.Remote(name)
	if err != nil {
		return "", nil //nolint:nilerr // missing remote is not an error
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", nil
	}
	return urls[0], nil
}

// SetRemote adds or updates a remote in the repository.
// If url is empty, the remote is removed.
func (r *GoGitRepo) SetRemote(_ context.Context, name, url string) error {
	if url == "" {
		err := r.repo.DeleteRemote(name)
		if err != nil && err.Error() == "remote not found" {
			return nil
		}
		return err
	}

	if _, err := r.repo.Remote(name); err == nil {
		// Exists, delete and re-create (go-git has no set-url).
		if err := r.repo.DeleteRemote(name); err != nil {
			return fmt.Errorf("failed to update remote: %w", err)
		}
	}

	_, err := r.repo.CreateRemote(&config.RemoteConfig{
		Name: name,
		URLs: []string{url},
	})
	return err
}

// Push pushes the current branch to the named remote.
func (r *GoGitRepo) Push(ctx context.Context, remoteName, token string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()

	branch, err := r.Branch(ctx)
	if err != nil {
		return err
	}

	remote, err := r.repo.Remote(remoteName)
	if err != nil {
		return fmt.Errorf("failed to get remote: %w", err)
	}

	opts := &gogit.PushOptions{
		RemoteName: remoteName,
		RefSpecs: []config.RefSpec{
			config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)),
		},
	}
	if token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	if err := remote.PushContext(ctx, opts); err != nil && err != gogit.NoErrAlreadyUpToDate {
		return fmt.Errorf("git push failed: %w", err)
	}
	return nil
}
