// Package files implements atomic file persistence for memory nodes.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/maruel/memd/internal/models"
	"github.com/maruel/memd/internal/storage/paths"
)

// Store performs read/write/delete/list of node content under a root
// directory. Every path it touches goes through the paths package. Writes are
// atomic: content lands in a temp file in the target directory and is renamed
// into place, so a concurrent reader sees either the old or the new content,
// never a torn write.
type Store struct {
	root string
	mu   sync.Mutex // serializes the temp-create + rename sequence
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute store root directory.
func (s *Store) Root() string {
	return s.root
}

// Read returns the content of a node, or a NotFound error.
func (s *Store) Read(p string) (string, error) {
	full, err := paths.Resolve(p, s.root)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full) //nolint:gosec // G304: full is validated by paths.Resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", models.NotFound(p)
		}
		return "", models.StorageError("read", p, err)
	}
	return string(data), nil
}

// Write stores content at p atomically, creating parent directories as
// needed, and returns the resulting metadata. Content is validated first.
func (s *Store) Write(p, content string) (models.NodeMetadata, error) {
	if err := models.ValidateContent(content); err != nil {
		return models.NodeMetadata{}, err
	}
	full, err := paths.Resolve(p, s.root)
	if err != nil {
		return models.NodeMetadata{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return models.NodeMetadata{}, models.StorageError("write", p, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*.tmp")
	if err != nil {
		return models.NodeMetadata{}, models.StorageError("write", p, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return models.NodeMetadata{}, models.StorageError("write", p, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return models.NodeMetadata{}, models.StorageError("write", p, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return models.NodeMetadata{}, models.StorageError("write", p, err)
	}
	slog.Debug("Wrote file", "path", p, "bytes", len(content))
	return s.metadataLocked(p, full)
}

// Delete removes the node if present and reports whether it existed. After a
// successful removal, now-empty parent directories are cleaned up toward the
// root; cleanup failures are logged and swallowed.
func (s *Store) Delete(p string) (bool, error) {
	full, err := paths.Resolve(p, s.root)
	if err != nil {
		return false, err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, models.StorageError("delete", p, err)
	}
	slog.Debug("Deleted file", "path", p)
	s.cleanupEmptyDirs(filepath.Dir(full))
	return true, nil
}

// cleanupEmptyDirs walks upward from dir toward the store root, removing each
// directory that is empty. It stops at the first non-empty directory, at the
// root, or on any error. Failures never propagate to the caller.
func (s *Store) cleanupEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			slog.Warn("Failed to remove empty directory", "dir", dir, "err", err)
			return
		}
		slog.Debug("Removed empty directory", "dir", dir)
		dir = filepath.Dir(dir)
	}
}

// Exists reports whether a node exists. Invalid paths report false rather
// than erroring.
func (s *Store) Exists(p string) bool {
	full, err := paths.Resolve(p, s.root)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Metadata returns metadata for a node. A missing file yields Exists=false
// with zeroed fields rather than an error.
func (s *Store) Metadata(p string) (models.NodeMetadata, error) {
	full, err := paths.Resolve(p, s.root)
	if err != nil {
		return models.NodeMetadata{}, err
	}
	return s.metadataLocked(p, full)
}

func (s *Store) metadataLocked(p, full string) (models.NodeMetadata, error) {
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.NodeMetadata{Revision: models.RevisionUnknown}, nil
		}
		return models.NodeMetadata{}, models.StorageError("metadata", p, err)
	}
	return models.NodeMetadata{
		CreatedAt: info.ModTime(),
		UpdatedAt: info.ModTime(),
		Size:      info.Size(),
		Revision:  models.RevisionUnknown,
		Exists:    true,
	}, nil
}

// List returns the sorted memory paths under prefix. In recursive mode it
// walks the whole subtree; otherwise only direct children are listed. Entries
// on disk that do not validate as memory paths are skipped silently.
func (s *Store) List(prefix string, recursive bool) ([]string, error) {
	dir := s.root
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/")
		// Validate the prefix as if it named a file inside it.
		if err := paths.Validate(prefix + "/x.md"); err != nil {
			return nil, models.PathInvalid(prefix, "invalid prefix")
		}
		dir = filepath.Join(s.root, filepath.FromSlash(prefix))
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var out []string
	if recursive {
		err := filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if rel := s.relPath(full); rel != "" {
				out = append(out, rel)
			}
			return nil
		})
		if err != nil {
			return nil, models.StorageError("list", prefix, err)
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, models.StorageError("list", prefix, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if rel := s.relPath(filepath.Join(dir, e.Name())); rel != "" {
				out = append(out, rel)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// relPath converts an absolute path under the root into a validated memory
// path, or "" when the entry is not a valid memory path.
func (s *Store) relPath(full string) string {
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return ""
	}
	p := filepath.ToSlash(rel)
	if err := paths.Validate(p); err != nil {
		return ""
	}
	return p
}
