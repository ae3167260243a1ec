// Package paths validates and sanitizes memory node paths.
//
// A memory path is a relative, forward-slash separated path ending in .md.
// Validate rejects anything that violates the rules; Sanitize repairs the
// common, unambiguous problems (backslashes, duplicate separators, missing
// extension) and then validates. Resolve is a second, independent traversal
// defense applied after OS-level symlink resolution.
package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/maruel/memd/internal/models"
)

// MaxPathLength is the longest accepted memory path in characters.
const MaxPathLength = 1024

// reservedNames are Windows device names rejected regardless of extension.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Validate checks a memory path against the full rule set. It never attempts
// to fix anything; use Sanitize for that.
func Validate(p string) error {
	if p == "" {
		return models.PathInvalid(p, "path is empty")
	}
	if len(p) > MaxPathLength {
		return models.PathInvalid(p, fmt.Sprintf("path too long (max %d characters)", MaxPathLength))
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return models.PathInvalid(p, "path contains control characters")
		}
	}
	if strings.Contains(p, "\\") {
		return models.PathInvalid(p, "path contains backslashes")
	}
	if strings.Contains(p, "..") {
		return models.PathInvalid(p, "path contains '..'")
	}
	if strings.Contains(p, "//") {
		return models.PathInvalid(p, "path contains doubled separators")
	}
	if strings.HasPrefix(p, "/") {
		return models.PathInvalid(p, "path must be relative (no leading /)")
	}
	if !strings.HasSuffix(p, ".md") {
		return models.PathInvalid(p, "path must end with .md")
	}
	for seg := range strings.SplitSeq(p, "/") {
		if seg == "" {
			return models.PathInvalid(p, "path contains empty segments")
		}
		if seg == "." || seg == ".." {
			return models.PathInvalid(p, "path contains reserved segment: "+seg)
		}
		base, _, _ := strings.Cut(seg, ".")
		if _, ok := reservedNames[strings.ToUpper(base)]; ok {
			return models.PathInvalid(p, "path contains reserved name: "+seg)
		}
	}
	return nil
}

// Sanitize converts a raw user-supplied path into a canonical memory path:
// backslashes become slashes, repeated separators collapse, a leading slash
// is stripped, and the .md extension is appended if missing. The result is
// then validated; irreparable inputs (for example any containing "..") fail
// with the same errors Validate would produce.
func Sanitize(raw string) (string, error) {
	if raw == "" {
		return "", models.PathInvalid(raw, "path is empty")
	}
	s := strings.ReplaceAll(raw, "\\", "/")
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	s = strings.TrimPrefix(s, "/")
	if !strings.HasSuffix(s, ".md") {
		s += ".md"
	}
	if err := Validate(s); err != nil {
		return "", err
	}
	return s, nil
}

// Resolve joins a validated memory path onto root and verifies, after
// OS-level symlink and relative resolution, that the result is still inside
// root. This must hold even if Validate has a gap.
func Resolve(p, root string) (string, error) {
	if err := Validate(p); err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", models.StorageError("resolve", p, err)
	}
	if r, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = r
	}
	full := filepath.Join(absRoot, filepath.FromSlash(p))

	// Resolve symlinks on the deepest existing ancestor so a link pointing
	// outside the root is caught even when the target file does not exist yet.
	resolved := full
	probe := full
	for {
		if r, err := filepath.EvalSymlinks(probe); err == nil {
			resolved = filepath.Join(r, full[len(probe):])
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	rel, err := filepath.Rel(absRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", models.PathInvalid(p, "path resolves outside the store root")
	}
	return full, nil
}

// ExtractDirectory returns the directory portion of a memory path, or an
// empty string for a top-level file.
func ExtractDirectory(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// IsWithinPrefix reports whether path p is under the given directory prefix.
// An empty prefix matches everything.
func IsWithinPrefix(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
