package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := []string{
		"notes.md",
		"notes/todo.md",
		"a/b/c.md",
		"deep/nested/dir/structure/file.md",
		"with-dash_and_underscore.md",
	}
	for _, p := range valid {
		if err := Validate(p); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", p, err)
		}
	}

	invalid := map[string]string{
		"":                     "empty",
		"notes.txt":            "wrong extension",
		"notes":                "no extension",
		"/notes.md":            "leading slash",
		"notes//todo.md":       "doubled separator",
		"../escape.md":         "traversal",
		"notes/../escape.md":   "traversal in the middle",
		"notes\\todo.md":       "backslash",
		"notes/\x00evil.md":    "NUL byte",
		"notes/\x1fevil.md":    "control character",
		"CON.md":               "reserved device name",
		"notes/aux.md":         "reserved device name lowercase",
		"notes/COM1.extra.md":  "reserved device name with extension",
		"./notes.md":           "current-dir segment",
		strings.Repeat("a", MaxPathLength) + ".md": "too long",
	}
	for p, why := range invalid {
		if err := Validate(p); err == nil {
			t.Errorf("Validate(%q) = nil, want error (%s)", p, why)
		}
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"notes.md":         "notes.md",
		"notes":            "notes.md",
		"/notes.md":        "notes.md",
		"notes\\todo.md":   "notes/todo.md",
		"notes//todo.md":   "notes/todo.md",
		"\\a\\\\b\\c":      "a/b/c.md",
		"dir/sub/file":     "dir/sub/file.md",
	}
	for in, want := range cases {
		got, err := Sanitize(in)
		if err != nil {
			t.Errorf("Sanitize(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}

	// Irreparable inputs still fail.
	for _, in := range []string{"", "../escape", "a/../b.md", "CON"} {
		if _, err := Sanitize(in); err == nil {
			t.Errorf("Sanitize(%q) = nil error, want failure", in)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"notes", "/a//b\\c", "x.md", "dir/file", "deep\\nested\\path"}
	for _, in := range inputs {
		once, err := Sanitize(in)
		if err != nil {
			continue
		}
		twice, err := Sanitize(once)
		if err != nil {
			t.Errorf("Sanitize(Sanitize(%q)) failed: %v", in, err)
			continue
		}
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	// The temp dir itself may be behind a symlink (macOS), resolve it first.
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := Resolve("notes/todo.md", root)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if want := filepath.Join(root, "notes", "todo.md"); got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}

	for _, p := range []string{"../escape.md", "/abs.md", "a/../../b.md"} {
		if _, err := Resolve(p, root); err == nil {
			t.Errorf("Resolve(%q) = nil error, want failure", p)
		}
	}
}

func TestResolveSymlinkEscape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()

	// A symlinked directory inside the root pointing outside of it.
	if err := os.Symlink(outside, filepath.Join(root, "leak")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	if _, err := Resolve("leak/secret.md", root); err == nil {
		t.Error("Resolve() through an escaping symlink succeeded, want failure")
	}
}

func TestExtractDirectory(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"notes.md":        "",
		"a/b.md":          "a",
		"a/b/c.md":        "a/b",
	}
	for in, want := range cases {
		if got := ExtractDirectory(in); got != want {
			t.Errorf("ExtractDirectory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsWithinPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path, prefix string
		want         bool
	}{
		{"a/b.md", "", true},
		{"a/b.md", "a", true},
		{"a/b.md", "a/", true},
		{"a/b/c.md", "a/b", true},
		{"a/b.md", "b", false},
		{"ab/c.md", "a", false},
		{"a", "a", true},
	}
	for _, c := range cases {
		if got := IsWithinPrefix(c.path, c.prefix); got != c.want {
			t.Errorf("IsWithinPrefix(%q, %q) = %v, want %v", c.path, c.prefix, got, c.want)
		}
	}
}
