package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/memd/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	// The temp dir itself can be behind a symlink (macOS).
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	content := "# TODO\n\nBuy milk"
	meta, err := s.Write("notes/todo.md", content)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if !meta.Exists {
		t.Error("metadata.Exists = false after write")
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("metadata.Size = %d, want %d", meta.Size, len(content))
	}

	got, err := s.Read("notes/todo.md")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got != content {
		t.Errorf("Read() = %q, want %q", got, content)
	}
}

func TestContentLimits(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	// One byte works.
	if _, err := s.Write("one.md", "x"); err != nil {
		t.Errorf("Write(1 byte) failed: %v", err)
	}

	// Exactly at the boundary works.
	if _, err := s.Write("max.md", strings.Repeat("a", models.MaxContentSize)); err != nil {
		t.Errorf("Write(boundary) failed: %v", err)
	}

	// One past the boundary fails with ContentInvalid.
	_, err := s.Write("over.md", strings.Repeat("a", models.MaxContentSize+1))
	assertCode(t, err, models.ErrorCodeContentInvalid)

	// Empty and whitespace-only fail.
	_, err = s.Write("empty.md", "")
	assertCode(t, err, models.ErrorCodeContentInvalid)
	_, err = s.Write("blank.md", " \n\t ")
	assertCode(t, err, models.ErrorCodeContentInvalid)

	// NUL bytes fail.
	_, err = s.Write("nul.md", "a\x00b")
	assertCode(t, err, models.ErrorCodeContentInvalid)
}

func assertCode(t *testing.T, err error, want models.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want code %s", want)
	}
	apiErr, ok := err.(*models.APIError)
	if !ok {
		t.Fatalf("got %T, want *models.APIError", err)
	}
	if apiErr.Code() != want {
		t.Errorf("error code = %s, want %s", apiErr.Code(), want)
	}
}

func TestReadMissing(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	_, err := s.Read("missing.md")
	assertCode(t, err, models.ErrorCodeNotFound)
}

func TestDeleteIdempotent(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	if _, err := s.Write("a.md", "content"); err != nil {
		t.Fatal(err)
	}

	existed, err := s.Delete("a.md")
	if err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if !existed {
		t.Error("Delete() = false, want true")
	}

	existed, err = s.Delete("a.md")
	if err != nil {
		t.Fatalf("second Delete() failed: %v", err)
	}
	if existed {
		t.Error("second Delete() = true, want false")
	}
}

func TestDirectoryCleanup(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	if _, err := s.Write("a/b/c.md", "content"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete("a/b/c.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "a")); !os.IsNotExist(err) {
		t.Error("empty directory a was not cleaned up")
	}

	// A sibling keeps the shared ancestor alive.
	if _, err := s.Write("x/y/z.md", "content"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write("x/sibling.md", "content"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete("x/y/z.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "x", "y")); !os.IsNotExist(err) {
		t.Error("empty directory x/y was not cleaned up")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "x")); err != nil {
		t.Error("directory x with a sibling file was removed")
	}
}

func TestWriteAtomicity(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	if _, err := s.Write("doc.md", "original"); err != nil {
		t.Fatal(err)
	}

	// Simulate a writer that crashed after creating its temp file: the stray
	// temp file must not affect the committed content.
	stray := filepath.Join(s.Root(), ".doc.md.123.tmp")
	if err := os.WriteFile(stray, []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := s.Read("doc.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "original" {
		t.Errorf("Read() = %q, want %q", got, "original")
	}

	// A stray temp file is not a listable node either.
	list, err := s.List("", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0] != "doc.md" {
		t.Errorf("List() = %v, want [doc.md]", list)
	}
}

func TestExists(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	if s.Exists("nope.md") {
		t.Error("Exists(missing) = true")
	}
	if s.Exists("../escape.md") {
		t.Error("Exists(invalid path) = true, want false")
	}
	if _, err := s.Write("yes.md", "content"); err != nil {
		t.Fatal(err)
	}
	if !s.Exists("yes.md") {
		t.Error("Exists(present) = false")
	}
}

func TestMetadataMissing(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	meta, err := s.Metadata("missing.md")
	if err != nil {
		t.Fatalf("Metadata() failed: %v", err)
	}
	if meta.Exists {
		t.Error("metadata.Exists = true for missing file")
	}
	if meta.Size != 0 {
		t.Errorf("metadata.Size = %d, want 0", meta.Size)
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	for _, p := range []string{"b.md", "a.md", "dir/c.md", "dir/sub/d.md"} {
		if _, err := s.Write(p, "content"); err != nil {
			t.Fatal(err)
		}
	}
	// Files that are not valid memory paths are skipped.
	if err := os.WriteFile(filepath.Join(s.Root(), "ignore.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	all, err := s.List("", true)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.md", "b.md", "dir/c.md", "dir/sub/d.md"}
	if len(all) != len(want) {
		t.Fatalf("List() = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, all[i], want[i])
		}
	}

	direct, err := s.List("dir", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(direct) != 1 || direct[0] != "dir/c.md" {
		t.Errorf("List(dir, false) = %v, want [dir/c.md]", direct)
	}

	missing, err := s.List("absent", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("List(absent) = %v, want empty", missing)
	}
}
