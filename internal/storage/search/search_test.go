package search

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/maruel/memd/internal/models"
)

func TestHighlight(t *testing.T) {
	t.Parallel()
	data := []struct {
		content, pattern, want string
	}{
		{"hello world", "world", "hello <mark>world</mark>"},
		{"Hello WORLD", "world", "Hello <mark>WORLD</mark>"},
		{"a+b a+b", "a+b", "<mark>a+b</mark> <mark>a+b</mark>"},
		{"no match here", "zebra", "no match here"},
		{"untouched", "", "untouched"},
	}
	for _, d := range data {
		if got := highlight(d.content, d.pattern); got != d.want {
			t.Errorf("highlight(%q, %q) = %q, want %q", d.content, d.pattern, got, d.want)
		}
	}
}

func TestRipgrepArgs(t *testing.T) {
	t.Parallel()
	q := models.DefaultSearchQuery("needle")
	args := ripgrepTool{}.Args(q)
	for _, want := range []string{"--json", "--ignore-case", "--fixed-strings", "--glob", "needle"} {
		if !slices.Contains(args, want) {
			t.Errorf("missing %q in %v", want, args)
		}
	}
	if slices.Contains(args, "--word-regexp") {
		t.Error("word-regexp must be off by default")
	}

	q.IsRegex = true
	q.CaseSensitive = true
	q.WholeWords = true
	args = ripgrepTool{}.Args(q)
	if slices.Contains(args, "--fixed-strings") || slices.Contains(args, "--ignore-case") {
		t.Errorf("regex case-sensitive query got wrong flags: %v", args)
	}
	if !slices.Contains(args, "--word-regexp") {
		t.Errorf("missing --word-regexp in %v", args)
	}
}

func TestGrepArgs(t *testing.T) {
	t.Parallel()
	q := models.DefaultSearchQuery("needle")
	q.IsRegex = true
	args := grepTool{}.Args(q)
	for _, want := range []string{"--recursive", "--extended-regexp", "--include", "--regexp", "needle"} {
		if !slices.Contains(args, want) {
			t.Errorf("missing %q in %v", want, args)
		}
	}
}

// Both parsers must produce the same normalized results for the same hits.
func TestParserEquivalence(t *testing.T) {
	t.Parallel()
	q := models.DefaultSearchQuery("needle")

	rgOut := `{"type":"begin","data":{"path":{"text":"/store/notes/a.md"}}}
{"type":"context","data":{"path":{"text":"/store/notes/a.md"},"lines":{"text":"before\n"},"line_number":1}}
{"type":"match","data":{"path":{"text":"/store/notes/a.md"},"lines":{"text":"a needle here\n"},"line_number":2}}
{"type":"context","data":{"path":{"text":"/store/notes/a.md"},"lines":{"text":"after\n"},"line_number":3}}
{"type":"end","data":{"path":{"text":"/store/notes/a.md"}}}
{"type":"summary","data":{}}`

	grepOut := `/store/notes/a.md:1-before
/store/notes/a.md:2:a needle here
/store/notes/a.md:3-after`

	fromRg := ripgrepTool{}.Parse(rgOut, "/store", q)
	fromGrep := grepTool{}.Parse(grepOut, "/store", q)
	if !reflect.DeepEqual(fromRg, fromGrep) {
		t.Fatalf("parsers disagree:\nrg:   %+v\ngrep: %+v", fromRg, fromGrep)
	}

	if len(fromRg) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fromRg))
	}
	r := fromRg[0]
	if r.RelativePath != "notes/a.md" || r.TotalMatches != 1 {
		t.Fatalf("unexpected result: %+v", r)
	}
	m := r.Matches[0]
	if m.LineNumber != 2 || m.LineContent != "a needle here" {
		t.Fatalf("unexpected match: %+v", m)
	}
	if m.HighlightedContent != "a <mark>needle</mark> here" {
		t.Fatalf("unexpected highlight: %q", m.HighlightedContent)
	}
	if !reflect.DeepEqual(m.ContextBefore, []string{"before"}) || !reflect.DeepEqual(m.ContextAfter, []string{"after"}) {
		t.Fatalf("unexpected context: %+v", m)
	}
}

func TestBuildResultCaps(t *testing.T) {
	t.Parallel()
	q := models.DefaultSearchQuery("x")
	q.MaxMatchesPerFile = 2
	q.ContextLines = 1

	lines := []rawLine{
		{number: 1, text: "x one", isMatch: true},
		{number: 2, text: "ctx a", isMatch: false},
		{number: 3, text: "ctx b", isMatch: false},
		{number: 4, text: "x two", isMatch: true},
		{number: 5, text: "x three", isMatch: true},
	}
	r := buildResult("/s/f.md", "f.md", lines, q)
	if r.TotalMatches != 2 {
		t.Fatalf("matches must cap at 2, got %d", r.TotalMatches)
	}
	// ctx a goes after match one; ctx b becomes before-context for match two.
	if !reflect.DeepEqual(r.Matches[0].ContextAfter, []string{"ctx a"}) {
		t.Fatalf("unexpected after-context: %+v", r.Matches[0])
	}
	if !reflect.DeepEqual(r.Matches[1].ContextBefore, []string{"ctx b"}) {
		t.Fatalf("unexpected before-context: %+v", r.Matches[1])
	}
}

func TestSearchNoBackend(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	e.detected = true
	_, err := e.Search(t.Context(), models.DefaultSearchQuery("x"), t.TempDir(), "", time.Second)
	assertCode(t, err, models.ErrorCodeSearchUnavailable)
}

func TestSearchInvalidQuery(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	q := models.DefaultSearchQuery("")
	_, err := e.Search(t.Context(), q, t.TempDir(), "", time.Second)
	assertCode(t, err, models.ErrorCodeSearchQueryInvalid)
}

func TestSearchWithGrep(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("grep"); err != nil {
		t.Skip("grep binary not available")
	}
	root := t.TempDir()
	write := func(rel, content string) {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("notes/a.md", "alpha\nthe needle is here\nomega\n")
	write("notes/b.md", "nothing to see\n")
	write("other/c.md", "another needle\n")
	write("skip.txt", "needle in the wrong haystack\n")

	e := NewEngine()
	e.detected = true
	e.grepOK = true
	e.preferred = grepTool{}

	sum, err := e.Search(t.Context(), models.DefaultSearchQuery("needle"), root, "", DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Backend != "grep" {
		t.Fatalf("backend = %q", sum.Backend)
	}
	if sum.FilesWithMatches != 2 || sum.TotalMatches != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	var rels []string
	for _, r := range sum.Results {
		rels = append(rels, r.RelativePath)
	}
	slices.Sort(rels)
	if !reflect.DeepEqual(rels, []string{"notes/a.md", "other/c.md"}) {
		t.Fatalf("unexpected files: %v", rels)
	}

	// Prefix scoping.
	sum, err = e.Search(t.Context(), models.DefaultSearchQuery("needle"), root, "notes", DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if sum.FilesWithMatches != 1 {
		t.Fatalf("prefix scoping failed: %+v", sum)
	}

	// No matches is an empty summary, not an error.
	sum, err = e.Search(t.Context(), models.DefaultSearchQuery("zebra"), root, "", DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if sum.FilesWithMatches != 0 || sum.Truncated {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	st := e.Detect(t.Context())
	if !st.Detected {
		t.Fatal("Detect must mark the engine detected")
	}
	if st.GrepAvailable && !st.RipgrepAvailable && st.Preferred != "grep" {
		t.Fatalf("grep-only host must prefer grep: %+v", st)
	}
	if st.RipgrepAvailable && st.Preferred != "ripgrep" {
		t.Fatalf("ripgrep must be preferred when present: %+v", st)
	}
}

func assertCode(t *testing.T, err error, code models.ErrorCode) {
	t.Helper()
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code() != code {
		t.Fatalf("code = %s, want %s", apiErr.Code(), code)
	}
}
