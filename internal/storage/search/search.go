// Package search runs content searches across the store by shelling out to
// ripgrep or grep, whichever is installed, and normalizes their output into
// one result shape.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/maruel/memd/internal/models"
)

const (
	// DefaultTimeout bounds a search subprocess when the caller has no
	// opinion.
	DefaultTimeout = 30 * time.Second

	// probeTimeout bounds each --version probe during detection.
	probeTimeout = 5 * time.Second
)

// tool is one external search backend. Args returns the full argument list
// except for the directory to search, which the engine appends last. Parse
// turns the tool's raw stdout into normalized results.
type tool interface {
	Name() string
	Args(q models.SearchQuery) []string
	Parse(output, root string, q models.SearchQuery) []models.SearchResult
}

// BackendStatus reports which search tools were found on the host.
type BackendStatus struct {
	RipgrepAvailable bool   `json:"ripgrep_available"`
	GrepAvailable    bool   `json:"grep_available"`
	Preferred        string `json:"preferred_backend,omitempty"`
	Detected         bool   `json:"backends_detected"`
}

// Engine detects the available search tools once and runs queries against
// the preferred one.
type Engine struct {
	mu        sync.Mutex
	detected  bool
	ripgrepOK bool
	grepOK    bool
	preferred tool
}

// NewEngine returns an engine with no backend detected yet. Call Detect at
// startup; Search also detects lazily on first use.
func NewEngine() *Engine {
	return &Engine{}
}

// Detect probes for ripgrep and grep and selects the preferred backend,
// ripgrep first. Safe to call more than once.
func (e *Engine) Detect(ctx context.Context) BackendStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ripgrepOK = probe(ctx, "rg")
	e.grepOK = probe(ctx, "grep")
	e.detected = true
	switch {
	case e.ripgrepOK:
		e.preferred = ripgrepTool{}
	case e.grepOK:
		e.preferred = grepTool{}
	default:
		e.preferred = nil
		slog.WarnContext(ctx, "No search backend available")
	}
	if e.preferred != nil {
		slog.InfoContext(ctx, "Search backend selected", "backend", e.preferred.Name())
	}
	return e.statusLocked()
}

// Status returns the current detection state.
func (e *Engine) Status() BackendStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() BackendStatus {
	st := BackendStatus{
		RipgrepAvailable: e.ripgrepOK,
		GrepAvailable:    e.grepOK,
		Detected:         e.detected,
	}
	if e.preferred != nil {
		st.Preferred = e.preferred.Name()
	}
	return st
}

// Search runs the query against root, scoped to root/prefix when prefix is
// non-empty, with a hard timeout. The subprocess is killed when the timeout
// expires. The pattern is always passed as a literal argument, never through
// a shell.
func (e *Engine) Search(ctx context.Context, q models.SearchQuery, root, prefix string, timeout time.Duration) (*models.SearchSummary, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	e.mu.Lock()
	if !e.detected {
		e.mu.Unlock()
		e.Detect(ctx)
		e.mu.Lock()
	}
	backend := e.preferred
	e.mu.Unlock()
	if backend == nil {
		return nil, models.SearchUnavailable()
	}

	dir := root
	if prefix != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	args := append(backend.Args(q), dir)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = root
	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.WarnContext(ctx, "Search timed out", "backend", backend.Name(), "timeout", timeout)
		return nil, models.SearchTimeout(q.Pattern, timeout.Seconds())
	}
	if err != nil {
		// Both tools exit 1 when nothing matched.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			slog.ErrorContext(ctx, "Search subprocess failed", "backend", backend.Name(), "err", err)
			return nil, models.Internal(fmt.Sprintf("search with %s failed", backend.Name())).Wrap(err)
		}
	}

	results := backend.Parse(string(out), root, q)
	total := 0
	for i := range results {
		total += results[i].TotalMatches
	}
	elapsed := time.Since(start)
	return &models.SearchSummary{
		Query:            q.Pattern,
		FilesWithMatches: len(results),
		TotalMatches:     total,
		Elapsed:          elapsed,
		ElapsedMS:        float64(elapsed.Microseconds()) / 1000.0,
		Backend:          backend.Name(),
		Results:          results,
		Truncated:        len(results) >= q.MaxResults,
	}, nil
}

func probe(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, "--version").Run() == nil
}

// rawLine is one output line from a backend, match and context alike, before
// grouping into results.
type rawLine struct {
	number  int
	text    string
	isMatch bool
}

// buildResult groups a file's raw lines into matches with their surrounding
// context. Context lines before the first unconsumed match become its
// context_before; lines after a match fill its context_after until the cap.
// Both backends feed this so their results come out identical.
func buildResult(path, relative string, lines []rawLine, q models.SearchQuery) models.SearchResult {
	matches := []models.SearchMatch{}
	var current *models.SearchMatch
	before := []string{}

	for _, l := range lines {
		if l.isMatch && len(matches) < q.MaxMatchesPerFile {
			matches = append(matches, models.SearchMatch{
				LineNumber:         l.number,
				LineContent:        l.text,
				HighlightedContent: highlight(l.text, q.Pattern),
				ContextBefore:      before,
				ContextAfter:       []string{},
			})
			current = &matches[len(matches)-1]
			before = []string{}
			continue
		}
		switch {
		case current != nil && len(current.ContextAfter) < q.ContextLines:
			current.ContextAfter = append(current.ContextAfter, l.text)
		case len(before) < q.ContextLines:
			before = append(before, l.text)
		default:
			before = append(before[1:], l.text)
		}
	}

	return models.SearchResult{
		Path:         path,
		RelativePath: relative,
		Matches:      matches,
		TotalMatches: len(matches),
	}
}

// highlight wraps case-insensitive literal occurrences of pattern in
// <mark> tags. On any failure the line is returned unmodified.
func highlight(content, pattern string) string {
	if pattern == "" {
		return content
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(pattern))
	if err != nil {
		return content
	}
	return re.ReplaceAllStringFunc(content, func(m string) string {
		return "<mark>" + m + "</mark>"
	})
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
