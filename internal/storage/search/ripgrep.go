package search

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/maruel/memd/internal/models"
)

// ripgrepTool drives rg with --json output.
type ripgrepTool struct{}

func (ripgrepTool) Name() string {
	return "ripgrep"
}

func (ripgrepTool) Args(q models.SearchQuery) []string {
	args := []string{"rg", "--json", "--with-filename", "--line-number", "--no-heading"}
	if !q.CaseSensitive {
		args = append(args, "--ignore-case")
	}
	if q.WholeWords {
		args = append(args, "--word-regexp")
	}
	if q.ContextLines > 0 {
		args = append(args, "--context", strconv.Itoa(q.ContextLines))
	}
	args = append(args, "--max-count", strconv.Itoa(q.MaxMatchesPerFile))
	args = append(args, "--glob", "*.md")
	if !q.IsRegex {
		args = append(args, "--fixed-strings")
	}
	// --regexp keeps a pattern starting with "-" from being read as a flag.
	return append(args, "--regexp", q.Pattern)
}

// rgEvent is one line of rg --json output. Only match and context events are
// consumed; begin/end/summary events are skipped.
type rgEvent struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		Lines struct {
			Text string `json:"text"`
		} `json:"lines"`
		LineNumber int `json:"line_number"`
	} `json:"data"`
}

func (ripgrepTool) Parse(output, root string, q models.SearchQuery) []models.SearchResult {
	linesByFile := map[string][]rawLine{}
	var order []string

	for line := range strings.SplitSeq(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		var ev rgEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Type != "match" && ev.Type != "context" {
			continue
		}
		path := ev.Data.Path.Text
		if _, seen := linesByFile[path]; !seen {
			order = append(order, path)
		}
		linesByFile[path] = append(linesByFile[path], rawLine{
			number:  ev.Data.LineNumber,
			text:    strings.TrimSuffix(ev.Data.Lines.Text, "\n"),
			isMatch: ev.Type == "match",
		})
	}

	results := []models.SearchResult{}
	for _, path := range order {
		if len(results) >= q.MaxResults {
			break
		}
		results = append(results, buildResult(path, relativeTo(root, path), linesByFile[path], q))
	}
	return results
}
