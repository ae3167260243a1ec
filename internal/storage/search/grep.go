package search

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/maruel/memd/internal/models"
)

// grepTool drives GNU grep with plain text output. Fallback for hosts
// without ripgrep.
type grepTool struct{}

func (grepTool) Name() string {
	return "grep"
}

func (grepTool) Args(q models.SearchQuery) []string {
	args := []string{"grep", "--recursive", "--line-number", "--with-filename"}
	if !q.CaseSensitive {
		args = append(args, "--ignore-case")
	}
	if q.WholeWords {
		args = append(args, "--word-regexp")
	}
	if q.ContextLines > 0 {
		args = append(args, "--context", strconv.Itoa(q.ContextLines))
	}
	args = append(args, "--include", "*.md")
	// grep has no per-file match cap; Parse enforces it.
	if q.IsRegex {
		args = append(args, "--extended-regexp")
	} else {
		args = append(args, "--fixed-strings")
	}
	return append(args, "--regexp", q.Pattern)
}

// grep emits "path:NN:line" for matches and "path:NN-line" for context
// lines, with bare "--" separators between groups.
var grepLineRe = regexp.MustCompile(`^([^:]+):(\d+)([-:])(.*)$`)

func (grepTool) Parse(output, root string, q models.SearchQuery) []models.SearchResult {
	if strings.TrimSpace(output) == "" {
		return []models.SearchResult{}
	}

	linesByFile := map[string][]rawLine{}
	var order []string

	for line := range strings.SplitSeq(strings.TrimSpace(output), "\n") {
		m := grepLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := m[1]
		number, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if _, seen := linesByFile[path]; !seen {
			order = append(order, path)
		}
		linesByFile[path] = append(linesByFile[path], rawLine{
			number:  number,
			text:    m[4],
			isMatch: m[3] == ":",
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
