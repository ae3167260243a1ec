package models

import (
	"regexp"
	"time"
)

// SearchQuery describes one content search request.
type SearchQuery struct {
	Pattern           string `json:"pattern"`
	IsRegex           bool   `json:"is_regex"`
	CaseSensitive     bool   `json:"case_sensitive"`
	WholeWords        bool   `json:"whole_words"`
	ContextLines      int    `json:"context_lines"`
	MaxResults        int    `json:"max_results"`
	MaxMatchesPerFile int    `json:"max_matches_per_file"`
}

// DefaultSearchQuery returns a query with the default knobs for pattern.
func DefaultSearchQuery(pattern string) SearchQuery {
	return SearchQuery{
		Pattern:           pattern,
		ContextLines:      2,
		MaxResults:        50,
		MaxMatchesPerFile: 10,
	}
}

// Validate checks the query invariants: non-empty pattern of at most 1000
// characters, no control characters, bounded knobs, and a compilable pattern
// when IsRegex is set.
func (q *SearchQuery) Validate() error {
	if q.Pattern == "" {
		return SearchQueryInvalid("pattern is empty")
	}
	if len(q.Pattern) > 1000 {
		return SearchQueryInvalid("pattern too long (max 1000 characters)")
	}
	for _, r := range q.Pattern {
		if r < 0x20 && r != '\t' || r == 0x7f {
			return SearchQueryInvalid("pattern contains control characters")
		}
	}
	if q.ContextLines < 0 || q.ContextLines > 10 {
		return SearchQueryInvalid("context_lines must be between 0 and 10")
	}
	if q.MaxResults < 1 || q.MaxResults > 1000 {
		return SearchQueryInvalid("max_results must be between 1 and 1000")
	}
	if q.MaxMatchesPerFile < 1 || q.MaxMatchesPerFile > 100 {
		return SearchQueryInvalid("max_matches_per_file must be between 1 and 100")
	}
	if q.IsRegex {
		if _, err := regexp.Compile(q.Pattern); err != nil {
			return SearchQueryInvalid("invalid regex pattern").Wrap(err)
		}
	}
	return nil
}

// SearchMatch is a single matched line within a file.
type SearchMatch struct {
	LineNumber         int      `json:"line_number"`
	LineContent        string   `json:"line_content"`
	HighlightedContent string   `json:"highlighted_content"`
	ContextBefore      []string `json:"context_before"`
	ContextAfter       []string `json:"context_after"`
}

// SearchResult groups the matches found in one file.
type SearchResult struct {
	Path         string        `json:"path"`
	RelativePath string        `json:"relative_path"`
	Matches      []SearchMatch `json:"matches"`
	TotalMatches int           `json:"total_matches"`
}

// SearchSummary aggregates results across all matched files.
type SearchSummary struct {
	Query            string         `json:"query"`
	FilesWithMatches int            `json:"files_with_matches"`
	TotalMatches     int            `json:"total_matches"`
	Elapsed          time.Duration  `json:"-"`
	ElapsedMS        float64        `json:"search_time_ms"`
	Backend          string         `json:"backend_used"`
	Results          []SearchResult `json:"results"`
	Truncated        bool           `json:"truncated"`
}
