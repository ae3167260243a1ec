package handlers

import (
	"errors"
	"testing"

	"github.com/maruel/memd/internal/models"
)

func TestSearchRequestValidate(t *testing.T) {
	t.Parallel()
	r := &SearchRequest{Pattern: "needle"}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}

	r = &SearchRequest{Pattern: ""}
	var apiErr *models.APIError
	if err := r.Validate(); !errors.As(err, &apiErr) || apiErr.Code() != models.ErrorCodeSearchQueryInvalid {
		t.Fatalf("empty pattern: %v", err)
	}

	r = &SearchRequest{Pattern: "x", TimeoutSeconds: 301}
	if err := r.Validate(); err == nil {
		t.Fatal("oversized timeout must fail")
	}

	r = &SearchRequest{Pattern: "[", IsRegex: true}
	if err := r.Validate(); !errors.As(err, &apiErr) || apiErr.Code() != models.ErrorCodeSearchQueryInvalid {
		t.Fatalf("bad regex: %v", err)
	}
}

func TestSearchRequestQueryDefaults(t *testing.T) {
	t.Parallel()
	r := &SearchRequest{Pattern: "needle"}
	q := r.query()
	want := models.DefaultSearchQuery("needle")
	if q != want {
		t.Fatalf("got %+v, want %+v", q, want)
	}

	zero := 0
	r = &SearchRequest{Pattern: "needle", ContextLines: &zero, MaxResults: 5}
	q = r.query()
	if q.ContextLines != 0 {
		t.Fatalf("explicit zero context lost: %+v", q)
	}
	if q.MaxResults != 5 || q.MaxMatchesPerFile != want.MaxMatchesPerFile {
		t.Fatalf("unexpected merge: %+v", q)
	}
}
