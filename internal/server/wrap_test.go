package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maruel/memd/internal/models"
)

type echoRequest struct {
	Name    string `path:"name" json:"-"`
	Limit   int    `query:"limit" json:"-"`
	Verbose bool   `query:"verbose" json:"-"`
	Body    string `json:"body"`
}

func (r *echoRequest) Validate() error {
	if r.Name == "reject" {
		return models.BadRequest("rejected by validation")
	}
	return nil
}

type echoResponse struct {
	Name    string `json:"name"`
	Limit   int    `json:"limit"`
	Verbose bool   `json:"verbose"`
	Body    string `json:"body"`
}

type createdResponse struct{}

func (createdResponse) HTTPStatus() int { return http.StatusCreated }

type emptyResponse struct{}

func (emptyResponse) HTTPStatus() int { return http.StatusNoContent }

func echoHandler(_ context.Context, r *echoRequest) (*echoResponse, error) {
	return &echoResponse{Name: r.Name, Limit: r.Limit, Verbose: r.Verbose, Body: r.Body}, nil
}

func TestWrapPopulatesParams(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.Handle("GET /echo/{name}", Wrap(echoHandler))

	r := httptest.NewRequest(http.MethodGet, "/echo/alpha?limit=7&verbose=true", strings.NewReader(`{"body":"hi"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[echoResponse](t, w)
	want := echoResponse{Name: "alpha", Limit: 7, Verbose: true, Body: "hi"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWrapValidationError(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.Handle("GET /echo/{name}", Wrap(echoHandler))

	r := httptest.NewRequest(http.MethodGet, "/echo/reject", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[models.ErrorResponse](t, w)
	if resp.Error.Code != models.ErrorCodeValidationFailed || resp.Error.Message != "rejected by validation" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestWrapStatusCoder(t *testing.T) {
	t.Parallel()
	h := Wrap(func(_ context.Context, _ *echoRequest) (*createdResponse, error) {
		return &createdResponse{}, nil
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}

	h = Wrap(func(_ context.Context, _ *echoRequest) (*emptyResponse, error) {
		return &emptyResponse{}, nil
	})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("204 must not carry a body, got %q", w.Body.String())
	}
}

func TestWrapHidesInternalErrors(t *testing.T) {
	t.Parallel()
	h := Wrap(func(_ context.Context, _ *echoRequest) (*echoResponse, error) {
		return nil, errors.New("dial tcp 10.0.0.1: connection refused")
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.1") {
		t.Fatalf("internals leaked: %s", w.Body.String())
	}
	resp := decode[models.ErrorResponse](t, w)
	if resp.Error.Code != models.ErrorCodeInternal {
		t.Fatalf("code = %q", resp.Error.Code)
	}
}

func TestWrapBodyTooLarge(t *testing.T) {
	t.Parallel()
	h := Wrap(echoHandler)
	body := `{"body":"` + strings.Repeat("a", maxRequestBody) + `"}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[models.ErrorResponse](t, w)
	if resp.Error.Code != models.ErrorCodeContentInvalid {
		t.Fatalf("code = %q", resp.Error.Code)
	}
}

func TestWrapMalformedJSON(t *testing.T) {
	t.Parallel()
	h := Wrap(echoHandler)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}
