// Provides the handler adapter that standardizes request decoding, input
// validation, and error responses.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/memd/internal/models"
)

// maxRequestBody caps request bodies a little above the maximum node size so
// the JSON envelope around maximum-size content still fits.
const maxRequestBody = models.MaxContentSize + 64*1024

// Validatable is implemented by every request type.
type Validatable interface {
	Validate() error
}

// statusCoder lets a response type override the default 200.
type statusCoder interface {
	HTTPStatus() int
}

// Wrap adapts a handler function to an http.Handler. The function must have
// signature func(context.Context, *In) (*Out, error) where In decodes from
// JSON. Path parameters populate fields tagged `path:"name"`, query
// parameters fields tagged `query:"name"`.
func Wrap[In any, PtrIn interface {
	*In
	Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		input := new(In)
		if !readAndDecodeBody(ctx, w, r, input) {
			return
		}
		populatePathParams(r, input)
		populateQueryParams(r, input)

		if err := PtrIn(input).Validate(); err != nil {
			writeError(ctx, w, err)
			return
		}

		output, err := fn(ctx, PtrIn(input))
		writeJSONResponse(ctx, w, output, err)
	})
}

// readAndDecodeBody reads the request body with a size limit and decodes
// JSON into input. Returns false when an error was already written.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apiErr := models.NewAPIError(http.StatusRequestEntityTooLarge, models.ErrorCodeContentInvalid, "request body too large").
				WithDetail("limit", maxBytesErr.Limit)
			writeError(ctx, w, apiErr)
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		writeError(ctx, w, models.BadRequest("failed to read request body"))
		return false
	}

	if len(body) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			slog.DebugContext(ctx, "Failed to decode request body", "err", err)
			writeError(ctx, w, models.BadRequest("invalid request body"))
			return false
		}
	}
	return true
}

// writeJSONResponse writes the handler output, or the mapped error.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if sc, ok := any(output).(statusCoder); ok {
		status = sc.HTTPStatus()
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// writeError maps an error to the standard JSON error response. Errors that
// carry no status map to 500 with their internals hidden.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := models.ErrorCodeInternal
	message := "internal server error"
	var details map[string]any

	var ews models.ErrorWithStatus
	if errors.As(err, &ews) {
		status = ews.StatusCode()
		code = ews.Code()
		message = ews.Error()
		details = ews.Details()
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", status, "code", code)
	} else {
		slog.DebugContext(ctx, "Request rejected", "err", err, "statusCode", status, "code", code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := models.ErrorResponse{
		Error:   models.ErrorDetails{Code: code, Message: message},
		Details: details,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "Failed to encode error response", "err", err)
	}
}

// populatePathParams fills struct fields tagged `path:"name"` from the
// request's path values.
func populatePathParams(r *http.Request, input any) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}

	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("path")
		if tag == "" {
			continue
		}
		if v := r.PathValue(tag); v != "" && typ.Field(i).Type.Kind() == reflect.String {
			elem.Field(i).SetString(v)
		}
	}
}

// populateQueryParams fills struct fields tagged `query:"name"` from the
// request's query string.
func populateQueryParams(r *http.Request, input any) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}

	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("query")
		if tag == "" {
			continue
		}
		v := query.Get(tag)
		if v == "" {
			continue
		}
		fieldVal := elem.Field(i)
		switch typ.Field(i).Type.Kind() {
		case reflect.String:
			fieldVal.SetString(v)
		case reflect.Int:
			if n, err := strconv.Atoi(v); err == nil {
				fieldVal.SetInt(int64(n))
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(v); err == nil {
				fieldVal.SetBool(b)
			}
		}
	}
}
