package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/service"
	"github.com/entrhq/reimburse/pkg/types"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends {error, message}; message carries err's text when set.
func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := errorBody{Error: msg}
	if err != nil {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrSessionNotFound),
		errors.Is(err, types.ErrInvalidToken),
		errors.Is(err, types.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, scratch.ErrUploadNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrBrowserUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", service.ErrInvalidInput, err)
	}
	return nil
}

// parseMultipart bounds and parses a multipart body.
func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return fmt.Errorf("%w: invalid multipart body: %v", service.ErrInvalidInput, err)
	}
	return nil
}

// formFile reads an uploaded file. ok is false when the field is absent.
func formFile(r *http.Request, field string) (name, mimeType string, data []byte, ok bool, err error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", "", nil, false, nil
	}
	if err != nil {
		return "", "", nil, false, fmt.Errorf("read %s: %w", field, err)
	}
	defer func() { _ = f.Close() }()

	data, err = io.ReadAll(f)
	if err != nil {
		return "", "", nil, false, fmt.Errorf("read %s: %w", field, err)
	}
	return hdr.Filename, hdr.Header.Get("Content-Type"), data, true, nil
}
