package entitystore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/starford/arkeimport/internal/apperr"
)

// APIError is a non-2xx response from the store.
type APIError struct {
	Status  int
	Message string
	Details any
	kind    error
}

func (e *APIError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("entitystore: %d %s: %s (details: %v)", e.Status, e.kind, e.Message, e.Details)
	}
	return fmt.Sprintf("entitystore: %d %s: %s", e.Status, e.kind, e.Message)
}

// Unwrap exposes the classification (apperr.ErrValidation, ErrNotFound,
// ErrConflict or ErrAPI).
func (e *APIError) Unwrap() error { return e.kind }

// classify maps an HTTP status to its error class.
func classify(status int) error {
	switch status {
	case http.StatusBadRequest:
		return apperr.ErrValidation
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusConflict:
		return apperr.ErrConflict
	default:
		return apperr.ErrAPI
	}
}

// decodeError builds an APIError from resp. Non-JSON bodies become the
// message verbatim.
func decodeError(resp *http.Response) *APIError {
	e := &APIError{Status: resp.StatusCode, kind: classify(resp.StatusCode)}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		e.Message = body.Message
		e.Details = body.Details
		return e
	}
	e.Message = string(raw)
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
