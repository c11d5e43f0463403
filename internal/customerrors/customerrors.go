package customerrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrStoreUnavailable     = errors.New("metrics store unavailable")
	ErrUnknownIdentifier    = errors.New("unknown identifier")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrEncodingOverflow     = errors.New("value overflows wire type")
	ErrTextTooLong          = errors.New("display text too long")
	ErrInvalidValue         = errors.New("invalid value")
	ErrKeyNotFound          = errors.New("key not found")
	ErrNotConnected         = errors.New("database not connected")
)

// CommonError represents an error that can be rendered as a JSON HTTP response.
// It carries the HTTP status and a human-readable title/detail.
type CommonError struct {
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Details string `json:"detail"`
}

// HTTPStatus picks the response status for an error coming out of the
// dispatcher or the store.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownIdentifier):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupportedOperation):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes a JSON error response with the given HTTP status code.
// It sets Content-Type to "application/json", selects a default title/detail
// from the status code (see statusText), and overrides the detail when
// customDetail is non-empty.
func WriteError(w http.ResponseWriter, status int, customDetail string) {
	title, defaultDetail := statusText(status)

	detail := defaultDetail
	if customDetail != "" {
		detail = customDetail
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(CommonError{
		Title:   title,
		Status:  status,
		Details: detail,
	})
}

func statusText(status int) (title, detail string) {
	switch status {
	case http.StatusBadRequest:
		return "Validation Error", "The request could not be understood or was missing required parameters"
	case http.StatusNotFound:
		return "Not Found", "The requested identifier is not registered"
	case http.StatusMethodNotAllowed:
		return "Read Only", "Only point reads are supported"
	case http.StatusServiceUnavailable:
		return "Store unavailable", "The metrics store is not attached"
	case http.StatusInternalServerError:
		return "Resource temporarily unavailable", "Resource temporarily unavailable"
	default:
		return http.StatusText(status), "An error occurred while processing the request"
	}
}
