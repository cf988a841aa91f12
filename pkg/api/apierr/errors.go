// Package apierr maps workflow errors to JSON error responses.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrCodeEU/facelogin/pkg/auth"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes not produced by the auth workflows.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

func (e *httpError) Error() string {
	return e.apiError.Message
}

// statusByKind is the HTTP status of each workflow error kind.
var statusByKind = map[auth.ErrorKind]int{
	auth.KindDecode:             http.StatusBadRequest,
	auth.KindNoFace:             http.StatusBadRequest,
	auth.KindEncoding:           http.StatusInternalServerError,
	auth.KindDimensionMismatch:  http.StatusInternalServerError,
	auth.KindDuplicateUsername:  http.StatusBadRequest,
	auth.KindInvalidCredentials: http.StatusUnauthorized,
	auth.KindNoMatch:            http.StatusUnauthorized,
	auth.KindReferenceMissing:   http.StatusNotFound,
	auth.KindNotFound:           http.StatusNotFound,
	auth.KindInvalidInput:       http.StatusBadRequest,
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status WriteError would use for err.
func Status(err error) int {
	return toHTTPError(err).status
}

func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	kind := auth.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
	return &httpError{status, APIError{string(kind), auth.Message(kind)}}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewPayloadTooLargeError creates an upload size error
func NewPayloadTooLargeError() error {
	return &httpError{http.StatusRequestEntityTooLarge, APIError{CodePayloadTooLarge, "Upload exceeds the size limit"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
