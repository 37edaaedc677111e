package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/memhub/pkg/errs"
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusMapping associates an error kind with an HTTP status
type StatusMapping struct {
	Err    error
	Status int
	Kind   string
}

// statusMappings is checked in order with errors.Is; the first match wins
var statusMappings = []StatusMapping{
	{errs.ErrAuthenticationRequired, http.StatusUnauthorized, "authentication_required"},
	{errs.ErrForbidden, http.StatusForbidden, "forbidden"},
	{errs.ErrInvalidRole, http.StatusBadRequest, "invalid_role"},
	{errs.ErrValidation, http.StatusBadRequest, "validation_error"},
	{errs.ErrNotFound, http.StatusNotFound, "not_found"},
	{errs.ErrConflict, http.StatusConflict, "conflict"},
	{errs.ErrSystemicFailure, http.StatusServiceUnavailable, "systemic_failure"},
	{errs.ErrConfiguration, http.StatusInternalServerError, "configuration_error"},
}

// RegisterStatus adds a mapping for a package-specific error, such as a
// rate limit error answered with 429. It is meant to be called from init.
func RegisterStatus(err error, status int, kind string) {
	statusMappings = append(statusMappings, StatusMapping{Err: err, Status: status, Kind: kind})
}

// StatusFor returns the HTTP status and kind for err
func StatusFor(err error) (int, string) {
	for _, m := range statusMappings {
		if errors.Is(err, m.Err) {
			return m.Status, m.Kind
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorFor writes err with the status its kind maps to.
// Unclassified errors are answered with a generic 500 body.
func WriteErrorFor(w http.ResponseWriter, err error) {
	status, kind := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError && kind == "internal_error" {
		message = "internal server error"
	}
	WriteJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created)
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteAccepted writes an accepted response (202) for work continuing in the background
func WriteAccepted(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusAccepted, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
