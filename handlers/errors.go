package handlers

import (
	"errors"
	"net/http"

	"speech-relay-backend/config"
	"speech-relay-backend/speech"
	"speech-relay-backend/tokencache"
)

// RelayError is a terminal request failure with the status and message
// returned to the caller.
type RelayError struct {
	Status  int
	Message string
	Err     error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RelayError) Unwrap() error { return e.Err }

var errTextRequired = &RelayError{Status: http.StatusBadRequest, Message: "Text is required"}

var errNoCredentials = &RelayError{
	Status:  http.StatusInternalServerError,
	Message: "Azure subscription key or region not set.",
	Err:     config.ErrMissingCredentials,
}

// classify maps errors from the token cache and synthesis client to the
// response the caller sees.
func classify(err error) *RelayError {
	var re *RelayError
	if errors.As(err, &re) {
		return re
	}

	if errors.Is(err, tokencache.ErrTokenIssue) {
		return &RelayError{Status: http.StatusInternalServerError, Message: "Failed to obtain access token", Err: err}
	}

	var se *speech.StatusError
	if errors.As(err, &se) {
		return &RelayError{Status: se.Code, Message: se.Error(), Err: err}
	}

	var te *speech.TransportError
	if errors.As(err, &te) {
		return &RelayError{Status: http.StatusInternalServerError, Message: "Transport error: " + te.Err.Error(), Err: err}
	}

	return &RelayError{Status: http.StatusInternalServerError, Message: "Internal error", Err: err}
}
