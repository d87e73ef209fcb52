package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"speech-relay-backend/models"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warnln("failed to write JSON response")
	}
}

// WriteError writes the relay's uniform {"error": message} body.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, models.ErrorResponse{Error: message})
}
