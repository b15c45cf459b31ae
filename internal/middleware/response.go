package middleware

import (
	"encoding/json"
	"net/http"
)

// Error messages returned by middleware. They are deliberately generic.
const (
	msgUnauthenticated = "Unauthenticated"
	msgForbidden       = "Forbidden"
	msgInternal        = "Internal server error"
	msgTooManyRequests = "Too many requests"
)

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteError writes a failure envelope with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: message})
}
