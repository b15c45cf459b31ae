// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/folio-cms/folio/internal/middleware"
)

// envelope is the shape of every JSON response body.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ServiceInfo is returned by GET /.
type ServiceInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Env     string `json:"env"`
}

// Handler serves the service root and fallback responses.
type Handler struct {
	info ServiceInfo
}

// New creates a new Handler instance.
func New(version, env string) *Handler {
	return &Handler{info: ServiceInfo{Service: "folio", Version: version, Env: env}}
}

// Hello reports what is serving.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.info)
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeData wraps data in a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	middleware.WriteError(w, status, message)
}

// decodeJSON decodes a request body into dst. The returned status is the
// one to respond with when decoding fails.
func decodeJSON(r *http.Request, dst any) (int, error) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, err
		}
		return http.StatusBadRequest, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return http.StatusBadRequest, errors.New("request body must contain a single JSON object")
	}
	return 0, nil
}

func writeDecodeError(w http.ResponseWriter, status int) {
	if status == http.StatusRequestEntityTooLarge {
		writeError(w, status, "Request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body")
}
