// Package handler implements the HTTP surface: account endpoints, device
// management and the WebSocket gateway handshake.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shelter/internal/apperr"
	"github.com/shelter/internal/logger"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeAppError(w http.ResponseWriter, e *apperr.Error) {
	writeJSON(w, e.StatusCode, e)
}

// decodeBody parses a JSON request body into dst with a size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}
