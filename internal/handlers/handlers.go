// Package handlers serves the operator and webhook HTTP surface.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/inaiurai/bidengine/internal/services"
)

// BodyValidator checks a raw request body against a named schema.
type BodyValidator interface {
	Validate(schema string, body []byte) error
}

const maxBody = 1 << 16

// readValidated reads the body and validates it. On failure it has already
// written the response and returns ok=false.
func readValidated(w http.ResponseWriter, r *http.Request, v BodyValidator, schema string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	if v != nil {
		if err := v.Validate(schema, body); err != nil {
			if errors.Is(err, services.ErrValidation) {
				writeError(w, http.StatusBadRequest, err.Error())
				return nil, false
			}
			writeError(w, http.StatusInternalServerError, "validation unavailable")
			return nil, false
		}
	}
	return body, true
}

// Healthz is the unauthenticated liveness probe.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
