package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// BodyValidator checks a raw request body against a named schema.
type BodyValidator interface {
	Validate(schema string, body []byte) error
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Handler struct {
	svc       Service
	validator BodyValidator
	schema    string
	log       *slog.Logger
}

// NewHandler serves POST /auth/login. validator may be nil.
func NewHandler(svc Service, validator BodyValidator, schema string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, schema: schema, log: log}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if h.validator != nil {
		if err := h.validator.Validate(h.schema, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	var req LoginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing username or password")
		return
	}
	tok, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.log.Warn("operator login rejected", "username", req.Username)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	h.log.Info("operator logged in", "username", req.Username)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tok)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
