package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"tinred-agent/internal/app"

	"github.com/go-chi/chi/v5"
)

// Base64 voice notes run ~1.3x the raw size; 8 MiB covers a multi-minute
// WhatsApp audio with JSON framing to spare.
const maxRequestBody = 8 << 20

// Handler is the HTTP adapter over the conversation service. It implements
// the webhook surface a WhatsApp gateway posts inbound messages to.
type Handler struct {
	service app.ConversationService
	router  chi.Router
}

func NewHandler(service app.ConversationService, allowedOrigins string) *Handler {
	h := &Handler{service: service}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(maxRequestBody))

	r.Get("/api/health", h.health)
	r.Post("/api/converse", h.converse)

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) converse(w http.ResponseWriter, r *http.Request) {
	var req app.ConverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large", "body_too_large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid JSON body", "invalid_body")
		return
	}
	if req.Phone == "" {
		writeError(w, r, http.StatusBadRequest, "phone is required", "missing_phone")
		return
	}

	res, err := h.service.Converse(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not process the message", "converse_failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
