// internal/leads/handler.go
package leads

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gymledger/internal/membership"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// ConvertResponse is the body of POST /leads/{id}/convert.
type ConvertResponse struct {
	Lead   *Lead              `json:"lead"`
	Member *membership.Member `json:"member"`
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/leads", func(r chi.Router) {
		r.Post("/", h.handleCapture)
		r.Get("/", h.handleList)
		r.Get("/stats", h.handleStats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Post("/convert", h.handleConvert)
		})
	})
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lead, err := h.service.Capture(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	membership.WriteJSON(w, http.StatusCreated, lead)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	leads, err := h.service.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	membership.WriteJSON(w, http.StatusOK, leads)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	membership.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.leadID(w, r)
	if !ok {
		return
	}
	lead, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	membership.WriteJSON(w, http.StatusOK, lead)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.leadID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lead, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	membership.WriteJSON(w, http.StatusOK, lead)
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.leadID(w, r)
	if !ok {
		return
	}
	var req membership.EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lead, member, err := h.service.Convert(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	membership.WriteJSON(w, http.StatusCreated, ConvertResponse{Lead: lead, Member: member})
}

func (h *Handler) leadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid lead ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := membership.StatusCode(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		http.Error(w, "internal error", status)
		return
	}
	membership.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
